package bundler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// producer swaps SOL to USDC on raydium, consumer swaps USDC to BONK on orca
func producerConsumer() (Opportunity, Opportunity) {
	producer := testOpportunity("producer", StrategyArbitrage, "raydium", "0.03", "0.002", 3,
		leg("SOL", LegIn, "1"), leg("USDC", LegOut, "140"))
	consumer := testOpportunity("consumer", StrategyArbitrage, "orca", "0.02", "0.002", 3,
		leg("USDC", LegIn, "140"), leg("BONK", LegOut, "5000000"))
	return producer, consumer
}

func TestBuildGraph_TokenFlow(t *testing.T) {
	producer, consumer := producerConsumer()

	// submitted in reverse order
	g := BuildGraph([]Opportunity{consumer, producer})
	require.Equal(t, 2, g.Size())
	require.Equal(t, []DependencyEdge{{From: 1, To: 0, Kind: EdgeTokenFlow}}, g.Edges())
	require.Equal(t, []int{1}, g.Dependencies(0))
	require.Empty(t, g.Dependencies(1))

	require.False(t, g.IsValidOrder([]int{0, 1}))
	require.True(t, g.IsValidOrder([]int{1, 0}))
	require.Equal(t, []int{1, 0}, g.Repair([]int{0, 1}))
	require.NoError(t, g.Acyclic())
}

func TestBuildGraph_Liquidity(t *testing.T) {
	a := testOpportunity("a", StrategySwap, "raydium", "0.01", "0.001", 2, leg("SOL", LegIn, "1"))
	b := testOpportunity("b", StrategySwap, "raydium", "0.01", "0.001", 2, leg("SOL", LegIn, "2"))
	c := testOpportunity("c", StrategySwap, "orca", "0.01", "0.001", 2, leg("SOL", LegIn, "3"))

	g := BuildGraph([]Opportunity{a, b, c})
	require.Equal(t, []DependencyEdge{{From: 0, To: 1, Kind: EdgeLiquidity}}, g.Edges())
	require.Equal(t, "liquidity", EdgeLiquidity.String())
}

func TestBuildGraph_RoundTripKeepsLowerIndexEdge(t *testing.T) {
	// both arbitrages go SOL -> USDC -> SOL
	a := testOpportunity("a", StrategyArbitrage, "raydium", "0.02", "0.002", 3,
		leg("SOL", LegIn, "1"), leg("SOL", LegOut, "1.02"))
	b := testOpportunity("b", StrategyArbitrage, "raydium", "0.03", "0.002", 3,
		leg("SOL", LegIn, "2"), leg("SOL", LegOut, "2.03"))

	g := BuildGraph([]Opportunity{a, b})
	require.Equal(t, []DependencyEdge{{From: 0, To: 1, Kind: EdgeTokenFlow}}, g.Edges())
	require.False(t, g.HasCycle())
}

func TestDependencyGraph_IsValidOrder(t *testing.T) {
	producer, consumer := producerConsumer()
	g := BuildGraph([]Opportunity{producer, consumer})

	testCases := map[string]struct {
		order []int
		valid bool
	}{
		"valid":         {order: []int{0, 1}, valid: true},
		"edge violated": {order: []int{1, 0}},
		"too short":     {order: []int{0}},
		"duplicate":     {order: []int{0, 0}},
		"out of range":  {order: []int{0, 2}},
		"negative":      {order: []int{-1, 0}},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.valid, g.IsValidOrder(testCase.order))
		})
	}
}

func chainOpportunities(n int) []Opportunity {
	mints := []string{"SOL", "USDC", "JUP", "BONK", "WIF", "RAY", "MSOL", "USDT", "PYTH", "ORCA", "JTO"}
	opps := make([]Opportunity, 0, n)
	for i := 0; i < n; i++ {
		venue := "raydium"
		if i%2 == 1 {
			venue = "orca"
		}
		opps = append(opps, testOpportunity(mints[i%len(mints)], StrategyArbitrage, venue, "0.01", "0.001", 3,
			leg(mints[i%len(mints)], LegIn, "1"), leg(mints[(i+1)%len(mints)], LegOut, "1")))
	}
	return opps
}

func TestDependencyGraph_Repair(t *testing.T) {
	opps := chainOpportunities(6)
	g := BuildGraph(opps)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		order := rng.Perm(len(opps))
		repaired := g.Repair(order)
		require.True(t, g.IsValidOrder(repaired), "order %v repaired to %v", order, repaired)
		// repairing a valid order changes nothing
		require.Equal(t, repaired, g.Repair(repaired))
	}

	// missing and invalid nodes
	repaired := g.Repair([]int{5, 9, 5, -1})
	require.True(t, g.IsValidOrder(repaired))
	require.Len(t, repaired, 6)
}

func TestDependencyGraph_Cycle(t *testing.T) {
	// a produces what b consumes and b produces what c consumes and c produces what a consumes
	a := testOpportunity("a", StrategySwap, "raydium", "0.01", "0.001", 2, leg("SOL", LegIn, "1"), leg("USDC", LegOut, "1"))
	b := testOpportunity("b", StrategySwap, "orca", "0.01", "0.001", 2, leg("USDC", LegIn, "1"), leg("JUP", LegOut, "1"))
	c := testOpportunity("c", StrategySwap, "meteora", "0.01", "0.001", 2, leg("JUP", LegIn, "1"), leg("SOL", LegOut, "1"))

	g := BuildGraph([]Opportunity{a, b, c})
	require.True(t, g.HasCycle())
	require.ErrorIs(t, g.Acyclic(), ErrDependencyCycle)

	repaired := g.Repair([]int{2, 1, 0})
	require.Len(t, repaired, 3)
	require.False(t, g.IsValidOrder(repaired))
}
