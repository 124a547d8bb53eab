package bundler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptimizerConfig() OptimizerConfig {
	cfg := DefaultConfig().Optimizer
	cfg.Generations = 20
	cfg.PopulationSize = 20
	cfg.AnnealIterations = 200
	return cfg
}

// randomGroup returns n opportunities on distinct venues where every even opportunity
// produces the token consumed by the next one
func randomGroup(rng *rand.Rand, n int) []Opportunity {
	opps := make([]Opportunity, n)
	for i := 0; i < n; i++ {
		var legs []TokenLeg
		if i%2 == 0 {
			legs = []TokenLeg{leg(fmt.Sprintf("M%d", i), LegIn, "1"), leg(fmt.Sprintf("M%d", i+1), LegOut, "1")}
		} else {
			legs = []TokenLeg{leg(fmt.Sprintf("M%d", i), LegIn, "1"), leg(fmt.Sprintf("Y%d", i), LegOut, "1")}
		}
		profit := decimal.NewFromFloat(0.001 + rng.Float64()*0.05).Round(6)
		gas := decimal.NewFromFloat(0.0005 + rng.Float64()*0.002).Round(6)
		opps[i] = testOpportunity(fmt.Sprintf("opp-%d", i), StrategyKind(1+rng.Intn(5)), fmt.Sprintf("venue-%d", i),
			profit.String(), gas.String(), rng.Float64()*10, legs...)
	}
	return opps
}

func TestSelectAlgorithm(t *testing.T) {
	require.Equal(t, AlgorithmGreedy, SelectAlgorithm(2))
	require.Equal(t, AlgorithmGreedy, SelectAlgorithm(GreedyMaxGroupSize))
	require.Equal(t, AlgorithmGenetic, SelectAlgorithm(GreedyMaxGroupSize+1))
	require.Equal(t, AlgorithmGenetic, SelectAlgorithm(GeneticMaxGroupSize))
	require.Equal(t, AlgorithmAnnealing, SelectAlgorithm(GeneticMaxGroupSize+1))
}

func TestOrderScore(t *testing.T) {
	small := testOpportunity("small", StrategySwap, "orca", "0.01", "0.001", 1, leg("SOL", LegIn, "1"))
	large := testOpportunity("large", StrategySwap, "raydium", "0.03", "0.001", 1, leg("USDC", LegIn, "1"))
	opps := []Opportunity{small, large}

	// front-loading profit is rewarded
	require.Greater(t, OrderScore(opps, []int{1, 0}), OrderScore(opps, []int{0, 1}))

	risky1 := testOpportunity("r1", StrategySwap, "orca", "0.01", "0.001", 8, leg("SOL", LegIn, "1"))
	risky2 := testOpportunity("r2", StrategySwap, "orca", "0.01", "0.001", 9, leg("SOL", LegIn, "1"))
	safe := testOpportunity("s", StrategySwap, "orca", "0.01", "0.001", 1, leg("SOL", LegIn, "1"))
	opps = []Opportunity{risky1, risky2, safe}
	require.InDelta(t, riskClusterPenalty, OrderScore(opps, []int{0, 2, 1})-OrderScore(opps, []int{0, 1, 2}), 1e-9)
}

func TestOptimizer_DependencyOrder(t *testing.T) {
	producer, consumer := producerConsumer()
	// submitted in reverse order, the producer has to go first
	opps := []Opportunity{consumer, producer}
	graph := BuildGraph(opps)

	for _, alg := range []Algorithm{AlgorithmGreedy, AlgorithmGenetic, AlgorithmAnnealing} {
		t.Run(string(alg), func(t *testing.T) {
			optimizer := NewOptimizer(zap.NewNop(), testOptimizerConfig(), rand.New(rand.NewSource(42)))
			ordering := optimizer.OptimizeWith(alg, opps, graph)
			require.Equal(t, []int{1, 0}, ordering.Order)
			require.Equal(t, alg, ordering.Algorithm)
		})
	}
}

func TestOptimizer_NeverWorseThanInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{4, 9, 15} {
		opps := randomGroup(rng, n)
		graph := BuildGraph(opps)
		require.NoError(t, graph.Acyclic())
		inputScore := OrderScore(opps, graph.Repair(identityOrder(n)))

		for _, alg := range []Algorithm{AlgorithmGreedy, AlgorithmGenetic, AlgorithmAnnealing} {
			t.Run(fmt.Sprintf("%s-%d", alg, n), func(t *testing.T) {
				optimizer := NewOptimizer(zap.NewNop(), testOptimizerConfig(), rand.New(rand.NewSource(1)))
				ordering := optimizer.OptimizeWith(alg, opps, graph)
				require.True(t, graph.IsValidOrder(ordering.Order))
				require.GreaterOrEqual(t, ordering.Score, inputScore)
				require.InDelta(t, OrderScore(opps, ordering.Order), ordering.Score, 1e-9)
				require.NotEmpty(t, ordering.Source)
			})
		}
	}
}

func TestOptimizer_Deterministic(t *testing.T) {
	opps := randomGroup(rand.New(rand.NewSource(3)), 10)
	graph := BuildGraph(opps)

	first := NewOptimizer(zap.NewNop(), testOptimizerConfig(), rand.New(rand.NewSource(99))).Optimize(opps, graph)
	second := NewOptimizer(zap.NewNop(), testOptimizerConfig(), rand.New(rand.NewSource(99))).Optimize(opps, graph)
	require.Equal(t, AlgorithmGenetic, first.Algorithm)
	require.Equal(t, first, second)
}

func TestOptimizer_SingleOpportunity(t *testing.T) {
	opps := []Opportunity{testOpportunity("only", StrategySwap, "orca", "0.01", "0.001", 1, leg("SOL", LegIn, "1"))}
	ordering := NewOptimizer(zap.NewNop(), testOptimizerConfig(), nil).Optimize(opps, BuildGraph(opps))
	require.Equal(t, []int{0}, ordering.Order)
	require.Equal(t, "input", ordering.Source)
}

func TestHeuristicOrders(t *testing.T) {
	opps := []Opportunity{
		testOpportunity("swap", StrategySwap, "orca", "0.01", "0.001", 5, leg("SOL", LegIn, "1")),
		testOpportunity("flash", StrategyFlashLoan, "solend", "0.02", "0.010", 1, leg("USDC", LegIn, "1")),
		testOpportunity("arb", StrategyArbitrage, "raydium", "0.03", "0.001", 3, leg("JUP", LegIn, "1")),
	}
	orders := make(map[string][]int)
	for _, h := range heuristicOrders(opps) {
		orders[h.name] = h.order
	}
	require.Equal(t, []int{2, 1, 0}, orders["profit-desc"])
	require.Equal(t, []int{1, 2, 0}, orders["risk-asc"])
	require.Equal(t, []int{1, 2, 0}, orders["strategy-priority"])
	require.Equal(t, []int{2, 0, 1}, orders["efficiency-desc"])
}
