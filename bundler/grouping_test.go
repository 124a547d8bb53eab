package bundler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// three arbitrages touching SOL, profits [0.02, 0.03, 0.01], gas [0.002, 0.002, 0.001], risk [3, 4, 2]
func solArbitrageGroup() []Opportunity {
	return []Opportunity{
		testOpportunity("arb-1", StrategyArbitrage, "raydium", "0.02", "0.002", 3,
			leg("SOL", LegIn, "1"), leg("USDC", LegOut, "140")),
		testOpportunity("arb-2", StrategyArbitrage, "orca", "0.03", "0.002", 4,
			leg("SOL", LegIn, "2"), leg("JUP", LegOut, "300")),
		testOpportunity("arb-3", StrategyArbitrage, "meteora", "0.01", "0.001", 2,
			leg("SOL", LegIn, "0.5"), leg("BONK", LegOut, "2500000")),
	}
}

func TestRelated(t *testing.T) {
	base := testOpportunity("a", StrategySwap, "raydium", "0.01", "0.001", 2, leg("SOL", LegIn, "1"))

	testCases := map[string]struct {
		other   Opportunity
		related bool
	}{
		"shared mint": {
			other:   testOpportunity("b", StrategySwap, "orca", "0.01", "0.001", 2, leg("SOL", LegOut, "1")),
			related: true,
		},
		"same venue within window": {
			other:   testOpportunity("b", StrategySwap, "raydium", "0.01", "0.001", 2, leg("JUP", LegIn, "1")),
			related: true,
		},
		"unrelated": {
			other: testOpportunity("b", StrategySwap, "orca", "0.01", "0.001", 2, leg("JUP", LegIn, "1")),
		},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.related, related(&base, &testCase.other))
			require.Equal(t, testCase.related, related(&testCase.other, &base))
		})
	}

	// same venue outside of the discovery window
	late := testOpportunity("late", StrategySwap, "raydium", "0.01", "0.001", 2, leg("JUP", LegIn, "1"))
	late.DiscoveredAt = testNow.Add(RelatedDiscoveryWindow + time.Second)
	require.False(t, related(&base, &late))

	liquidation := testOpportunity("liq", StrategyLiquidation, "solend", "0.1", "0.01", 5, leg("MSOL", LegIn, "1"))
	flashLoan := testOpportunity("fl", StrategyFlashLoan, "marginfi", "0.1", "0.01", 5, leg("USDT", LegIn, "1"))
	require.True(t, related(&liquidation, &flashLoan))
}

func TestPartition(t *testing.T) {
	group := solArbitrageGroup()
	loner := testOpportunity("loner", StrategySwap, "phoenix", "0.5", "0.001", 1, leg("WIF", LegIn, "1"))
	pool := []Opportunity{group[0], loner, group[1], group[2]}

	parts := partition(pool)
	require.Len(t, parts, 1)
	require.Len(t, parts[0], 3)
	require.Equal(t, "arb-1", parts[0][0].ID)
	require.Equal(t, "arb-3", parts[0][2].ID)
}

func TestNewGroup(t *testing.T) {
	g := newGroup(solArbitrageGroup())
	require.Equal(t, "0.06", g.TotalProfit.String())
	require.Equal(t, "0.005", g.TotalGas.String())
	require.InDelta(t, 3.0, g.AvgRisk, 1e-9)
	require.InDelta(t, maxSynergy, g.Synergy, 1e-9)
	require.Equal(t, []string{"arb-1", "arb-2", "arb-3"}, g.IDs())

	expectedScore := groupProfitWeight*0.06 + groupRiskWeight*7 + groupEfficiencyWeight*12 + groupSynergyWeight*1
	require.InDelta(t, expectedScore, g.Score, 1e-6)
}

func TestGroupCandidates(t *testing.T) {
	cheap := []Opportunity{
		testOpportunity("swap-1", StrategySwap, "phoenix", "0.04", "0.004", 2, leg("WIF", LegIn, "1")),
		testOpportunity("swap-2", StrategySwap, "lifinity", "0.04", "0.004", 2, leg("WIF", LegOut, "1")),
	}
	pool := append(solArbitrageGroup(), cheap...)

	t.Run("ranked", func(t *testing.T) {
		cfg := testEngineConfig()
		candidates := GroupCandidates(pool, cfg)
		require.Len(t, candidates, 2)
		require.Equal(t, "arb-1", candidates[0].Opportunities[0].ID)
		require.Greater(t, candidates[0].Score, candidates[1].Score)

		best, ok := SelectGroup(pool, cfg)
		require.True(t, ok)
		require.Equal(t, candidates[0].IDs(), best.IDs())
	})

	testCases := map[string]struct {
		modify   func(cfg *EngineConfig)
		expected int
	}{
		"too many transactions": {
			modify:   func(cfg *EngineConfig) { cfg.MaxBundleTxs = 2 },
			expected: 1,
		},
		"too much gas": {
			modify:   func(cfg *EngineConfig) { cfg.MaxBundleGas = decimal.RequireFromString("0.007") },
			expected: 1,
		},
		"too little profit": {
			modify:   func(cfg *EngineConfig) { cfg.MinBundleProfit = decimal.RequireFromString("0.09") },
			expected: 0,
		},
		"too risky": {
			modify:   func(cfg *EngineConfig) { cfg.RiskTolerance = 2.5 },
			expected: 1,
		},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := testEngineConfig()
			testCase.modify(&cfg)
			require.Len(t, GroupCandidates(pool, cfg), testCase.expected)
		})
	}

	_, ok := SelectGroup(nil, testEngineConfig())
	require.False(t, ok)
}
