package bundler

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBuildBundle_Accepted(t *testing.T) {
	opps := solArbitrageGroup()
	graph := BuildGraph(opps)
	require.Empty(t, graph.Edges())

	bundle := BuildBundle(opps, []int{1, 0, 2}, graph, 10, testNow)
	require.Equal(t, []string{"arb-2", "arb-1", "arb-3"}, bundle.IDs())
	require.Equal(t, 3, bundle.Size())
	require.True(t, bundle.TotalProfit.Equal(decimal.RequireFromString("0.06")))
	require.True(t, bundle.TotalGas.Equal(decimal.RequireFromString("0.005")))
	require.True(t, bundle.NetProfit.Equal(decimal.RequireFromString("0.055")))
	require.True(t, bundle.Tip.Equal(decimal.RequireFromString("0.0055")))
	require.InDelta(t, 12.0, bundle.GasEfficiency, 1e-9)
	require.InDelta(t, 3.0, bundle.AvgRisk, 1e-9)
	require.Equal(t, 0.005, bundle.MaxSlippage)
	require.Equal(t, 6*time.Second, bundle.EstimatedExecutionTime)
	require.Equal(t, BundleConstructed, bundle.Status)
	require.Equal(t, testNow, bundle.CreatedAt)
	require.Equal(t, []string{"orca", "raydium", "meteora"}, bundle.Venues())
	require.Equal(t, 3, bundle.CountStrategy(StrategyArbitrage))

	require.NoError(t, ValidateBundle(bundle, testEngineConfig()))
}

func TestBuildBundle_Plan(t *testing.T) {
	producer, consumer := producerConsumer()
	opps := []Opportunity{consumer, producer}
	graph := BuildGraph(opps)

	bundle := BuildBundle(opps, []int{1, 0}, graph, 10, testNow)
	require.Equal(t, []ExecutionStep{
		{Index: 0, OpportunityID: "producer", Action: "arbitrage on raydium", DependsOn: []int{}, Rollback: RollbackReverseSwap},
		{Index: 1, OpportunityID: "consumer", Action: "arbitrage on orca", DependsOn: []int{0}, Rollback: RollbackReverseSwap},
	}, bundle.Plan)
}

func TestBuildBundle_NoTipWithoutNetProfit(t *testing.T) {
	opps := []Opportunity{testOpportunity("loss", StrategySwap, "orca", "0.001", "0.002", 1, leg("SOL", LegIn, "1"))}
	bundle := BuildBundle(opps, []int{0}, BuildGraph(opps), 10, testNow)
	require.True(t, bundle.NetProfit.IsNegative())
	require.True(t, bundle.Tip.IsZero())
}

func TestValidateBundle(t *testing.T) {
	lowMinProfit := testEngineConfig()
	lowMinProfit.MinBundleProfit = decimal.Zero

	testCases := map[string]struct {
		opps        []Opportunity
		cfg         EngineConfig
		expectedErr error
	}{
		"accepted": {
			opps: solArbitrageGroup(),
			cfg:  testEngineConfig(),
		},
		"unprofitable": {
			opps:        []Opportunity{testOpportunity("a", StrategySwap, "orca", "0.04", "0.001", 1, leg("SOL", LegIn, "1"))},
			cfg:         testEngineConfig(),
			expectedErr: RejectUnprofitable,
		},
		"poor gas efficiency": {
			// efficiency 1.5
			opps:        []Opportunity{testOpportunity("a", StrategySwap, "orca", "0.015", "0.01", 1, leg("SOL", LegIn, "1"))},
			cfg:         lowMinProfit,
			expectedErr: RejectPoorGasEfficiency,
		},
		"risk too high": {
			opps:        []Opportunity{testOpportunity("a", StrategySwap, "orca", "0.5", "0.01", 8, leg("SOL", LegIn, "1"))},
			cfg:         testEngineConfig(),
			expectedErr: RejectRiskTooHigh,
		},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			bundle := BuildBundle(testCase.opps, identityOrder(len(testCase.opps)), BuildGraph(testCase.opps), 10, testNow)
			before := *bundle
			err := ValidateBundle(bundle, testCase.cfg)
			if testCase.expectedErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, testCase.expectedErr)
				var reason RejectionReason
				require.True(t, errors.As(err, &reason))
			}
			require.Equal(t, before, *bundle)
		})
	}
	require.Equal(t, "bundle rejected: poor gas efficiency", RejectPoorGasEfficiency.Error())
}

func TestBundleHash(t *testing.T) {
	single := BundleHash([]string{"opp-1"})
	require.Equal(t, keccak([]byte("opp-1")), single)

	ab := BundleHash([]string{"a", "b"})
	ba := BundleHash([]string{"b", "a"})
	require.NotEqual(t, ab, ba)
	require.Equal(t, ab, BundleHash([]string{"a", "b"}))

	opps := solArbitrageGroup()
	bundle := BuildBundle(opps, []int{0, 1, 2}, BuildGraph(opps), 10, testNow)
	require.Equal(t, BundleHash([]string{"arb-1", "arb-2", "arb-3"}), bundle.Hash)
}

func TestBundle_Copy(t *testing.T) {
	producer, consumer := producerConsumer()
	opps := []Opportunity{producer, consumer}
	bundle := BuildBundle(opps, []int{0, 1}, BuildGraph(opps), 10, testNow)

	cp := bundle.Copy()
	require.Equal(t, bundle, cp)

	cp.Opportunities[0].Legs[0].Mint = "WIF"
	cp.Plan[1].DependsOn[0] = 7
	require.Equal(t, "SOL", bundle.Opportunities[0].Legs[0].Mint)
	require.Equal(t, []int{0}, bundle.Plan[1].DependsOn)
}

func TestEstimateExecutionTime(t *testing.T) {
	require.Equal(t, 2*time.Second, EstimateExecutionTime(1))
	require.Equal(t, 20*time.Second, EstimateExecutionTime(10))
	require.Equal(t, 80*time.Second, EstimateExecutionTime(20))
}

func TestRollbackFor(t *testing.T) {
	require.Equal(t, RollbackSameTxRepayment, RollbackFor(StrategyFlashLoan))
	require.Equal(t, RollbackExecuteBackrun, RollbackFor(StrategySandwich))
	require.Equal(t, RollbackNone, RollbackFor(StrategyUnknown))
}
