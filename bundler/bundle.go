package bundler

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// RollbackStrategy is what an executor does if a step of the bundle fails
type RollbackStrategy string

const (
	RollbackReverseSwap        RollbackStrategy = "reverse-swap-on-counter-venue"
	RollbackReturnBorrowed     RollbackStrategy = "return-borrowed-funds"
	RollbackExecuteBackrun     RollbackStrategy = "execute-backrun-unconditionally"
	RollbackSameTxRepayment    RollbackStrategy = "same-transaction-repayment"
	RollbackSlippageProtection RollbackStrategy = "slippage-protection"
	RollbackNone               RollbackStrategy = "none"
)

func RollbackFor(kind StrategyKind) RollbackStrategy {
	switch kind {
	case StrategyArbitrage:
		return RollbackReverseSwap
	case StrategyLiquidation:
		return RollbackReturnBorrowed
	case StrategySandwich:
		return RollbackExecuteBackrun
	case StrategyFlashLoan:
		return RollbackSameTxRepayment
	case StrategySwap:
		return RollbackSlippageProtection
	default:
		return RollbackNone
	}
}

type ExecutionStep struct {
	Index         int    `json:"index"`
	OpportunityID string `json:"opportunityId"`
	Action        string `json:"action"`
	// DependsOn holds the indexes of the steps that must be executed before this one
	DependsOn []int            `json:"dependsOn"`
	Rollback  RollbackStrategy `json:"rollback"`
}

// Bundle is an ordered set of opportunities that are executed atomically.
// Opportunities are stored in execution order and are owned by the bundle.
type Bundle struct {
	Hash                   common.Hash     `json:"hash"`
	Opportunities          []Opportunity   `json:"opportunities"`
	TotalProfit            decimal.Decimal `json:"totalProfit"`
	TotalGas               decimal.Decimal `json:"totalGas"`
	NetProfit              decimal.Decimal `json:"netProfit"`
	Tip                    decimal.Decimal `json:"tip"`
	AvgRisk                float64         `json:"avgRisk"`
	MaxSlippage            float64         `json:"maxSlippage"`
	GasEfficiency          float64         `json:"gasEfficiency"`
	EstimatedExecutionTime time.Duration   `json:"estimatedExecutionTime"`
	Plan                   []ExecutionStep `json:"plan"`
	Status                 BundleStatus    `json:"status"`
	CreatedAt              time.Time       `json:"createdAt"`
}

func (b *Bundle) IDs() []string {
	ids := make([]string, len(b.Opportunities))
	for i, opp := range b.Opportunities {
		ids[i] = opp.ID
	}
	return ids
}

func (b *Bundle) Size() int {
	return len(b.Opportunities)
}

// Venues returns the distinct venues used by the bundle
func (b *Bundle) Venues() []string {
	seen := make(map[string]struct{})
	res := make([]string, 0)
	for _, opp := range b.Opportunities {
		if _, ok := seen[opp.Venue]; ok {
			continue
		}
		seen[opp.Venue] = struct{}{}
		res = append(res, opp.Venue)
	}
	return res
}

func (b *Bundle) CountStrategy(kind StrategyKind) int {
	count := 0
	for _, opp := range b.Opportunities {
		if opp.Strategy == kind {
			count++
		}
	}
	return count
}

// Copy returns a deep copy of the bundle, so it can be handed out without sharing opportunities
func (b *Bundle) Copy() *Bundle {
	res := *b
	res.Opportunities = make([]Opportunity, len(b.Opportunities))
	for i, opp := range b.Opportunities {
		res.Opportunities[i] = opp.clone()
	}
	res.Plan = make([]ExecutionStep, len(b.Plan))
	for i, step := range b.Plan {
		step.DependsOn = append([]int(nil), step.DependsOn...)
		res.Plan[i] = step
	}
	return &res
}

// BundleHash is keccak256 over the keccak256 hashes of the opportunity ids
func BundleHash(ids []string) common.Hash {
	if len(ids) == 1 {
		return keccak([]byte(ids[0]))
	}
	hasher := sha3.NewLegacyKeccak256()
	for _, id := range ids {
		h := keccak([]byte(id))
		hasher.Write(h[:])
	}
	return common.BytesToHash(hasher.Sum(nil))
}

func keccak(data []byte) common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	return common.BytesToHash(hasher.Sum(nil))
}

// EstimateExecutionTime is the base time per transaction scaled superlinearly for large bundles
func EstimateExecutionTime(n int) time.Duration {
	scale := float64(n) * 0.1
	if scale < 1 {
		scale = 1
	}
	return time.Duration(float64(BaseExecutionTimePerTx) * float64(n) * scale)
}

// BuildBundle creates a bundle from the group opportunities executed in the given order.
// order must be valid for graph.
func BuildBundle(opps []Opportunity, order []int, graph *DependencyGraph, tipPercent int, now time.Time) *Bundle {
	b := &Bundle{
		Opportunities: make([]Opportunity, 0, len(order)),
		TotalProfit:   decimal.Zero,
		TotalGas:      decimal.Zero,
		Plan:          make([]ExecutionStep, 0, len(order)),
		Status:        BundleConstructed,
		CreatedAt:     now,
	}

	position := make(map[int]int, len(order))
	for p, idx := range order {
		position[idx] = p
	}

	risk := 0.0
	for p, idx := range order {
		opp := opps[idx].clone()
		b.Opportunities = append(b.Opportunities, opp)
		b.TotalProfit = b.TotalProfit.Add(opp.Profit)
		b.TotalGas = b.TotalGas.Add(opp.GasCost)
		risk += opp.RiskScore
		if opp.Slippage > b.MaxSlippage {
			b.MaxSlippage = opp.Slippage
		}

		dependsOn := make([]int, 0)
		if graph != nil {
			for _, dep := range graph.Dependencies(idx) {
				dependsOn = append(dependsOn, position[dep])
			}
		}
		b.Plan = append(b.Plan, ExecutionStep{
			Index:         p,
			OpportunityID: opp.ID,
			Action:        fmt.Sprintf("%s on %s", opp.Strategy, opp.Venue),
			DependsOn:     dependsOn,
			Rollback:      RollbackFor(opp.Strategy),
		})
	}

	n := len(b.Opportunities)
	b.NetProfit = b.TotalProfit.Sub(b.TotalGas)
	if n > 0 {
		b.AvgRisk = risk / float64(n)
	}
	b.GasEfficiency = efficiencyRatio(b.TotalProfit.InexactFloat64(), b.TotalGas.InexactFloat64())
	b.EstimatedExecutionTime = EstimateExecutionTime(n)
	if b.NetProfit.IsPositive() {
		b.Tip = b.NetProfit.Mul(decimal.NewFromInt(int64(tipPercent))).Div(decimal.NewFromInt(100))
	} else {
		b.Tip = decimal.Zero
	}
	b.Hash = BundleHash(b.IDs())
	return b
}
