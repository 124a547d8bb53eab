package bundler

import (
	"math/rand"
	"sort"
	"time"

	"github.com/flashbots/mev-bundler/metrics"
	"go.uber.org/zap"
)

type Algorithm string

const (
	AlgorithmGreedy    Algorithm = "greedy"
	AlgorithmGenetic   Algorithm = "genetic"
	AlgorithmAnnealing Algorithm = "annealing"
)

const (
	riskClusterPenalty    = 5.0
	orderEfficiencyWeight = 10.0

	stepSameVenueSynergy  = 1.0
	stepSharedMintSynergy = 2.0
)

// Ordering is the result of the order search, Order holds indexes into the group
type Ordering struct {
	Order     []int
	Score     float64
	Algorithm Algorithm
	// Source is the algorithm or heuristic that produced the winning order
	Source string
}

// SelectAlgorithm picks the search algorithm by group size
func SelectAlgorithm(n int) Algorithm {
	switch {
	case n <= GreedyMaxGroupSize:
		return AlgorithmGreedy
	case n <= GeneticMaxGroupSize:
		return AlgorithmGenetic
	default:
		return AlgorithmAnnealing
	}
}

type orderScorer struct {
	profits []float64
	risks   []float64
	// order independent part of the score
	efficiencyBonus float64
}

func newOrderScorer(opps []Opportunity) *orderScorer {
	s := &orderScorer{
		profits: make([]float64, len(opps)),
		risks:   make([]float64, len(opps)),
	}
	totalProfit, totalGas := 0.0, 0.0
	for i := range opps {
		s.profits[i] = opps[i].profit()
		s.risks[i] = opps[i].RiskScore
		totalProfit += s.profits[i]
		totalGas += opps[i].gas()
	}
	s.efficiencyBonus = orderEfficiencyWeight * efficiencyRatio(totalProfit, totalGas)
	return s
}

func (s *orderScorer) score(order []int) float64 {
	score := 0.0
	running := 0.0
	for i, idx := range order {
		running += s.profits[idx]
		score += running / float64(i+1)
		if i > 0 && s.risks[order[i-1]] > HighRiskOpportunityScore && s.risks[idx] > HighRiskOpportunityScore {
			score -= riskClusterPenalty
		}
	}
	return score + s.efficiencyBonus
}

// OrderScore is the fitness shared by all search algorithms:
// cumulative profit that rewards front-loading, penalty for adjacent high risk transactions
// and the gas efficiency of the whole group
func OrderScore(opps []Opportunity, order []int) float64 {
	return newOrderScorer(opps).score(order)
}

// Optimizer searches for the best dependency-valid ordering of a group.
// Optimizer is not safe for concurrent use because of the random source.
type Optimizer struct {
	log *zap.Logger
	cfg OptimizerConfig
	rng *rand.Rand
}

func NewOptimizer(log *zap.Logger, cfg OptimizerConfig, rng *rand.Rand) *Optimizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	return &Optimizer{
		log: log.Named("optimizer"),
		cfg: cfg,
		rng: rng,
	}
}

func (o *Optimizer) Optimize(opps []Opportunity, graph *DependencyGraph) Ordering {
	return o.OptimizeWith(SelectAlgorithm(len(opps)), opps, graph)
}

// OptimizeWith runs the given algorithm, then checks the input order and cheap heuristic orders
// and returns the best valid one
func (o *Optimizer) OptimizeWith(alg Algorithm, opps []Opportunity, graph *DependencyGraph) Ordering {
	startAt := time.Now()
	defer func() {
		metrics.RecordOptimizationDuration(string(alg), time.Since(startAt).Milliseconds())
	}()

	scorer := newOrderScorer(opps)
	initial := graph.Repair(identityOrder(len(opps)))
	best := Ordering{
		Order:     initial,
		Score:     scorer.score(initial),
		Algorithm: alg,
		Source:    "input",
	}
	if len(opps) < 2 {
		return best
	}

	consider := func(order []int, source string) {
		if !graph.IsValidOrder(order) {
			return
		}
		if score := scorer.score(order); score > best.Score {
			best.Order = order
			best.Score = score
			best.Source = source
		}
	}

	switch alg {
	case AlgorithmGreedy:
		consider(o.greedy(opps, graph), string(alg))
	case AlgorithmGenetic:
		consider(o.genetic(opps, graph, scorer, initial), string(alg))
	case AlgorithmAnnealing:
		consider(o.anneal(graph, scorer, initial), string(alg))
	}

	for _, h := range heuristicOrders(opps) {
		consider(graph.Repair(h.order), h.name)
	}

	o.log.Debug("Optimized bundle order",
		zap.String("algorithm", string(alg)),
		zap.String("source", best.Source),
		zap.Float64("score", best.Score),
		zap.Ints("order", best.Order),
		zap.Duration("duration", time.Since(startAt)),
	)
	return best
}

type heuristicOrder struct {
	name  string
	order []int
}

// strategyPriority is the declared execution priority, higher goes first
func strategyPriority(kind StrategyKind) int {
	switch kind {
	case StrategyFlashLoan:
		return 5
	case StrategyLiquidation:
		return 4
	case StrategyArbitrage:
		return 3
	case StrategySandwich:
		return 2
	case StrategySwap:
		return 1
	default:
		return 0
	}
}

func heuristicOrders(opps []Opportunity) []heuristicOrder {
	sorted := func(less func(a, b *Opportunity) bool) []int {
		order := identityOrder(len(opps))
		sort.SliceStable(order, func(i, j int) bool {
			return less(&opps[order[i]], &opps[order[j]])
		})
		return order
	}
	return []heuristicOrder{
		{"profit-desc", sorted(func(a, b *Opportunity) bool {
			return a.Profit.GreaterThan(b.Profit)
		})},
		{"risk-asc", sorted(func(a, b *Opportunity) bool {
			return a.RiskScore < b.RiskScore
		})},
		{"strategy-priority", sorted(func(a, b *Opportunity) bool {
			return strategyPriority(a.Strategy) > strategyPriority(b.Strategy)
		})},
		{"efficiency-desc", sorted(func(a, b *Opportunity) bool {
			return efficiencyRatio(a.profit(), a.gas()) > efficiencyRatio(b.profit(), b.gas())
		})},
	}
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func cloneOrder(order []int) []int {
	return append([]int(nil), order...)
}

// swapRandom swaps two distinct random positions in place
func (o *Optimizer) swapRandom(order []int) {
	if len(order) < 2 {
		return
	}
	i := o.rng.Intn(len(order))
	j := o.rng.Intn(len(order) - 1)
	if j >= i {
		j++
	}
	order[i], order[j] = order[j], order[i]
}
