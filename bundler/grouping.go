package bundler

import (
	"sort"

	"github.com/shopspring/decimal"
)

const (
	groupProfitWeight     = 40.0
	groupRiskWeight       = 2.0
	groupEfficiencyWeight = 20.0
	groupSynergyWeight    = 20.0

	synergyPerKind        = 0.1
	synergyPerOverlapPair = 0.2
	synergyVenueDiversity = 0.3
	maxSynergy            = 1.0
	maxEfficiencyRatio    = 1e6
	minGroupSize          = 2
)

// Group is a set of related opportunities that can be bundled together
type Group struct {
	Opportunities []Opportunity
	TotalProfit   decimal.Decimal
	TotalGas      decimal.Decimal
	AvgRisk       float64
	Synergy       float64
	Score         float64
}

func (g *Group) IDs() []string {
	ids := make([]string, len(g.Opportunities))
	for i, opp := range g.Opportunities {
		ids[i] = opp.ID
	}
	return ids
}

// efficiencyRatio is profit / gas, zero gas counts as a very efficient trade
func efficiencyRatio(profit, gas float64) float64 {
	if gas <= 0 {
		if profit > 0 {
			return maxEfficiencyRatio
		}
		return 0
	}
	return profit / gas
}

func complementary(a, b StrategyKind) bool {
	switch {
	case a == StrategyArbitrage && b == StrategySandwich, a == StrategySandwich && b == StrategyArbitrage:
		return true
	case a == StrategyLiquidation && b == StrategyFlashLoan, a == StrategyFlashLoan && b == StrategyLiquidation:
		return true
	}
	return false
}

func related(a, b *Opportunity) bool {
	if a.SharesMint(b) {
		return true
	}
	if a.Venue == b.Venue {
		diff := a.DiscoveredAt.Sub(b.DiscoveredAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= RelatedDiscoveryWindow {
			return true
		}
	}
	return complementary(a.Strategy, b.Strategy)
}

type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (uf unionFind) find(i int) int {
	for uf[i] != i {
		uf[i] = uf[uf[i]]
		i = uf[i]
	}
	return i
}

func (uf unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	// smaller root wins so groups keep the pool order
	if ra < rb {
		uf[rb] = ra
	} else {
		uf[ra] = rb
	}
}

// partition splits the pool into groups of related opportunities of size >= 2
func partition(pool []Opportunity) [][]Opportunity {
	uf := newUnionFind(len(pool))
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if related(&pool[i], &pool[j]) {
				uf.union(i, j)
			}
		}
	}

	members := make(map[int][]Opportunity)
	roots := make([]int, 0)
	for i := range pool {
		root := uf.find(i)
		if _, ok := members[root]; !ok {
			roots = append(roots, root)
		}
		members[root] = append(members[root], pool[i])
	}

	res := make([][]Opportunity, 0, len(roots))
	for _, root := range roots {
		if len(members[root]) >= minGroupSize {
			res = append(res, members[root])
		}
	}
	return res
}

// groupSynergy rewards strategy diversity, token overlap between pairs and venue diversity
func groupSynergy(opps []Opportunity) float64 {
	kinds := make(map[StrategyKind]struct{})
	venues := make(map[string]struct{})
	for _, opp := range opps {
		kinds[opp.Strategy] = struct{}{}
		venues[opp.Venue] = struct{}{}
	}
	synergy := synergyPerKind * float64(len(kinds))
	for i := 0; i < len(opps); i++ {
		for j := i + 1; j < len(opps); j++ {
			if opps[i].SharesMint(&opps[j]) {
				synergy += synergyPerOverlapPair
			}
		}
	}
	if len(venues) > 1 {
		synergy += synergyVenueDiversity
	}
	return min(synergy, maxSynergy)
}

func newGroup(opps []Opportunity) Group {
	g := Group{
		Opportunities: opps,
		TotalProfit:   decimal.Zero,
		TotalGas:      decimal.Zero,
	}
	risk := 0.0
	for _, opp := range opps {
		g.TotalProfit = g.TotalProfit.Add(opp.Profit)
		g.TotalGas = g.TotalGas.Add(opp.GasCost)
		risk += opp.RiskScore
	}
	if len(opps) > 0 {
		g.AvgRisk = risk / float64(len(opps))
	}
	g.Synergy = groupSynergy(opps)

	profit := g.TotalProfit.InexactFloat64()
	g.Score = groupProfitWeight*profit +
		groupRiskWeight*(MaxRiskScore-g.AvgRisk) +
		groupEfficiencyWeight*efficiencyRatio(profit, g.TotalGas.InexactFloat64()) +
		groupSynergyWeight*g.Synergy
	return g
}

func (g *Group) satisfies(cfg *EngineConfig) bool {
	switch {
	case len(g.Opportunities) > cfg.MaxBundleTxs:
		return false
	case g.TotalProfit.LessThan(cfg.MinBundleProfit):
		return false
	case g.TotalGas.GreaterThan(cfg.MaxBundleGas):
		return false
	case g.AvgRisk > cfg.RiskTolerance:
		return false
	}
	return true
}

// GroupCandidates partitions the pool, scores the groups and drops the ones violating bundle limits.
// Groups are returned best first.
func GroupCandidates(pool []Opportunity, cfg EngineConfig) []Group {
	parts := partition(pool)
	res := make([]Group, 0, len(parts))
	for _, part := range parts {
		g := newGroup(part)
		if !g.satisfies(&cfg) {
			continue
		}
		res = append(res, g)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Score > res[j].Score
	})
	return res
}

// SelectGroup returns the best group of the pool, false means there is nothing to bundle
func SelectGroup(pool []Opportunity, cfg EngineConfig) (Group, bool) {
	candidates := GroupCandidates(pool, cfg)
	if len(candidates) == 0 {
		return Group{}, false
	}
	return candidates[0], true
}
