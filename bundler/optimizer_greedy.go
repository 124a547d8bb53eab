package bundler

import "math"

// greedy builds the order step by step, each time picking the ready opportunity
// with the best profit/gas ratio plus synergy with the previous step
func (o *Optimizer) greedy(opps []Opportunity, graph *DependencyGraph) []int {
	n := len(opps)
	placed := make([]bool, n)
	order := make([]int, 0, n)

	ready := func(i int) bool {
		for _, dep := range graph.preds[i] {
			if !placed[dep] {
				return false
			}
		}
		return true
	}

	for len(order) < n {
		next := -1
		bestValue := math.Inf(-1)
		for i := 0; i < n; i++ {
			if placed[i] || !ready(i) {
				continue
			}
			value := efficiencyRatio(opps[i].profit(), opps[i].gas())
			if len(order) > 0 {
				value += stepSynergy(&opps[order[len(order)-1]], &opps[i])
			}
			if value > bestValue {
				bestValue = value
				next = i
			}
		}
		if next == -1 {
			// nothing is ready, only possible with a cycle
			return graph.Repair(order)
		}
		placed[next] = true
		order = append(order, next)
	}
	return order
}

func stepSynergy(prev, next *Opportunity) float64 {
	synergy := 0.0
	if prev.Venue == next.Venue {
		synergy += stepSameVenueSynergy
	}
	if prev.SharesMint(next) {
		synergy += stepSharedMintSynergy
	}
	return synergy
}
