package bundler

import "math"

// anneal runs simulated annealing starting from seed, neighbours are random pairwise swaps
func (o *Optimizer) anneal(graph *DependencyGraph, scorer *orderScorer, seed []int) []int {
	current := cloneOrder(seed)
	currentScore := scorer.score(current)
	best := cloneOrder(current)
	bestScore := currentScore

	temperature := o.cfg.InitialTemperature
	for i := 0; i < o.cfg.AnnealIterations && temperature >= MinAnnealTemperature; i++ {
		candidate := cloneOrder(current)
		o.swapRandom(candidate)
		if !graph.IsValidOrder(candidate) {
			candidate = graph.Repair(candidate)
		}
		score := scorer.score(candidate)
		delta := score - currentScore
		if delta > 0 || o.rng.Float64() < math.Exp(delta/temperature) {
			current = candidate
			currentScore = score
		}
		if currentScore > bestScore {
			best = cloneOrder(current)
			bestScore = currentScore
		}
		temperature *= o.cfg.CoolingRate
	}
	return best
}
