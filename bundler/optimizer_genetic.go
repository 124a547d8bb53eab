package bundler

import (
	"math"
	"sort"
)

type individual struct {
	order   []int
	fitness float64
}

// genetic runs a permutation genetic search. Offspring that break dependencies are repaired,
// the best individual seen in any generation is returned.
func (o *Optimizer) genetic(opps []Opportunity, graph *DependencyGraph, scorer *orderScorer, seed []int) []int {
	n := len(opps)
	popSize := o.cfg.PopulationSize

	population := make([]individual, 0, popSize)
	add := func(order []int) {
		if !graph.IsValidOrder(order) {
			order = graph.Repair(order)
		}
		population = append(population, individual{order: order, fitness: scorer.score(order)})
	}
	add(cloneOrder(seed))
	for _, h := range heuristicOrders(opps) {
		if len(population) >= popSize {
			break
		}
		add(h.order)
	}
	for len(population) < popSize {
		add(o.rng.Perm(n))
	}

	best := population[0]
	for _, ind := range population[1:] {
		if ind.fitness > best.fitness {
			best = ind
		}
	}

	eliteCount := int(math.Round(float64(popSize) * o.cfg.EliteRatio))
	if eliteCount < 1 {
		eliteCount = 1
	}

	for gen := 0; gen < o.cfg.Generations; gen++ {
		sort.SliceStable(population, func(i, j int) bool {
			return population[i].fitness > population[j].fitness
		})

		next := make([]individual, 0, popSize)
		for i := 0; i < eliteCount && i < len(population); i++ {
			next = append(next, population[i])
		}
		for len(next) < popSize {
			parent1 := o.tournament(population)
			parent2 := o.tournament(population)
			child := o.orderCrossover(parent1.order, parent2.order)
			if o.rng.Float64() < o.cfg.MutationRate {
				o.swapRandom(child)
			}
			if !graph.IsValidOrder(child) {
				child = graph.Repair(child)
			}
			ind := individual{order: child, fitness: scorer.score(child)}
			if ind.fitness > best.fitness {
				best = ind
			}
			next = append(next, ind)
		}
		population = next
	}
	return cloneOrder(best.order)
}

func (o *Optimizer) tournament(population []individual) individual {
	winner := population[o.rng.Intn(len(population))]
	for i := 1; i < o.cfg.TournamentSize; i++ {
		challenger := population[o.rng.Intn(len(population))]
		if challenger.fitness > winner.fitness {
			winner = challenger
		}
	}
	return winner
}

// orderCrossover copies a random slice of parent1 into the child and fills the rest
// with the missing genes in the order they appear in parent2
func (o *Optimizer) orderCrossover(parent1, parent2 []int) []int {
	n := len(parent1)
	child := make([]int, n)
	start := o.rng.Intn(n)
	end := start + o.rng.Intn(n-start)

	used := make(map[int]struct{}, n)
	for i := start; i <= end; i++ {
		child[i] = parent1[i]
		used[parent1[i]] = struct{}{}
	}

	pos := 0
	for _, gene := range parent2 {
		if _, ok := used[gene]; ok {
			continue
		}
		for pos >= start && pos <= end {
			pos++
		}
		child[pos] = gene
		pos++
	}
	return child
}
