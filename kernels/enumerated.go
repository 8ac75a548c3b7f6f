package kernels

import (
	"math"

	"github.com/sbl8/loopy/core"
)

// maxEdgeStates returns the largest per-slot state count in the group, used
// to size reduction scratch once per kernel call.
func maxEdgeStates(g *core.GroupDesc) int {
	m := 0
	for _, e := range g.Edges {
		if int(e.States) > m {
			m = int(e.States)
		}
	}
	return m
}

// enumeratedScores fills score with factor f's per-configuration scores:
// the log-potential row plus the signed sum of per-slot messages. sign is +1
// for message updates (messages add to the score) and -1 for the dual, where
// the local score subtracts the dual variables.
func enumeratedScores(g *core.GroupDesc, pot, msgs []float64, f int, sign float64, score []float64) {
	edges := g.FactorEdges(f)
	arity := g.Arity
	for c := 0; c < g.NumConfigs; c++ {
		s := pot[c]
		row := g.Configs[c*arity : (c+1)*arity]
		for i := range edges {
			s += sign * msgs[edges[i].Offset+row[i]]
		}
		score[c] = s
	}
}

// enumeratedF2V computes factor-to-variable messages for a generic
// enumerated group: per outgoing slot, the scores are reduced over all
// configurations sharing each state, then the slot's own incoming message is
// subtracted to keep the result extrinsic.
func enumeratedF2V(g *core.GroupDesc, logPot, v2f, f2v []float64, temp float64) {
	arity := g.Arity
	score := make([]float64, g.NumConfigs)
	sums := make([]float64, maxEdgeStates(g))

	for f := 0; f < g.NumFactors; f++ {
		edges := g.FactorEdges(f)
		enumeratedScores(g, g.FactorLogPot(logPot, f), v2f, f, +1, score)

		for si := range edges {
			e := edges[si]
			out := f2v[e.Offset : e.Offset+e.States]
			for x := range out {
				out[x] = NegInf
			}
			// Max pass; ascending configuration order keeps the lowest index
			// on ties at temperature zero.
			for c := 0; c < g.NumConfigs; c++ {
				x := g.Configs[c*arity+si]
				if score[c] > out[x] {
					out[x] = score[c]
				}
			}
			if temp > 0 {
				ssum := sums[:e.States]
				for x := range ssum {
					ssum[x] = 0
				}
				for c := 0; c < g.NumConfigs; c++ {
					x := g.Configs[c*arity+si]
					if !math.IsInf(out[x], -1) {
						ssum[x] += math.Exp((score[c] - out[x]) / temp)
					}
				}
				for x := range out {
					if !math.IsInf(out[x], -1) {
						out[x] += temp * math.Log(ssum[x])
					}
				}
			}
			for x := range out {
				out[x] -= v2f[e.Offset+int32(x)]
			}
		}
	}
}

// enumeratedGrad subtracts each factor's smoothed configuration distribution,
// marginalized per slot, from the gradient array.
func enumeratedGrad(g *core.GroupDesc, logPot, mu, grad []float64, temp float64) {
	arity := g.Arity
	score := make([]float64, g.NumConfigs)
	w := make([]float64, g.NumConfigs)

	for f := 0; f < g.NumFactors; f++ {
		edges := g.FactorEdges(f)
		enumeratedScores(g, g.FactorLogPot(logPot, f), mu, f, -1, score)
		SoftmaxTempInto(w, score, temp)
		for c := 0; c < g.NumConfigs; c++ {
			if w[c] == 0 {
				continue
			}
			row := g.Configs[c*arity : (c+1)*arity]
			for i := range edges {
				grad[edges[i].Offset+row[i]] -= w[c]
			}
		}
	}
}

// enumeratedObjective sums the factors' soft maxima over local scores.
func enumeratedObjective(g *core.GroupDesc, logPot, mu []float64, temp float64) float64 {
	score := make([]float64, g.NumConfigs)
	total := 0.0
	for f := 0; f < g.NumFactors; f++ {
		enumeratedScores(g, g.FactorLogPot(logPot, f), mu, f, -1, score)
		total += LogSumExpTemp(score, temp)
	}
	return total
}

// enumeratedEnergy looks up the configuration matching the assignment; an
// assignment outside the table has log-potential -inf.
func enumeratedEnergy(g *core.GroupDesc, logPot []float64, f int, assign []int32) float64 {
	edges := g.FactorEdges(f)
	arity := g.Arity
	pot := g.FactorLogPot(logPot, f)
	for c := 0; c < g.NumConfigs; c++ {
		row := g.Configs[c*arity : (c+1)*arity]
		match := true
		for i := range edges {
			if assign[edges[i].Var] != row[i] {
				match = false
				break
			}
		}
		if match {
			return pot[c]
		}
	}
	return NegInf
}
