package kernels

import (
	"math"

	"github.com/sbl8/loopy/core"
)

// pairwiseF2V is the specialized degree-2 update, the hot path for grid
// models. For each factor with matrix pot and incoming messages in0, in1:
//
//	f2v0[a] = reduce_b(pot[a,b] + in1[b])
//	f2v1[b] = reduce_a(pot[a,b] + in0[a])
//
// which equals the reduction of M[a,b] = pot + in0[a] + in1[b] minus the
// slot's own incoming message.
func pairwiseF2V(g *core.GroupDesc, logPot, v2f, f2v []float64, temp float64) {
	sums := make([]float64, maxEdgeStates(g))

	for f := 0; f < g.NumFactors; f++ {
		edges := g.FactorEdges(f)
		e0, e1 := edges[0], edges[1]
		k1, k2 := int(e0.States), int(e1.States)
		pot := g.FactorLogPot(logPot, f)
		in0 := v2f[e0.Offset : e0.Offset+e0.States]
		in1 := v2f[e1.Offset : e1.Offset+e1.States]
		out0 := f2v[e0.Offset : e0.Offset+e0.States]
		out1 := f2v[e1.Offset : e1.Offset+e1.States]

		// Row reduction into out0.
		for a := 0; a < k1; a++ {
			row := pot[a*k2 : (a+1)*k2]
			m := NegInf
			for b := 0; b < k2; b++ {
				if s := row[b] + in1[b]; s > m {
					m = s
				}
			}
			if temp > 0 && !math.IsInf(m, -1) {
				var s float64
				for b := 0; b < k2; b++ {
					s += math.Exp((row[b] + in1[b] - m) / temp)
				}
				m += temp * math.Log(s)
			}
			out0[a] = m
		}

		// Column reduction into out1, fixed a-ascending order.
		for b := 0; b < k2; b++ {
			out1[b] = NegInf
			sums[b] = 0
		}
		for a := 0; a < k1; a++ {
			row := pot[a*k2 : (a+1)*k2]
			for b := 0; b < k2; b++ {
				if s := row[b] + in0[a]; s > out1[b] {
					out1[b] = s
				}
			}
		}
		if temp > 0 {
			for a := 0; a < k1; a++ {
				row := pot[a*k2 : (a+1)*k2]
				for b := 0; b < k2; b++ {
					if !math.IsInf(out1[b], -1) {
						sums[b] += math.Exp((row[b] + in0[a] - out1[b]) / temp)
					}
				}
			}
			for b := 0; b < k2; b++ {
				if !math.IsInf(out1[b], -1) {
					out1[b] += temp * math.Log(sums[b])
				}
			}
		}
	}
}

// pairwiseGrad subtracts the pairwise factors' smoothed joint marginals.
func pairwiseGrad(g *core.GroupDesc, logPot, mu, grad []float64, temp float64) {
	score := make([]float64, g.LogPotStride)
	w := make([]float64, g.LogPotStride)

	for f := 0; f < g.NumFactors; f++ {
		edges := g.FactorEdges(f)
		e0, e1 := edges[0], edges[1]
		k1, k2 := int(e0.States), int(e1.States)
		pot := g.FactorLogPot(logPot, f)
		for a := 0; a < k1; a++ {
			for b := 0; b < k2; b++ {
				score[a*k2+b] = pot[a*k2+b] - mu[e0.Offset+int32(a)] - mu[e1.Offset+int32(b)]
			}
		}
		SoftmaxTempInto(w, score, temp)
		for a := 0; a < k1; a++ {
			for b := 0; b < k2; b++ {
				q := w[a*k2+b]
				if q == 0 {
					continue
				}
				grad[e0.Offset+int32(a)] -= q
				grad[e1.Offset+int32(b)] -= q
			}
		}
	}
}

// pairwiseObjective sums the factors' soft maxima over the score matrices.
func pairwiseObjective(g *core.GroupDesc, logPot, mu []float64, temp float64) float64 {
	score := make([]float64, g.LogPotStride)
	total := 0.0
	for f := 0; f < g.NumFactors; f++ {
		edges := g.FactorEdges(f)
		e0, e1 := edges[0], edges[1]
		k1, k2 := int(e0.States), int(e1.States)
		pot := g.FactorLogPot(logPot, f)
		for a := 0; a < k1; a++ {
			for b := 0; b < k2; b++ {
				score[a*k2+b] = pot[a*k2+b] - mu[e0.Offset+int32(a)] - mu[e1.Offset+int32(b)]
			}
		}
		total += LogSumExpTemp(score, temp)
	}
	return total
}

// pairwiseEnergy reads the matrix entry at the joint assignment.
func pairwiseEnergy(g *core.GroupDesc, logPot []float64, f int, assign []int32) float64 {
	edges := g.FactorEdges(f)
	a := assign[edges[0].Var]
	b := assign[edges[1].Var]
	return g.FactorLogPot(logPot, f)[a*edges[1].States+b]
}
