package kernels

import (
	"math"

	"github.com/sbl8/loopy/core"
)

// Logical factors (child = OR(parents), child = AND(parents)) update in O(n)
// per factor. With per-parent log-odds d_i = m_i(on) - m_i(off), the soft
// mass of "at least one parent on" is T*log(prod_i(1+exp(d_i/T)) - 1), and
// leave-one-out variants drop one softplus term from the product. The
// 2^(n+1) configuration table is never formed.
//
// An AND factor is the OR factor with every variable's states swapped, so
// the AND kernels run the OR routines through flipped views.

// logicalFactor gathers one factor's messages in OR orientation. When flip
// is set, states 0 and 1 swap on read and on write, turning OR into AND.
// sign scales messages on read: +1 for message updates, -1 for the dual,
// whose local scores subtract the dual variables.
type logicalFactor struct {
	edges []core.EdgeDesc
	n     int // parent count; child is slot n
	flip  bool

	mc0, mc1 float64 // child off/on

	off []float64 // per-parent off message
	d   []float64 // on - off
	sp  []float64 // softplus_T(d)

	a    float64 // sum of off messages
	p    float64 // sum of softplus terms
	max1 float64 // largest log-odds
	max2 float64 // second largest, -inf for single-parent factors
	idx1 int     // index of max1
}

func (lf *logicalFactor) load(edges []core.EdgeDesc, msgs []float64, temp, sign float64, flip bool) {
	lf.edges = edges
	lf.n = len(edges) - 1
	lf.flip = flip
	lf.off = lf.off[:0]
	lf.d = lf.d[:0]
	lf.sp = lf.sp[:0]
	lf.a, lf.p = 0, 0
	lf.max1, lf.max2 = NegInf, NegInf
	lf.idx1 = 0

	for i := 0; i <= lf.n; i++ {
		m0 := sign * msgs[edges[i].Offset]
		m1 := sign * msgs[edges[i].Offset+1]
		if flip {
			m0, m1 = m1, m0
		}
		if i == lf.n {
			lf.mc0, lf.mc1 = m0, m1
			break
		}
		d := m1 - m0
		sp := SoftplusTemp(d, temp)
		lf.off = append(lf.off, m0)
		lf.d = append(lf.d, d)
		lf.sp = append(lf.sp, sp)
		lf.a += m0
		lf.p += sp
		if d > lf.max1 {
			lf.max2 = lf.max1
			lf.max1 = d
			lf.idx1 = i
		} else if d > lf.max2 {
			lf.max2 = d
		}
	}
}

// store writes an (off, on) pair to slot s, undoing the flip.
func (lf *logicalFactor) store(msgs []float64, s int, v0, v1 float64) {
	e := lf.edges[s]
	if lf.flip {
		v0, v1 = v1, v0
	}
	msgs[e.Offset] = v0
	msgs[e.Offset+1] = v1
}

// looMax is the largest log-odds among parents other than j.
func (lf *logicalFactor) looMax(j int) float64 {
	if j == lf.idx1 {
		return lf.max2
	}
	return lf.max1
}

// anyOn is the log-domain mass of "at least one parent on" given the
// softplus sum p. At temperature zero that is p when some log-odds is
// positive and the largest log-odds maxd otherwise.
func anyOn(p, maxd, temp float64) float64 {
	if temp == 0 {
		if p > 0 {
			return p
		}
		return maxd
	}
	return logExpMinus1Temp(p, temp)
}

// logicalF2V runs the OR message update over a group, through flipped views
// for AND groups. All outputs are extrinsic by construction; no own-message
// subtraction is needed afterwards.
func logicalF2V(g *core.GroupDesc, v2f, f2v []float64, temp float64, flip bool) {
	var lf logicalFactor
	for f := 0; f < g.NumFactors; f++ {
		lf.load(g.FactorEdges(f), v2f, temp, +1, flip)

		// Child: off needs every parent off, on needs at least one on.
		lf.store(f2v, lf.n, lf.a, lf.a+anyOn(lf.p, lf.max1, temp))

		for j := 0; j < lf.n; j++ {
			aj := lf.a - lf.off[j]
			pj := lf.p - lf.sp[j]

			// Parent j off: either all others off with the child off, or some
			// other parent on with the child on. Ties keep the first branch,
			// the lowest configuration index.
			v0 := logSumExpTemp2(aj+lf.mc0, aj+lf.mc1+anyOn(pj, lf.looMax(j), temp), temp)
			// Parent j on: child on, other parents unconstrained.
			v1 := aj + lf.mc1 + pj
			lf.store(f2v, j, v0, v1)
		}
	}
}

func orF2V(g *core.GroupDesc, logPot, v2f, f2v []float64, temp float64) {
	logicalF2V(g, v2f, f2v, temp, false)
}

func andF2V(g *core.GroupDesc, logPot, v2f, f2v []float64, temp float64) {
	logicalF2V(g, v2f, f2v, temp, true)
}

// subOne subtracts a unit of probability mass at slot s, state x (in OR
// orientation, flipping on write).
func (lf *logicalFactor) subOne(grad []float64, s, x int) {
	if lf.flip {
		x = 1 - x
	}
	grad[lf.edges[s].Offset+int32(x)]--
}

// subP subtracts an (off, on) probability pair at slot s.
func (lf *logicalFactor) subP(grad []float64, s int, p0, p1 float64) {
	if lf.flip {
		p0, p1 = p1, p0
	}
	grad[lf.edges[s].Offset] -= p0
	grad[lf.edges[s].Offset+1] -= p1
}

// logicalGrad subtracts the factor's smoothed marginals from grad. The
// closed forms mirror the message update: the factor's partition mass splits
// into the all-off configuration and the child-on block, and each parent's
// "on" marginal drops its own softplus term from the product.
func logicalGrad(g *core.GroupDesc, mu, grad []float64, temp float64, flip bool) {
	var lf logicalFactor
	for f := 0; f < g.NumFactors; f++ {
		lf.load(g.FactorEdges(f), mu, temp, -1, flip)

		logW0 := lf.a + lf.mc0
		logW1 := lf.a + lf.mc1 + anyOn(lf.p, lf.max1, temp)

		if temp == 0 {
			// One-hot at the argmax configuration; ties keep all-off, the
			// lowest configuration index.
			if logW0 >= logW1 {
				lf.subOne(grad, lf.n, 0)
				for j := 0; j < lf.n; j++ {
					lf.subOne(grad, j, 0)
				}
				continue
			}
			lf.subOne(grad, lf.n, 1)
			someOn := lf.p > 0
			for j := 0; j < lf.n; j++ {
				if (someOn && lf.d[j] > 0) || (!someOn && j == lf.idx1) {
					lf.subOne(grad, j, 1)
				} else {
					lf.subOne(grad, j, 0)
				}
			}
			continue
		}

		logZ := logSumExpTemp2(logW0, logW1, temp)
		pc1 := math.Exp((logW1 - logZ) / temp)
		lf.subP(grad, lf.n, 1-pc1, pc1)
		for j := 0; j < lf.n; j++ {
			pj := lf.p - lf.sp[j]
			pj1 := math.Exp((lf.a + lf.d[j] + lf.mc1 + pj - logZ) / temp)
			if pj1 > 1 {
				pj1 = 1
			}
			lf.subP(grad, j, 1-pj1, pj1)
		}
	}
}

func orGrad(g *core.GroupDesc, logPot, mu, grad []float64, temp float64) {
	logicalGrad(g, mu, grad, temp, false)
}

func andGrad(g *core.GroupDesc, logPot, mu, grad []float64, temp float64) {
	logicalGrad(g, mu, grad, temp, true)
}

// logicalObjective sums the factors' soft maxima over local dual scores.
func logicalObjective(g *core.GroupDesc, mu []float64, temp float64, flip bool) float64 {
	var lf logicalFactor
	total := 0.0
	for f := 0; f < g.NumFactors; f++ {
		lf.load(g.FactorEdges(f), mu, temp, -1, flip)
		logW0 := lf.a + lf.mc0
		logW1 := lf.a + lf.mc1 + anyOn(lf.p, lf.max1, temp)
		total += logSumExpTemp2(logW0, logW1, temp)
	}
	return total
}

func orObjective(g *core.GroupDesc, logPot, mu []float64, temp float64) float64 {
	return logicalObjective(g, mu, temp, false)
}

func andObjective(g *core.GroupDesc, logPot, mu []float64, temp float64) float64 {
	return logicalObjective(g, mu, temp, true)
}

// orEnergy is zero when child = OR(parents) holds and -inf otherwise.
func orEnergy(g *core.GroupDesc, logPot []float64, f int, assign []int32) float64 {
	return logicalEnergy(g, f, assign, false)
}

// andEnergy is zero when child = AND(parents) holds and -inf otherwise.
func andEnergy(g *core.GroupDesc, logPot []float64, f int, assign []int32) float64 {
	return logicalEnergy(g, f, assign, true)
}

func logicalEnergy(g *core.GroupDesc, f int, assign []int32, flip bool) float64 {
	edges := g.FactorEdges(f)
	n := len(edges) - 1
	any := false
	for i := 0; i < n; i++ {
		x := assign[edges[i].Var]
		if flip {
			x = 1 - x
		}
		if x == 1 {
			any = true
			break
		}
	}
	child := assign[edges[n].Var]
	if flip {
		child = 1 - child
	}
	want := int32(0)
	if any {
		want = 1
	}
	if child == want {
		return 0
	}
	return NegInf
}
