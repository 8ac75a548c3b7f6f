// Package kernels implements the per-factor-kind message updates and the
// smoothed-dual gradients for flat factor graphs.
//
// Each factor kind provides a small set of batched routines operating
// in-place on the flat message arrays:
//
//   - F2V: the factor-to-variable message update (max reduction at
//     temperature zero, stable log-sum-exp otherwise)
//   - Grad: the factor-side marginals of the smoothed dual objective
//   - Objective: the factor's contribution to the dual objective value
//   - Energy: the factor's log-potential at a joint assignment
//
// Kernels are registered in the Catalog array indexed by core.FactorKind and
// dispatched by the drivers without any dynamic type inspection. The
// variable-side update is type-agnostic and global.
//
// All routines reduce in a fixed order (configuration index, then slot), so
// runs with identical inputs produce bit-identical message arrays.
package kernels

import (
	"math"

	"github.com/sbl8/loopy/core"
)

// F2VFunc refreshes one group's factor-to-variable messages from the current
// variable-to-factor messages. logPot is the group's (possibly overridden)
// flat log-potential table; v2f and f2v are the full message arrays.
type F2VFunc func(g *core.GroupDesc, logPot, v2f, f2v []float64, temp float64)

// GradFunc subtracts the factor-side smoothed marginals from grad. mu holds
// the dual variables (laid out like f2v messages); on entry grad holds the
// variable-side marginals scattered per edge, so on exit it is the gradient
// of the dual objective.
type GradFunc func(g *core.GroupDesc, logPot, mu, grad []float64, temp float64)

// ObjectiveFunc sums the group's factors' soft-max local scores under the
// dual variables mu.
type ObjectiveFunc func(g *core.GroupDesc, logPot, mu []float64, temp float64) float64

// EnergyFunc evaluates factor f's log-potential at a joint assignment.
// assign maps global variable ids to states. Invalid assignments of logical
// or enumerated factors yield -inf.
type EnergyFunc func(g *core.GroupDesc, logPot []float64, f int, assign []int32) float64

// FactorKernel bundles the routines for one factor kind.
type FactorKernel struct {
	F2V       F2VFunc
	Grad      GradFunc
	Objective ObjectiveFunc
	Energy    EnergyFunc
}

// Catalog maps factor kinds to kernel implementations.
var Catalog = [core.KindCount]FactorKernel{
	core.KindEnumerated: {
		F2V:       enumeratedF2V,
		Grad:      enumeratedGrad,
		Objective: enumeratedObjective,
		Energy:    enumeratedEnergy,
	},
	core.KindPairwise: {
		F2V:       pairwiseF2V,
		Grad:      pairwiseGrad,
		Objective: pairwiseObjective,
		Energy:    pairwiseEnergy,
	},
	core.KindOR: {
		F2V:       orF2V,
		Grad:      orGrad,
		Objective: orObjective,
		Energy:    orEnergy,
	},
	core.KindAND: {
		F2V:       andF2V,
		Grad:      andGrad,
		Objective: andObjective,
		Energy:    andEnergy,
	},
}

// Supported reports whether a kernel is registered for the kind.
func Supported(kind core.FactorKind) bool {
	return kind < core.KindCount && Catalog[kind].F2V != nil
}

// ComputeBeliefs fills beliefs with evidence plus the sum of incoming
// factor-to-variable messages, per variable.
func ComputeBeliefs(fg *core.FlatGraph, evidence, f2v, beliefs []float64) {
	copy(beliefs, evidence)
	for v := int32(0); v < int32(fg.NumVars); v++ {
		bel := fg.VarSlice(beliefs, v)
		for _, off := range fg.IncidentEdges(v) {
			for x := range bel {
				bel[x] += f2v[int(off)+x]
			}
		}
	}
}

// UpdateVariables performs the type-agnostic variable-side update: for every
// variable it forms the belief, then emits the extrinsic message
// belief - f2v on each incident edge, normalized by its maximum.
func UpdateVariables(fg *core.FlatGraph, evidence, f2v, v2f, beliefs []float64) {
	ComputeBeliefs(fg, evidence, f2v, beliefs)
	for v := int32(0); v < int32(fg.NumVars); v++ {
		bel := fg.VarSlice(beliefs, v)
		for _, off := range fg.IncidentEdges(v) {
			seg := v2f[off : int(off)+len(bel)]
			for x := range bel {
				seg[x] = bel[x] - f2v[int(off)+x]
			}
			normalizeMax(seg)
		}
	}
}

// HasBadValues reports whether any element is NaN or infinite. Used by the
// optional numerical check in the drivers.
func HasBadValues(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
