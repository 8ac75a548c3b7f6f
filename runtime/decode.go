package runtime

import (
	"math"

	"github.com/pkg/errors"

	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/kernels"
)

// GetBeliefs returns the current log-domain beliefs, one row-major
// NumVars x NumStates array per variable group. A variable with no incident
// factors keeps its evidence as its belief.
func GetBeliefs(a *Arena) map[string][]float64 {
	fg := a.fg
	kernels.ComputeBeliefs(fg, a.Evidence, a.F2V, a.beliefs)
	out := make(map[string][]float64, len(fg.VarGroups))
	for _, vg := range fg.VarGroups {
		start := fg.VarOffsets[vg.FirstVar]
		end := start + int32(vg.NumVars*vg.NumStates)
		out[vg.Name] = append([]float64(nil), a.beliefs[start:end]...)
	}
	return out
}

// DecodeMAPStates decodes per-variable argmax states from beliefs, breaking
// ties toward the lowest state index.
func DecodeMAPStates(fg *core.FlatGraph, beliefs map[string][]float64) map[string][]int {
	out := make(map[string][]int, len(fg.VarGroups))
	for _, vg := range fg.VarGroups {
		bel := beliefs[vg.Name]
		states := make([]int, vg.NumVars)
		for i := 0; i < vg.NumVars; i++ {
			states[i] = kernels.ArgMax(bel[i*vg.NumStates : (i+1)*vg.NumStates])
		}
		out[vg.Name] = states
	}
	return out
}

// GetMarginals normalizes beliefs into proper per-variable distributions at
// the given temperature; temperature 1 is the plain softmax.
func GetMarginals(fg *core.FlatGraph, beliefs map[string][]float64, temp float64) map[string][]float64 {
	out := make(map[string][]float64, len(fg.VarGroups))
	for _, vg := range fg.VarGroups {
		bel := beliefs[vg.Name]
		probs := make([]float64, len(bel))
		for i := 0; i < vg.NumVars; i++ {
			seg := probs[i*vg.NumStates : (i+1)*vg.NumStates]
			kernels.SoftmaxTempInto(seg, bel[i*vg.NumStates:(i+1)*vg.NumStates], temp)
		}
		out[vg.Name] = probs
	}
	return out
}

// decodeStates is DecodeMAPStates over the flat belief scratch.
func decodeStates(fg *core.FlatGraph, beliefs []float64) map[string][]int {
	out := make(map[string][]int, len(fg.VarGroups))
	for _, vg := range fg.VarGroups {
		states := make([]int, vg.NumVars)
		for i := 0; i < vg.NumVars; i++ {
			v := int32(vg.FirstVar + i)
			states[i] = kernels.ArgMax(fg.VarSlice(beliefs, v))
		}
		out[vg.Name] = states
	}
	return out
}

// assignFromDecoding flattens a per-group decoding into a global
// variable-to-state array, validating coverage and state ranges.
func assignFromDecoding(fg *core.FlatGraph, decoding map[string][]int) ([]int32, error) {
	assign := make([]int32, fg.NumVars)
	for _, vg := range fg.VarGroups {
		states, ok := decoding[vg.Name]
		if !ok {
			return nil, errors.Wrapf(core.ErrBadDecoding, "variable group %q missing", vg.Name)
		}
		if len(states) != vg.NumVars {
			return nil, errors.Wrapf(core.ErrBadDecoding, "variable group %q: got %d states, want %d",
				vg.Name, len(states), vg.NumVars)
		}
		for i, st := range states {
			if st < 0 || st >= vg.NumStates {
				return nil, errors.Wrapf(core.ErrBadDecoding, "variable group %q[%d]: state %d out of %d",
					vg.Name, i, st, vg.NumStates)
			}
			assign[vg.FirstVar+i] = int32(st)
		}
	}
	return assign, nil
}

// totalScore sums evidence and factor log-potentials at an assignment. An
// assignment violating a logical or enumerated factor scores -inf.
func totalScore(a *Arena, assign []int32) float64 {
	fg := a.fg
	score := 0.0
	for v := int32(0); v < int32(fg.NumVars); v++ {
		score += a.Evidence[fg.VarOffsets[v]+assign[v]]
	}
	for gi := range fg.Groups {
		g := &fg.Groups[gi]
		energy := kernels.Catalog[g.Kind].Energy
		for f := 0; f < g.NumFactors; f++ {
			score += energy(g, a.LogPot[gi], f, assign)
		}
	}
	return score
}

// ComputeEnergy returns the negated total score of a decoding: evidence at
// the decoded states plus every factor's log-potential at the joint
// assignment, negated so that lower is better. A decoding violating a
// logical or enumerated factor has +inf energy.
func ComputeEnergy(a *Arena, decoding map[string][]int) (float64, error) {
	assign, err := assignFromDecoding(a.fg, decoding)
	if err != nil {
		return 0, err
	}
	return -totalScore(a, assign), nil
}

// ComputeEnergyDebug breaks the energy into per-variable and per-factor
// contributions: varEnergies[group][i] is the negated evidence of variable i
// at its decoded state, factorEnergies[group][f] the negated log-potential
// of factor f. The contributions sum to the total.
func ComputeEnergyDebug(a *Arena, decoding map[string][]int) (float64, map[string][]float64, map[string][]float64, error) {
	fg := a.fg
	assign, err := assignFromDecoding(fg, decoding)
	if err != nil {
		return 0, nil, nil, err
	}

	total := 0.0
	varEnergies := make(map[string][]float64, len(fg.VarGroups))
	for _, vg := range fg.VarGroups {
		es := make([]float64, vg.NumVars)
		for i := 0; i < vg.NumVars; i++ {
			v := int32(vg.FirstVar + i)
			es[i] = -a.Evidence[fg.VarOffsets[v]+assign[v]]
			total += es[i]
		}
		varEnergies[vg.Name] = es
	}

	factorEnergies := make(map[string][]float64, len(fg.Groups))
	for gi := range fg.Groups {
		g := &fg.Groups[gi]
		energy := kernels.Catalog[g.Kind].Energy
		es := make([]float64, g.NumFactors)
		for f := 0; f < g.NumFactors; f++ {
			es[f] = -energy(g, a.LogPot[gi], f, assign)
			total += es[f]
		}
		factorEnergies[g.Name] = es
	}

	if math.IsInf(total, 0) {
		total = math.Inf(1)
	}
	return total, varEnergies, factorEnergies, nil
}
