package runtime_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/loopy/compiler"
	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/model"
	"github.com/sbl8/loopy/runtime"
)

// isingModel builds a size x size toroidal grid of binary spins with
// agreement couplings on both axial neighbors and seeded Gumbel evidence.
func isingModel(t *testing.T, size int, coupling float64, seed int64) (*core.FlatGraph, runtime.InitOptions) {
	t.Helper()
	g := model.NewGraph()
	require.NoError(t, g.AddVariableGroup("spins", size*size, 2))

	pg := &model.PairwiseFactorGroup{
		GroupName:           "grid",
		SharedLogPotentials: []float64{coupling, -coupling, -coupling, coupling},
	}
	at := func(r, c int) model.VarRef {
		return model.VarRef{Group: "spins", Index: ((r+size)%size)*size + (c+size)%size}
	}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			pg.Pairs = append(pg.Pairs, [2]model.VarRef{at(r, c), at(r, c+1)})
			pg.Pairs = append(pg.Pairs, [2]model.VarRef{at(r, c), at(r+1, c)})
		}
	}
	require.NoError(t, g.AddFactorGroup(pg))

	fg, err := compiler.Compile(g)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	evidence := make([]float64, size*size*2)
	for i := range evidence {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		evidence[i] = -math.Log(-math.Log(u))
	}
	return fg, runtime.InitOptions{EvidenceUpdates: map[string][]float64{"spins": evidence}}
}

func TestSDLPChainConverges(t *testing.T) {
	t.Parallel()
	fg, initOpts := chainModel(t)

	inf, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	arena, err := inf.Init(initOpts)
	require.NoError(t, err)

	opts := runtime.RunOptions{LogSumExpTemp: 0.05}
	require.NoError(t, inf.Run(arena, 2000, opts))

	decoding, score := inf.DecodePrimalUnaries(arena)
	lower, err := inf.GetMapLowerBound(arena, decoding)
	require.NoError(t, err)
	assert.InDelta(t, score, lower, 1e-12)

	// On a tree the LP relaxation is tight: the rounding recovers the MAP
	// assignment and the duality gap closes up to the entropy term.
	wantA, wantB, bestScore := chainBruteForce(
		[]float64{0.1, 0}, []float64{0, 0.2}, []float64{1, -1, -1, 1})
	assert.Equal(t, []int{wantA}, decoding["a"])
	assert.Equal(t, []int{wantB}, decoding["b"])
	assert.InDelta(t, bestScore, lower, 1e-9)

	upper := inf.GetPrimalUpperBound(arena, opts)
	assert.GreaterOrEqual(t, upper, lower-1e-9)
	assert.Less(t, upper-lower, 0.25) // entropy term plus residual descent error
}

func TestSDLPObjectiveDecreases(t *testing.T) {
	t.Parallel()
	fg, initOpts := isingModel(t, 4, 0.8, 3)

	inf, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	arena, err := inf.Init(initOpts)
	require.NoError(t, err)

	// A deliberately small step keeps the accelerated descent near-monotone.
	opts := runtime.RunOptions{LogSumExpTemp: 0.1, StepSize: 0.1 / (4 * 10)}
	objs, err := inf.RunWithObjVals(arena, 300, opts)
	require.NoError(t, err)
	require.Len(t, objs, 300)

	for i := 1; i < len(objs); i++ {
		assert.LessOrEqual(t, objs[i], objs[i-1]+1e-2, "step %d", i)
	}
	assert.Less(t, objs[len(objs)-1], objs[0])
}

func TestSDLPDualitySandwich(t *testing.T) {
	t.Parallel()
	fg, initOpts := isingModel(t, 6, 0.8, 0)

	inf, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	arena, err := inf.Init(initOpts)
	require.NoError(t, err)

	opts := runtime.RunOptions{LogSumExpTemp: 1e-2}
	require.NoError(t, inf.Run(arena, 1500, opts))

	decoding, _ := inf.DecodePrimalUnaries(arena)
	lower, err := inf.GetMapLowerBound(arena, decoding)
	require.NoError(t, err)
	upper := inf.GetPrimalUpperBound(arena, opts)

	// The smoothed dual upper-bounds the LP optimum, which upper-bounds any
	// integer assignment's score.
	assert.GreaterOrEqual(t, upper, lower-1e-9)

	// The relative gap tightens once the dual has nearly converged.
	gap := (upper - lower) / math.Max(math.Abs(upper), 1e-12)
	assert.Less(t, gap, 0.08, "upper=%v lower=%v", upper, lower)
}

func TestSDLPTracksBPOnGrid(t *testing.T) {
	t.Parallel()
	fg, initOpts := isingModel(t, 6, 0.8, 1)

	bp, err := runtime.BuildInferer(fg, runtime.BackendBP)
	require.NoError(t, err)
	bpArena, err := bp.Init(initOpts)
	require.NoError(t, err)
	require.NoError(t, bp.Run(bpArena, 300, runtime.RunOptions{Damping: 0.5}))
	bpDecoding := runtime.DecodeMAPStates(fg, bp.GetBeliefs(bpArena))
	bpEnergy, err := runtime.ComputeEnergy(bpArena, bpDecoding)
	require.NoError(t, err)

	sdlp, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	sdlpArena, err := sdlp.Init(initOpts)
	require.NoError(t, err)
	require.NoError(t, sdlp.Run(sdlpArena, 1500, runtime.RunOptions{LogSumExpTemp: 1e-2}))
	sdlpDecoding, _ := sdlp.DecodePrimalUnaries(sdlpArena)
	sdlpEnergy, err := runtime.ComputeEnergy(sdlpArena, sdlpDecoding)
	require.NoError(t, err)

	// Both solvers land on comparable decodings of the same model.
	assert.LessOrEqual(t, sdlpEnergy, bpEnergy+2.0,
		"sdlp energy %v should not trail bp energy %v", sdlpEnergy, bpEnergy)
}

func TestSDLPSubgradientAtZeroTemperature(t *testing.T) {
	t.Parallel()
	fg, initOpts := chainModel(t)

	inf, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	arena, err := inf.Init(initOpts)
	require.NoError(t, err)

	// Temperature zero degrades to subgradient descent: no monotonicity
	// guarantee, but the run completes with finite state and usable bounds.
	opts := runtime.RunOptions{LogSumExpTemp: 0, StepSize: 0.01}
	objs, err := inf.RunWithObjVals(arena, 200, opts)
	require.NoError(t, err)
	require.Len(t, objs, 200)
	for _, o := range objs {
		require.False(t, math.IsNaN(o) || math.IsInf(o, 0))
	}

	decoding, _ := inf.DecodePrimalUnaries(arena)
	lower, err := inf.GetMapLowerBound(arena, decoding)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, inf.GetPrimalUpperBound(arena, opts), lower-1e-9)
}

func TestSDLPBadTemperature(t *testing.T) {
	t.Parallel()
	fg, initOpts := chainModel(t)
	inf, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	arena, err := inf.Init(initOpts)
	require.NoError(t, err)

	err = inf.Run(arena, 1, runtime.RunOptions{LogSumExpTemp: -0.5})
	assert.True(t, errors.Is(err, core.ErrBadTemperature), "got %v", err)
}

// TestSDLPLogicalRecovery decodes hidden causes through AND and OR layers:
// observations X[r] = OR_j of A[j] over a known support, with A[j] =
// AND(S[j], W[j]) and W pinned on. Strong evidence on X and W leaves S as
// the only free layer; the decoding must reproduce the observations.
func TestSDLPLogicalRecovery(t *testing.T) {
	t.Parallel()
	const m = 4
	truth := []int{1, 0, 1, 0}
	supports := [][]int{{0}, {1}, {2}, {3}, {0, 1}, {1, 2}, {2, 3}, {0, 3}}

	g := model.NewGraph()
	require.NoError(t, g.AddVariableGroup("S", m, 2))
	require.NoError(t, g.AddVariableGroup("W", m, 2))
	require.NoError(t, g.AddVariableGroup("A", m, 2))
	require.NoError(t, g.AddVariableGroup("X", len(supports), 2))

	andGroup := &model.ANDFactorGroup{GroupName: "causes"}
	for j := 0; j < m; j++ {
		andGroup.Factors = append(andGroup.Factors, []model.VarRef{
			{Group: "S", Index: j}, {Group: "W", Index: j}, {Group: "A", Index: j},
		})
	}
	require.NoError(t, g.AddFactorGroup(andGroup))

	orGroup := &model.ORFactorGroup{GroupName: "observations"}
	for r, sup := range supports {
		refs := make([]model.VarRef, 0, len(sup)+1)
		for _, j := range sup {
			refs = append(refs, model.VarRef{Group: "A", Index: j})
		}
		refs = append(refs, model.VarRef{Group: "X", Index: r})
		orGroup.Factors = append(orGroup.Factors, refs)
	}
	require.NoError(t, g.AddFactorGroup(orGroup))

	fg, err := compiler.Compile(g)
	require.NoError(t, err)

	evW := make([]float64, m*2)
	for j := 0; j < m; j++ {
		evW[j*2+1] = 3 // pin W on
	}
	evX := make([]float64, len(supports)*2)
	for r, sup := range supports {
		x := 0
		for _, j := range sup {
			x |= truth[j]
		}
		evX[r*2+x] = 3
	}
	evS := make([]float64, m*2)
	for j := 0; j < m; j++ {
		evS[j*2] = 0.1 // weak sparsity prior toward off
	}

	inf, err := runtime.BuildInferer(fg, runtime.BackendSDLP)
	require.NoError(t, err)
	arena, err := inf.Init(runtime.InitOptions{EvidenceUpdates: map[string][]float64{
		"W": evW, "X": evX, "S": evS,
	}})
	require.NoError(t, err)
	require.NoError(t, inf.Run(arena, 3000, runtime.RunOptions{LogSumExpTemp: 1e-2}))

	decoding, _ := inf.DecodePrimalUnaries(arena)

	// Reconstruction: X implied by the decoded S must match the evidence.
	mismatches := 0
	for _, sup := range supports {
		want := 0
		for _, j := range sup {
			want |= truth[j]
		}
		got := 0
		for _, j := range sup {
			got |= decoding["S"][j]
		}
		if got != want {
			mismatches++
		}
	}
	assert.Zero(t, mismatches, "decoded S = %v", decoding["S"])
}
