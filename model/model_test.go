package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/loopy/core"
)

func TestAddVariableGroup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		groupName string
		numVars   int
		numStates int
		wantErr   error
	}{
		{name: "valid", groupName: "spins", numVars: 4, numStates: 2},
		{name: "empty name", groupName: "", numVars: 4, numStates: 2, wantErr: core.ErrShape},
		{name: "zero variables", groupName: "x", numVars: 0, numStates: 2, wantErr: core.ErrShape},
		{name: "single state", groupName: "x", numVars: 1, numStates: 1, wantErr: core.ErrShape},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGraph()
			err := g.AddVariableGroup(tt.groupName, tt.numVars, tt.numStates)
			if tt.wantErr == nil {
				require.NoError(t, err)
				vg, ok := g.VariableGroup(tt.groupName)
				require.True(t, ok)
				assert.Equal(t, tt.numVars, vg.NumVars)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestDuplicateNamesRejected(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	require.NoError(t, g.AddVariableGroup("spins", 2, 2))

	err := g.AddVariableGroup("spins", 3, 2)
	assert.True(t, errors.Is(err, core.ErrDuplicateName))

	// Factor groups share the namespace with variable groups.
	err = g.AddFactorGroup(&ORFactorGroup{GroupName: "spins"})
	assert.True(t, errors.Is(err, core.ErrDuplicateName))
}

func TestEnumeratedValidation(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	require.NoError(t, g.AddVariableGroup("v", 3, 2))
	refs := func(is ...int) []VarRef {
		out := make([]VarRef, len(is))
		for i, idx := range is {
			out[i] = VarRef{Group: "v", Index: idx}
		}
		return out
	}

	// Config state out of range.
	err := g.AddFactorGroup(&EnumeratedFactorGroup{
		GroupName:           "e1",
		Vars:                [][]VarRef{refs(0, 1)},
		Configs:             [][]int{{0, 2}},
		SharedLogPotentials: []float64{0},
	})
	assert.True(t, errors.Is(err, core.ErrShape), "got %v", err)

	// Ragged arity across factors.
	err = g.AddFactorGroup(&EnumeratedFactorGroup{
		GroupName:           "e2",
		Vars:                [][]VarRef{refs(0, 1), refs(2)},
		Configs:             [][]int{{0, 0}},
		SharedLogPotentials: []float64{0},
	})
	assert.True(t, errors.Is(err, core.ErrShape), "got %v", err)

	// Per-factor potentials with the wrong row count.
	err = g.AddFactorGroup(&EnumeratedFactorGroup{
		GroupName:     "e3",
		Vars:          [][]VarRef{refs(0, 1)},
		Configs:       [][]int{{0, 0}, {1, 1}},
		LogPotentials: [][]float64{{0, 0}, {0, 0}},
	})
	assert.True(t, errors.Is(err, core.ErrShape), "got %v", err)

	// Valid group.
	err = g.AddFactorGroup(&EnumeratedFactorGroup{
		GroupName:           "ok",
		Vars:                [][]VarRef{refs(0, 1), refs(1, 2)},
		Configs:             [][]int{{0, 0}, {1, 1}},
		SharedLogPotentials: []float64{1.5, -0.5},
	})
	assert.NoError(t, err)
}

func TestPairwiseShapeUniformity(t *testing.T) {
	t.Parallel()
	g := NewGraph()
	require.NoError(t, g.AddVariableGroup("small", 2, 2))
	require.NoError(t, g.AddVariableGroup("big", 2, 3))

	err := g.AddFactorGroup(&PairwiseFactorGroup{
		GroupName: "mixed",
		Pairs: [][2]VarRef{
			{{Group: "small", Index: 0}, {Group: "small", Index: 1}},
			{{Group: "small", Index: 0}, {Group: "big", Index: 0}},
		},
		SharedLogPotentials: []float64{1, -1, -1, 1},
	})
	assert.True(t, errors.Is(err, core.ErrShape), "got %v", err)
}

func TestParse(t *testing.T) {
	t.Parallel()
	src := `
# a small mixed model
vars spins 4 states 2
evidence spins [ 0.1 0 0 0.2 0 0 0 0 ]
pairwise coupling pot [ 1 -1 -1 1 ] edge spins[0] spins[1] edge spins[1] spins[2]
enum triple arity 2 config 0 0 = 1.5 config 1 1 = -0.5 factor spins[0] spins[3]
or clause factor spins[0] spins[1] -> spins[2]
and gate factor spins[0] spins[1] -> spins[3]
`
	g, evidence, err := Parse("test.fg", src)
	require.NoError(t, err)

	vg, ok := g.VariableGroup("spins")
	require.True(t, ok)
	assert.Equal(t, 4, vg.NumVars)
	assert.Equal(t, 2, vg.NumStates)

	require.Len(t, evidence["spins"], 8)
	assert.Equal(t, 0.1, evidence["spins"][0])
	assert.Equal(t, 0.2, evidence["spins"][3])

	fgs := g.FactorGroups()
	require.Len(t, fgs, 4)
	assert.Equal(t, core.KindPairwise, fgs[0].Kind())
	assert.Equal(t, 2, fgs[0].NumFactors())
	assert.Equal(t, core.KindEnumerated, fgs[1].Kind())
	assert.Equal(t, core.KindOR, fgs[2].Kind())
	assert.Equal(t, core.KindAND, fgs[3].Kind())

	enum := fgs[1].(*EnumeratedFactorGroup)
	assert.Equal(t, [][]int{{0, 0}, {1, 1}}, enum.Configs)
	assert.Equal(t, []float64{1.5, -0.5}, enum.SharedLogPotentials)

	or := fgs[2].(*ORFactorGroup)
	require.Len(t, or.Factors, 1)
	assert.Equal(t, VarRef{Group: "spins", Index: 2}, or.Factors[0][2])
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	// Evidence before declaration.
	_, _, err := Parse("bad.fg", `evidence spins [ 0 0 ]`)
	assert.Error(t, err)

	// Wrong evidence length.
	_, _, err = Parse("bad.fg", "vars spins 2 states 2\nevidence spins [ 0 0 ]")
	assert.Error(t, err)

	// Enum config arity mismatch.
	_, _, err = Parse("bad.fg", "vars v 2 states 2\nenum e arity 2 config 0 = 1 factor v[0] v[1]")
	assert.Error(t, err)

	// Syntax error.
	_, _, err = Parse("bad.fg", `vars spins states`)
	assert.Error(t, err)
}
