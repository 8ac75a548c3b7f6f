package compiler_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/loopy/compiler"
	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/model"
)

func chainGraph(t *testing.T) *model.Graph {
	t.Helper()
	g := model.NewGraph()
	require.NoError(t, g.AddVariableGroup("a", 1, 2))
	require.NoError(t, g.AddVariableGroup("b", 1, 3))
	require.NoError(t, g.AddFactorGroup(&model.PairwiseFactorGroup{
		GroupName:           "link",
		Pairs:               [][2]model.VarRef{{{Group: "a", Index: 0}, {Group: "b", Index: 0}}},
		SharedLogPotentials: make([]float64, 6),
	}))
	return g
}

func TestCompileOffsets(t *testing.T) {
	t.Parallel()
	fg, err := compiler.Compile(chainGraph(t))
	require.NoError(t, err)

	assert.Equal(t, 2, fg.NumVars)
	assert.Equal(t, []int32{0, 2, 5}, fg.VarOffsets)
	assert.Equal(t, []int32{2, 3}, fg.VarStates)
	assert.Equal(t, 5, fg.TotalStates)
	assert.Equal(t, 5, fg.TotalMsgLen) // one edge per variable

	require.Len(t, fg.Groups, 1)
	g := fg.Groups[0]
	assert.Equal(t, core.KindPairwise, g.Kind)
	assert.Equal(t, 1, g.NumFactors)
	assert.Equal(t, []int32{0, 2}, g.FactorStart)
	assert.Equal(t, core.EdgeDesc{Var: 0, Offset: 0, States: 2}, g.Edges[0])
	assert.Equal(t, core.EdgeDesc{Var: 1, Offset: 2, States: 3}, g.Edges[1])
	assert.Equal(t, 6, g.LogPotStride)

	// Reverse CSR covers both variables.
	assert.Equal(t, []int32{0}, fg.IncidentEdges(0))
	assert.Equal(t, []int32{2}, fg.IncidentEdges(1))
	// Each variable touches one edge; the factor touches two.
	assert.Equal(t, 2, fg.MaxDegree)

	vg, ok := fg.VarGroup("b")
	require.True(t, ok)
	assert.Equal(t, 1, vg.FirstVar)
	assert.Equal(t, 3, vg.NumStates)
}

func TestCompileSharedPotentialsBroadcast(t *testing.T) {
	t.Parallel()
	g := model.NewGraph()
	require.NoError(t, g.AddVariableGroup("v", 3, 2))
	require.NoError(t, g.AddFactorGroup(&model.PairwiseFactorGroup{
		GroupName: "pairs",
		Pairs: [][2]model.VarRef{
			{{Group: "v", Index: 0}, {Group: "v", Index: 1}},
			{{Group: "v", Index: 1}, {Group: "v", Index: 2}},
		},
		SharedLogPotentials: []float64{1, -1, -1, 1},
	}))
	fg, err := compiler.Compile(g)
	require.NoError(t, err)

	gd := fg.Groups[0]
	assert.Equal(t, []float64{1, -1, -1, 1}, gd.FactorLogPot(gd.LogPot, 0))
	assert.Equal(t, []float64{1, -1, -1, 1}, gd.FactorLogPot(gd.LogPot, 1))

	// The middle variable carries two incident edges.
	assert.Equal(t, 2, fg.MaxDegree)
	assert.Len(t, fg.IncidentEdges(1), 2)
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		build   func(g *model.Graph) model.FactorGroup
		wantErr error
	}{
		{
			name: "duplicate variable within factor",
			build: func(g *model.Graph) model.FactorGroup {
				return &model.PairwiseFactorGroup{
					GroupName:           "dup",
					Pairs:               [][2]model.VarRef{{{Group: "v", Index: 0}, {Group: "v", Index: 0}}},
					SharedLogPotentials: make([]float64, 4),
				}
			},
			wantErr: core.ErrDuplicateEdge,
		},
		{
			name: "unknown variable group",
			build: func(g *model.Graph) model.FactorGroup {
				return &model.PairwiseFactorGroup{
					GroupName:           "ghost",
					Pairs:               [][2]model.VarRef{{{Group: "missing", Index: 0}, {Group: "v", Index: 1}}},
					SharedLogPotentials: make([]float64, 4),
				}
			},
			wantErr: core.ErrUnknownVariableGroup,
		},
		{
			name: "reference out of range",
			build: func(g *model.Graph) model.FactorGroup {
				return &model.PairwiseFactorGroup{
					GroupName:           "oob",
					Pairs:               [][2]model.VarRef{{{Group: "v", Index: 9}, {Group: "v", Index: 1}}},
					SharedLogPotentials: make([]float64, 4),
				}
			},
			wantErr: core.ErrBadVariableRef,
		},
		{
			name: "potential shape mismatch",
			build: func(g *model.Graph) model.FactorGroup {
				return &model.PairwiseFactorGroup{
					GroupName:           "bad",
					Pairs:               [][2]model.VarRef{{{Group: "v", Index: 0}, {Group: "v", Index: 1}}},
					SharedLogPotentials: make([]float64, 3),
				}
			},
			wantErr: core.ErrShape,
		},
		{
			name: "logical factor on non-binary variable",
			build: func(g *model.Graph) model.FactorGroup {
				return &model.ORFactorGroup{
					GroupName: "or",
					Factors:   [][]model.VarRef{{{Group: "w", Index: 0}, {Group: "v", Index: 0}}},
				}
			},
			wantErr: core.ErrShape,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := model.NewGraph()
			require.NoError(t, g.AddVariableGroup("v", 2, 2))
			require.NoError(t, g.AddVariableGroup("w", 1, 3))

			err := g.AddFactorGroup(tt.build(g))
			if err == nil {
				// Duplicate-edge detection happens during compilation.
				_, err = compiler.Compile(g)
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestCompileEmptyGroupSkipped(t *testing.T) {
	t.Parallel()
	g := model.NewGraph()
	require.NoError(t, g.AddVariableGroup("v", 2, 2))
	require.NoError(t, g.AddFactorGroup(&model.ORFactorGroup{GroupName: "empty"}))

	fg, err := compiler.Compile(g)
	require.NoError(t, err)
	assert.Empty(t, fg.Groups)
	assert.Equal(t, 0, fg.TotalMsgLen)
}

func TestCompileUnreferencedVariables(t *testing.T) {
	t.Parallel()
	g := model.NewGraph()
	require.NoError(t, g.AddVariableGroup("used", 2, 2))
	require.NoError(t, g.AddVariableGroup("loose", 3, 4))
	require.NoError(t, g.AddFactorGroup(&model.PairwiseFactorGroup{
		GroupName:           "link",
		Pairs:               [][2]model.VarRef{{{Group: "used", Index: 0}, {Group: "used", Index: 1}}},
		SharedLogPotentials: make([]float64, 4),
	}))

	fg, err := compiler.Compile(g)
	require.NoError(t, err)
	// Unreferenced variables compile fine: they get evidence slots and an
	// empty incidence list.
	assert.Equal(t, 5, fg.NumVars)
	assert.Empty(t, fg.IncidentEdges(3))
}

func TestCompileDeterministic(t *testing.T) {
	t.Parallel()
	fg1, err := compiler.Compile(chainGraph(t))
	require.NoError(t, err)
	fg2, err := compiler.Compile(chainGraph(t))
	require.NoError(t, err)

	assert.Equal(t, fg1.VarOffsets, fg2.VarOffsets)
	assert.Equal(t, fg1.Groups, fg2.Groups)
	assert.Equal(t, fg1.VarEdges, fg2.VarEdges)
}
