// Package compiler flattens a declarative factor graph into the core
// representation consumed by the inference runtime.
//
// Compilation pipeline:
//  1. Validate the model.Graph description
//  2. Assign dense variable ids and prefix-summed state offsets
//  3. Build per-group edge tables with flat message offsets, in
//     (group, factor, slot) order
//  4. Expand log-potential tables (broadcasting shared rows per factor)
//  5. Build the reverse CSR mapping each variable to its incident edges
//
// The resulting core.FlatGraph is immutable and may be shared read-only by
// any number of concurrent inference sessions. Offset assignment order is
// deterministic, which fixes the reduction order inside every kernel and
// makes inference runs bit-reproducible.
package compiler

import (
	"github.com/pkg/errors"

	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/kernels"
	"github.com/sbl8/loopy/model"
)

// Compile turns a validated graph description into its flat form.
func Compile(g *model.Graph) (*core.FlatGraph, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	fg := &core.FlatGraph{}
	varBase := assignVariables(g, fg)

	msgOffset := int32(0)
	for _, mfg := range g.FactorGroups() {
		if mfg.NumFactors() == 0 {
			continue // empty groups are permitted but contribute nothing
		}
		if !kernels.Supported(mfg.Kind()) {
			return nil, errors.Wrapf(core.ErrUnsupportedFactorKind, "group %q kind %s", mfg.Name(), mfg.Kind())
		}
		gd, next, err := compileGroup(g, mfg, varBase, fg, msgOffset)
		if err != nil {
			return nil, err
		}
		msgOffset = next
		fg.Groups = append(fg.Groups, gd)
	}
	fg.TotalMsgLen = int(msgOffset)

	buildReverseCSR(fg)
	for gi := range fg.Groups {
		g := &fg.Groups[gi]
		for f := 0; f < g.NumFactors; f++ {
			if arity := len(g.FactorEdges(f)); arity > fg.MaxDegree {
				fg.MaxDegree = arity
			}
		}
	}
	fg.BuildIndexes()
	return fg, nil
}

// assignVariables gives each variable group a contiguous id range and
// returns the per-group base ids, keyed by group name.
func assignVariables(g *model.Graph, fg *core.FlatGraph) map[string]int32 {
	varBase := make(map[string]int32)
	numVars := 0
	for _, vg := range g.VariableGroups() {
		varBase[vg.Name] = int32(numVars)
		fg.VarGroups = append(fg.VarGroups, core.VarGroupDesc{
			Name:      vg.Name,
			FirstVar:  numVars,
			NumVars:   vg.NumVars,
			NumStates: vg.NumStates,
		})
		numVars += vg.NumVars
	}

	fg.NumVars = numVars
	fg.VarStates = make([]int32, numVars)
	fg.VarOffsets = make([]int32, numVars+1)
	v := 0
	total := int32(0)
	for _, vg := range g.VariableGroups() {
		for i := 0; i < vg.NumVars; i++ {
			fg.VarStates[v] = int32(vg.NumStates)
			fg.VarOffsets[v] = total
			total += int32(vg.NumStates)
			v++
		}
	}
	fg.VarOffsets[numVars] = total
	fg.TotalStates = int(total)
	return varBase
}

// compileGroup builds one GroupDesc and returns the next free message offset.
func compileGroup(g *model.Graph, mfg model.FactorGroup, varBase map[string]int32, fg *core.FlatGraph, msgOffset int32) (core.GroupDesc, int32, error) {
	gd := core.GroupDesc{
		Kind:       mfg.Kind(),
		Name:       mfg.Name(),
		NumFactors: mfg.NumFactors(),
	}

	factorVars := groupFactorVars(mfg)
	gd.FactorStart = make([]int32, 0, gd.NumFactors+1)
	gd.FactorStart = append(gd.FactorStart, 0)

	for f, refs := range factorVars {
		seen := make(map[int32]bool, len(refs))
		for s, ref := range refs {
			id := varBase[ref.Group] + int32(ref.Index)
			if seen[id] {
				return gd, 0, errors.Wrapf(core.ErrDuplicateEdge, "group %q factor %d slot %d: %s[%d]",
					gd.Name, f, s, ref.Group, ref.Index)
			}
			seen[id] = true
			k := fg.VarStates[id]
			gd.Edges = append(gd.Edges, core.EdgeDesc{Var: id, Offset: msgOffset, States: k})
			msgOffset += k
		}
		gd.FactorStart = append(gd.FactorStart, int32(len(gd.Edges)))
	}

	attachPotentials(mfg, &gd)
	return gd, msgOffset, nil
}

// groupFactorVars normalizes the per-kind variable lists to one shape.
func groupFactorVars(mfg model.FactorGroup) [][]model.VarRef {
	switch t := mfg.(type) {
	case *model.EnumeratedFactorGroup:
		return t.Vars
	case *model.PairwiseFactorGroup:
		out := make([][]model.VarRef, len(t.Pairs))
		for f, pair := range t.Pairs {
			out[f] = []model.VarRef{pair[0], pair[1]}
		}
		return out
	case *model.ORFactorGroup:
		return t.Factors
	case *model.ANDFactorGroup:
		return t.Factors
	}
	return nil
}

// attachPotentials fills the configuration table and the expanded per-factor
// log-potential array for the kinds that carry one.
func attachPotentials(mfg model.FactorGroup, gd *core.GroupDesc) {
	switch t := mfg.(type) {
	case *model.EnumeratedFactorGroup:
		gd.Arity = len(t.Vars[0])
		gd.NumConfigs = len(t.Configs)
		gd.Configs = make([]int32, 0, gd.NumConfigs*gd.Arity)
		for _, row := range t.Configs {
			for _, st := range row {
				gd.Configs = append(gd.Configs, int32(st))
			}
		}
		gd.LogPotStride = gd.NumConfigs
		gd.LogPot = make([]float64, gd.NumFactors*gd.LogPotStride)
		for f := 0; f < gd.NumFactors; f++ {
			row := t.SharedLogPotentials
			if row == nil {
				row = t.LogPotentials[f]
			}
			copy(gd.LogPot[f*gd.LogPotStride:], row)
		}

	case *model.PairwiseFactorGroup:
		gd.Arity = 2
		e := gd.FactorEdges(0)
		gd.LogPotStride = int(e[0].States * e[1].States)
		gd.LogPot = make([]float64, gd.NumFactors*gd.LogPotStride)
		for f := 0; f < gd.NumFactors; f++ {
			m := t.SharedLogPotentials
			if m == nil {
				m = t.LogPotentials[f]
			}
			copy(gd.LogPot[f*gd.LogPotStride:], m)
		}

	case *model.ORFactorGroup, *model.ANDFactorGroup:
		// Logical groups carry no table.
	}
}

// buildReverseCSR computes the variable -> incident-edge mapping and the
// maximum variable degree.
func buildReverseCSR(fg *core.FlatGraph) {
	counts := make([]int32, fg.NumVars+1)
	for gi := range fg.Groups {
		for _, e := range fg.Groups[gi].Edges {
			counts[e.Var+1]++
		}
	}
	fg.VarEdgeStart = make([]int32, fg.NumVars+1)
	for v := 0; v < fg.NumVars; v++ {
		fg.VarEdgeStart[v+1] = fg.VarEdgeStart[v] + counts[v+1]
		if int(counts[v+1]) > fg.MaxDegree {
			fg.MaxDegree = int(counts[v+1])
		}
	}

	fg.VarEdges = make([]int32, fg.VarEdgeStart[fg.NumVars])
	cursor := make([]int32, fg.NumVars)
	copy(cursor, fg.VarEdgeStart[:fg.NumVars])
	for gi := range fg.Groups {
		for _, e := range fg.Groups[gi].Edges {
			fg.VarEdges[cursor[e.Var]] = e.Offset
			cursor[e.Var]++
		}
	}
}
