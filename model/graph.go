// Package model defines the declarative factor-graph description.
//
// A Graph is built from named variable groups (uniform-shape batches of
// categorical variables) and factor groups of four kinds: enumerated,
// pairwise, OR and AND. The description is validated here, then handed to
// the compiler, which flattens it into the core representation used by the
// inference runtime. After compilation the Graph plays no further role.
//
// Variables are addressed as (group name, index) pairs; each group owns a
// contiguous range of global ids assigned at compile time, so translating a
// reference to a flat id is a single addition.
package model

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/pkg/errors"

	"github.com/sbl8/loopy/core"
)

// VarRef addresses one variable inside a variable group.
type VarRef struct {
	Group string
	Index int
}

// VariableGroup is a uniform batch of categorical variables.
type VariableGroup struct {
	Name      string
	NumVars   int
	NumStates int // k >= 2
}

// FactorGroup is one homogeneous batch of factors.
type FactorGroup interface {
	Name() string
	Kind() core.FactorKind
	NumFactors() int

	// validate checks internal consistency against the graph's variables.
	validate(g *Graph) error
}

// Graph is a factor-graph description under construction. Group order is
// insertion order and defines execution order after compilation; the treemap
// only backs name lookup.
type Graph struct {
	varGroups    []VariableGroup
	factorGroups []FactorGroup
	names        *treemap.Map // name -> struct{}{}, uniqueness across both kinds
}

// NewGraph returns an empty graph description.
func NewGraph() *Graph {
	return &Graph{
		names: treemap.NewWith(utils.StringComparator),
	}
}

// AddVariableGroup registers a named batch of numVars variables with
// numStates states each.
func (g *Graph) AddVariableGroup(name string, numVars, numStates int) error {
	if name == "" {
		return errors.Wrap(core.ErrShape, "variable group name must be non-empty")
	}
	if _, taken := g.names.Get(name); taken {
		return errors.Wrapf(core.ErrDuplicateName, "group %q", name)
	}
	if numVars < 1 {
		return errors.Wrapf(core.ErrShape, "variable group %q: need at least one variable, got %d", name, numVars)
	}
	if numStates < 2 {
		return errors.Wrapf(core.ErrShape, "variable group %q: need at least two states, got %d", name, numStates)
	}
	g.names.Put(name, struct{}{})
	g.varGroups = append(g.varGroups, VariableGroup{Name: name, NumVars: numVars, NumStates: numStates})
	return nil
}

// AddFactorGroup registers a factor group. The group is validated against the
// variable groups added so far.
func (g *Graph) AddFactorGroup(fg FactorGroup) error {
	if fg.Name() == "" {
		return errors.Wrap(core.ErrShape, "factor group name must be non-empty")
	}
	if _, taken := g.names.Get(fg.Name()); taken {
		return errors.Wrapf(core.ErrDuplicateName, "group %q", fg.Name())
	}
	if err := fg.validate(g); err != nil {
		return err
	}
	g.names.Put(fg.Name(), struct{}{})
	g.factorGroups = append(g.factorGroups, fg)
	return nil
}

// VariableGroups returns variable groups in insertion order.
func (g *Graph) VariableGroups() []VariableGroup {
	return g.varGroups
}

// FactorGroups returns factor groups in insertion order.
func (g *Graph) FactorGroups() []FactorGroup {
	return g.factorGroups
}

// VariableGroup looks up a variable group by name.
func (g *Graph) VariableGroup(name string) (VariableGroup, bool) {
	for _, vg := range g.varGroups {
		if vg.Name == name {
			return vg, true
		}
	}
	return VariableGroup{}, false
}

// Validate re-checks the whole description. Groups are validated on add;
// this is for callers that assemble a Graph through other paths, such as the
// text-format parser.
func (g *Graph) Validate() error {
	if len(g.varGroups) == 0 {
		return core.ErrEmptyGraph
	}
	for _, fg := range g.factorGroups {
		if err := fg.validate(g); err != nil {
			return err
		}
	}
	return nil
}

// resolve maps a VarRef to its group, or fails with the reference spelled out.
func (g *Graph) resolve(ref VarRef) (VariableGroup, error) {
	vg, ok := g.VariableGroup(ref.Group)
	if !ok {
		return VariableGroup{}, errors.Wrapf(core.ErrUnknownVariableGroup, "%q", ref.Group)
	}
	if ref.Index < 0 || ref.Index >= vg.NumVars {
		return VariableGroup{}, errors.Wrapf(core.ErrBadVariableRef, "%s[%d] of %d", ref.Group, ref.Index, vg.NumVars)
	}
	return vg, nil
}
