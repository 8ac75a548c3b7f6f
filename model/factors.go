package model

import (
	"github.com/pkg/errors"

	"github.com/sbl8/loopy/core"
)

// EnumeratedFactorGroup holds factors defined by an explicit table of valid
// configurations over their connected variables. All factors in the group
// share one configuration table; log-potentials are per factor (one row per
// configuration), or a single shared row broadcast to every factor.
type EnumeratedFactorGroup struct {
	GroupName string

	// Vars lists each factor's connected variables in slot order. Every
	// factor must have the same arity and the same per-slot state counts.
	Vars [][]VarRef

	// Configs are the valid configurations, one row of per-slot states each.
	Configs [][]int

	// LogPotentials holds one row of len(Configs) values per factor. Leave
	// nil and set SharedLogPotentials to broadcast a single row.
	LogPotentials       [][]float64
	SharedLogPotentials []float64
}

// Name implements FactorGroup.
func (e *EnumeratedFactorGroup) Name() string { return e.GroupName }

// Kind implements FactorGroup.
func (e *EnumeratedFactorGroup) Kind() core.FactorKind { return core.KindEnumerated }

// NumFactors implements FactorGroup.
func (e *EnumeratedFactorGroup) NumFactors() int { return len(e.Vars) }

func (e *EnumeratedFactorGroup) validate(g *Graph) error {
	if len(e.Vars) == 0 {
		return nil // empty groups are permitted and skipped by the compiler
	}
	arity := len(e.Vars[0])
	if arity == 0 {
		return errors.Wrapf(core.ErrShape, "group %q: factors must connect at least one variable", e.GroupName)
	}

	// Slot shapes, uniform across the group.
	slotStates := make([]int, arity)
	for i, ref := range e.Vars[0] {
		vg, err := g.resolve(ref)
		if err != nil {
			return errors.Wrapf(err, "group %q factor 0 slot %d", e.GroupName, i)
		}
		slotStates[i] = vg.NumStates
	}
	for f, refs := range e.Vars {
		if len(refs) != arity {
			return errors.Wrapf(core.ErrShape, "group %q factor %d: arity %d, group arity %d", e.GroupName, f, len(refs), arity)
		}
		for s, ref := range refs {
			vg, err := g.resolve(ref)
			if err != nil {
				return errors.Wrapf(err, "group %q factor %d slot %d", e.GroupName, f, s)
			}
			if vg.NumStates != slotStates[s] {
				return errors.Wrapf(core.ErrShape, "group %q factor %d slot %d: %d states, group slot has %d",
					e.GroupName, f, s, vg.NumStates, slotStates[s])
			}
		}
	}

	if len(e.Configs) == 0 {
		return errors.Wrapf(core.ErrShape, "group %q: configuration table is empty", e.GroupName)
	}
	for c, row := range e.Configs {
		if len(row) != arity {
			return errors.Wrapf(core.ErrShape, "group %q config %d: %d entries, arity %d", e.GroupName, c, len(row), arity)
		}
		for s, st := range row {
			if st < 0 || st >= slotStates[s] {
				return errors.Wrapf(core.ErrShape, "group %q config %d slot %d: state %d out of %d",
					e.GroupName, c, s, st, slotStates[s])
			}
		}
	}

	switch {
	case e.SharedLogPotentials != nil:
		if e.LogPotentials != nil {
			return errors.Wrapf(core.ErrShape, "group %q: both shared and per-factor log-potentials set", e.GroupName)
		}
		if len(e.SharedLogPotentials) != len(e.Configs) {
			return errors.Wrapf(core.ErrShape, "group %q: %d shared log-potentials for %d configs",
				e.GroupName, len(e.SharedLogPotentials), len(e.Configs))
		}
	case e.LogPotentials != nil:
		if len(e.LogPotentials) != len(e.Vars) {
			return errors.Wrapf(core.ErrShape, "group %q: %d log-potential rows for %d factors",
				e.GroupName, len(e.LogPotentials), len(e.Vars))
		}
		for f, row := range e.LogPotentials {
			if len(row) != len(e.Configs) {
				return errors.Wrapf(core.ErrShape, "group %q factor %d: %d log-potentials for %d configs",
					e.GroupName, f, len(row), len(e.Configs))
			}
		}
	default:
		return errors.Wrapf(core.ErrShape, "group %q: log-potentials missing", e.GroupName)
	}
	return nil
}

// PairwiseFactorGroup holds degree-2 factors with dense k1 x k2 log-potential
// matrices. All pairs must have the same (k1, k2) shape so kernels can batch
// over the group.
type PairwiseFactorGroup struct {
	GroupName string

	Pairs [][2]VarRef

	// LogPotentials holds one row-major k1*k2 matrix per factor; or set
	// SharedLogPotentials to broadcast one matrix to every factor.
	LogPotentials       [][]float64
	SharedLogPotentials []float64
}

// Name implements FactorGroup.
func (p *PairwiseFactorGroup) Name() string { return p.GroupName }

// Kind implements FactorGroup.
func (p *PairwiseFactorGroup) Kind() core.FactorKind { return core.KindPairwise }

// NumFactors implements FactorGroup.
func (p *PairwiseFactorGroup) NumFactors() int { return len(p.Pairs) }

func (p *PairwiseFactorGroup) validate(g *Graph) error {
	if len(p.Pairs) == 0 {
		return nil
	}
	var k1, k2 int
	for f, pair := range p.Pairs {
		vg0, err := g.resolve(pair[0])
		if err != nil {
			return errors.Wrapf(err, "group %q factor %d", p.GroupName, f)
		}
		vg1, err := g.resolve(pair[1])
		if err != nil {
			return errors.Wrapf(err, "group %q factor %d", p.GroupName, f)
		}
		if f == 0 {
			k1, k2 = vg0.NumStates, vg1.NumStates
		} else if vg0.NumStates != k1 || vg1.NumStates != k2 {
			return errors.Wrapf(core.ErrShape, "group %q factor %d: shape (%d,%d), group shape (%d,%d)",
				p.GroupName, f, vg0.NumStates, vg1.NumStates, k1, k2)
		}
	}

	want := k1 * k2
	switch {
	case p.SharedLogPotentials != nil:
		if p.LogPotentials != nil {
			return errors.Wrapf(core.ErrShape, "group %q: both shared and per-factor log-potentials set", p.GroupName)
		}
		if len(p.SharedLogPotentials) != want {
			return errors.Wrapf(core.ErrShape, "group %q: shared matrix has %d entries, want %d",
				p.GroupName, len(p.SharedLogPotentials), want)
		}
	case p.LogPotentials != nil:
		if len(p.LogPotentials) != len(p.Pairs) {
			return errors.Wrapf(core.ErrShape, "group %q: %d matrices for %d factors",
				p.GroupName, len(p.LogPotentials), len(p.Pairs))
		}
		for f, m := range p.LogPotentials {
			if len(m) != want {
				return errors.Wrapf(core.ErrShape, "group %q factor %d: matrix has %d entries, want %d",
					p.GroupName, f, len(m), want)
			}
		}
	default:
		return errors.Wrapf(core.ErrShape, "group %q: log-potentials missing", p.GroupName)
	}
	return nil
}

// ORFactorGroup holds logical OR factors over binary variables. Each factor's
// slot order is (parents..., child); the valid configurations are exactly
// those with child = OR(parents), all carrying log-potential zero. The
// implicit -inf entries for invalid configurations are never materialized.
type ORFactorGroup struct {
	GroupName string
	Factors   [][]VarRef // per factor: parents..., child; at least one parent
}

// Name implements FactorGroup.
func (o *ORFactorGroup) Name() string { return o.GroupName }

// Kind implements FactorGroup.
func (o *ORFactorGroup) Kind() core.FactorKind { return core.KindOR }

// NumFactors implements FactorGroup.
func (o *ORFactorGroup) NumFactors() int { return len(o.Factors) }

func (o *ORFactorGroup) validate(g *Graph) error {
	return validateLogical(g, o.GroupName, o.Factors)
}

// ANDFactorGroup is the dual of ORFactorGroup: child = AND(parents).
type ANDFactorGroup struct {
	GroupName string
	Factors   [][]VarRef
}

// Name implements FactorGroup.
func (a *ANDFactorGroup) Name() string { return a.GroupName }

// Kind implements FactorGroup.
func (a *ANDFactorGroup) Kind() core.FactorKind { return core.KindAND }

// NumFactors implements FactorGroup.
func (a *ANDFactorGroup) NumFactors() int { return len(a.Factors) }

func (a *ANDFactorGroup) validate(g *Graph) error {
	return validateLogical(g, a.GroupName, a.Factors)
}

func validateLogical(g *Graph, name string, factors [][]VarRef) error {
	for f, refs := range factors {
		if len(refs) < 2 {
			return errors.Wrapf(core.ErrShape, "group %q factor %d: need at least one parent and a child", name, f)
		}
		for s, ref := range refs {
			vg, err := g.resolve(ref)
			if err != nil {
				return errors.Wrapf(err, "group %q factor %d slot %d", name, f, s)
			}
			if vg.NumStates != 2 {
				return errors.Wrapf(core.ErrShape, "group %q factor %d slot %d: logical factors need binary variables, got %d states",
					name, f, s, vg.NumStates)
			}
		}
	}
	return nil
}
