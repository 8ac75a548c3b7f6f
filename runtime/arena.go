// Package runtime implements the mutable inference state and the drivers.
//
// An Arena owns every numeric array one inference session mutates: the two
// flat message arrays, the evidence vector, per-group log-potential tables
// (baseline copies or caller overrides), and the auxiliary buffers the
// smoothed-dual solver needs. The compiled core.FlatGraph is referenced
// read-only and may back any number of concurrent arenas; a single Arena
// must not be mutated from two goroutines.
//
// NewArena sizes the message, evidence, log-potential and BP scratch buffers
// once; the smoothed-dual buffers are sized on the first SDLP run. Kernels
// allocate small per-call scratch for their reductions.
package runtime

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sbl8/loopy/core"
)

// InitOptions seeds a fresh Arena. All fields are optional; zero evidence
// and baseline log-potentials are the defaults.
type InitOptions struct {
	// EvidenceUpdates maps variable-group names to row-major
	// NumVars x NumStates log-domain unaries.
	EvidenceUpdates map[string][]float64

	// LogPotentialsUpdates maps factor-group names to replacement tables:
	// either NumFactors*stride values, or a single stride-length row
	// broadcast to every factor.
	LogPotentialsUpdates map[string][]float64

	// MessageSeeds maps variable-group names to row-major
	// NumVars x NumStates vectors added to the initial factor-to-variable
	// messages. A variable's vector is split equally across its incident
	// edges so the seeded belief contribution equals the given vector.
	MessageSeeds map[string][]float64
}

// Arena is the mutable state of one inference session.
type Arena struct {
	// ID tags the session in log output.
	ID string

	fg *core.FlatGraph

	// F2V and V2F hold the log-domain edge messages; for the smoothed-dual
	// solver F2V doubles as the dual variables.
	F2V []float64
	V2F []float64

	// Evidence holds per-variable log-domain unaries.
	Evidence []float64

	// LogPot holds one table per factor group, laid out like the baseline.
	LogPot [][]float64

	// Scratch and solver buffers.
	beliefs []float64
	newF2V  []float64
	muPrev  []float64
	grad    []float64

	iter int // accelerated-descent step counter
}

// Graph returns the compiled graph this arena runs against.
func (a *Arena) Graph() *core.FlatGraph { return a.fg }

// NewArena allocates and seeds inference state for fg. Updates are validated
// before anything is applied, so a failed init leaves nothing observable.
func NewArena(fg *core.FlatGraph, opts InitOptions) (*Arena, error) {
	if err := validateInit(fg, opts); err != nil {
		return nil, err
	}

	a := &Arena{
		ID:       uuid.NewString(),
		fg:       fg,
		F2V:      make([]float64, fg.TotalMsgLen),
		V2F:      make([]float64, fg.TotalMsgLen),
		Evidence: make([]float64, fg.TotalStates),
		LogPot:   make([][]float64, len(fg.Groups)),
		beliefs:  make([]float64, fg.TotalStates),
		newF2V:   make([]float64, fg.TotalMsgLen),
	}

	for gi := range fg.Groups {
		g := &fg.Groups[gi]
		table := make([]float64, len(g.LogPot))
		copy(table, g.LogPot)
		if upd, ok := opts.LogPotentialsUpdates[g.Name]; ok {
			if len(upd) == g.LogPotStride {
				for f := 0; f < g.NumFactors; f++ {
					copy(table[f*g.LogPotStride:], upd)
				}
			} else {
				copy(table, upd)
			}
		}
		a.LogPot[gi] = table
	}

	for name, ev := range opts.EvidenceUpdates {
		vg, _ := fg.VarGroup(name)
		copy(a.Evidence[fg.VarOffsets[vg.FirstVar]:], ev)
	}

	for name, seed := range opts.MessageSeeds {
		vg, _ := fg.VarGroup(name)
		for i := 0; i < vg.NumVars; i++ {
			v := int32(vg.FirstVar + i)
			incident := fg.IncidentEdges(v)
			if len(incident) == 0 {
				continue
			}
			share := 1.0 / float64(len(incident))
			row := seed[i*vg.NumStates : (i+1)*vg.NumStates]
			for _, off := range incident {
				for x, s := range row {
					a.F2V[int(off)+x] += s * share
				}
			}
		}
	}

	return a, nil
}

// validateInit checks every update against the graph before mutation.
func validateInit(fg *core.FlatGraph, opts InitOptions) error {
	for name, ev := range opts.EvidenceUpdates {
		vg, ok := fg.VarGroup(name)
		if !ok {
			return errors.Wrapf(core.ErrUnknownVariableGroup, "evidence update %q", name)
		}
		if len(ev) != vg.NumVars*vg.NumStates {
			return errors.Wrapf(core.ErrShape, "evidence update %q: got %d values, want %d",
				name, len(ev), vg.NumVars*vg.NumStates)
		}
	}
	for name, upd := range opts.LogPotentialsUpdates {
		g, ok := fg.Group(name)
		if !ok {
			return errors.Wrapf(core.ErrUnknownFactorGroup, "log-potentials update %q", name)
		}
		if len(upd) != g.LogPotStride && len(upd) != g.NumFactors*g.LogPotStride {
			return errors.Wrapf(core.ErrShape, "log-potentials update %q: got %d values, want %d or %d",
				name, len(upd), g.LogPotStride, g.NumFactors*g.LogPotStride)
		}
		if g.LogPotStride == 0 {
			return errors.Wrapf(core.ErrShape, "log-potentials update %q: %s groups carry no table", name, g.Kind)
		}
	}
	for name, seed := range opts.MessageSeeds {
		vg, ok := fg.VarGroup(name)
		if !ok {
			return errors.Wrapf(core.ErrUnknownVariableGroup, "message seed %q", name)
		}
		if len(seed) != vg.NumVars*vg.NumStates {
			return errors.Wrapf(core.ErrShape, "message seed %q: got %d values, want %d",
				name, len(seed), vg.NumVars*vg.NumStates)
		}
	}
	return nil
}

// ensureDual sizes the smoothed-dual buffers on first use.
func (a *Arena) ensureDual() {
	if a.muPrev == nil {
		a.muPrev = make([]float64, len(a.F2V))
		a.grad = make([]float64, len(a.F2V))
		copy(a.muPrev, a.F2V)
	}
}

// Clone copies the arena's mutable state into a fresh session, so one
// initialization can seed several arenas, for example a RunBatch batch.
func (a *Arena) Clone() *Arena {
	c := &Arena{
		ID:       uuid.NewString(),
		fg:       a.fg,
		F2V:      append([]float64(nil), a.F2V...),
		V2F:      append([]float64(nil), a.V2F...),
		Evidence: append([]float64(nil), a.Evidence...),
		LogPot:   make([][]float64, len(a.LogPot)),
		beliefs:  make([]float64, len(a.beliefs)),
		newF2V:   make([]float64, len(a.newF2V)),
		iter:     a.iter,
	}
	for i, t := range a.LogPot {
		c.LogPot[i] = append([]float64(nil), t...)
	}
	if a.muPrev != nil {
		c.muPrev = append([]float64(nil), a.muPrev...)
		c.grad = make([]float64, len(a.grad))
	}
	return c
}
