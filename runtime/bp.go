package runtime

import (
	"github.com/pkg/errors"
	"github.com/plan-systems/klog"

	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/kernels"
)

// BPOptions configures a belief-propagation run.
type BPOptions struct {
	// Temperature interpolates max-product (0) and sum-product (> 0).
	Temperature float64

	// Damping mixes each fresh factor-to-variable message with the previous
	// one: new = (1-d)*computed + d*old. Must lie in [0, 1).
	Damping float64

	// CheckNumerics scans messages for NaN/Inf after each iteration and
	// logs a warning. Detection is off by default and never aborts the run.
	CheckNumerics bool
}

// DefaultBPOptions is plain max-product without damping.
func DefaultBPOptions() BPOptions {
	return BPOptions{}
}

func (o BPOptions) validate() error {
	if o.Temperature < 0 {
		return errors.Wrapf(core.ErrBadTemperature, "got %v", o.Temperature)
	}
	if o.Damping < 0 || o.Damping >= 1 {
		return errors.Wrapf(core.ErrBadDamping, "got %v", o.Damping)
	}
	return nil
}

// RunBP performs numIters synchronous BP iterations in place. Each iteration
// refreshes the variable-to-factor messages from the previous iteration's
// factor-to-variable messages, then updates every factor group in fixed
// group order. There is no convergence check: loopy graphs are not
// guaranteed to converge, and callers control work through numIters.
func RunBP(a *Arena, numIters int, opts BPOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if numIters < 0 {
		return errors.Wrapf(core.ErrBadNumIters, "got %d", numIters)
	}

	fg := a.fg
	for it := 0; it < numIters; it++ {
		kernels.UpdateVariables(fg, a.Evidence, a.F2V, a.V2F, a.beliefs)

		for gi := range fg.Groups {
			g := &fg.Groups[gi]
			kernels.Catalog[g.Kind].F2V(g, a.LogPot[gi], a.V2F, a.newF2V, opts.Temperature)
		}

		if opts.Damping == 0 {
			copy(a.F2V, a.newF2V)
		} else {
			d := opts.Damping
			for i := range a.F2V {
				a.F2V[i] = (1-d)*a.newF2V[i] + d*a.F2V[i]
			}
		}

		if opts.CheckNumerics && kernels.HasBadValues(a.F2V) {
			klog.Warningf("arena %s: non-finite messages after iteration %d", a.ID, it+1)
		}
		if klog.V(2) {
			klog.Infof("arena %s: bp iteration %d/%d done", a.ID, it+1, numIters)
		}
	}
	return nil
}
