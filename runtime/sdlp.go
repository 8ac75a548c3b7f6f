package runtime

import (
	"github.com/pkg/errors"
	"github.com/plan-systems/klog"

	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/kernels"
)

// SDLPOptions configures a smoothed-dual run.
//
// The solver minimizes the reparametrization dual of the LP relaxation of
// MAP, smoothed by LogSumExpTemp, with Nesterov-accelerated gradient
// descent. The dual variables are the factor-to-variable messages, so the
// arena's belief and decoding machinery applies unchanged.
type SDLPOptions struct {
	// LogSumExpTemp smooths the dual's max terms. At zero the run degrades
	// to subgradient descent on the non-smooth dual: it still makes
	// progress, but the objective sequence is not monotone.
	LogSumExpTemp float64

	// StepSize overrides the gradient step. Zero selects
	// LogSumExpTemp / maxDegree (maxDegree being the graph's largest
	// per-variable or per-factor edge count), a safe default for the
	// smoothed objective; at LogSumExpTemp == 0 there is no principled
	// default and 1e-3 / maxDegree is used instead.
	StepSize float64

	// CheckNumerics scans the dual variables for NaN/Inf after each step.
	CheckNumerics bool
}

// DefaultSDLPOptions uses a mild smoothing suitable for tight MAP bounds.
func DefaultSDLPOptions() SDLPOptions {
	return SDLPOptions{LogSumExpTemp: 1e-3}
}

func (o SDLPOptions) validate() error {
	if o.LogSumExpTemp < 0 {
		return errors.Wrapf(core.ErrBadTemperature, "got %v", o.LogSumExpTemp)
	}
	return nil
}

func (o SDLPOptions) step(fg *core.FlatGraph) float64 {
	if o.StepSize > 0 {
		return o.StepSize
	}
	deg := fg.MaxDegree
	if deg == 0 {
		deg = 1
	}
	temp := o.LogSumExpTemp
	if temp == 0 {
		temp = 1e-3
	}
	return temp / float64(deg)
}

// RunSDLP performs numIters accelerated gradient steps in place.
func RunSDLP(a *Arena, numIters int, opts SDLPOptions) error {
	_, err := runSDLP(a, numIters, opts, false)
	return err
}

// RunSDLPWithObjVals runs like RunSDLP and records the dual objective after
// every step. The sequence is non-increasing modulo floating-point noise for
// small enough steps at positive temperature; at temperature zero it lets
// callers watch the non-monotone subgradient progress.
func RunSDLPWithObjVals(a *Arena, numIters int, opts SDLPOptions) ([]float64, error) {
	return runSDLP(a, numIters, opts, true)
}

func runSDLP(a *Arena, numIters int, opts SDLPOptions, withObj bool) ([]float64, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if numIters < 0 {
		return nil, errors.Wrapf(core.ErrBadNumIters, "got %d", numIters)
	}

	a.ensureDual()
	fg := a.fg
	eta := opts.step(fg)
	temp := opts.LogSumExpTemp
	mu := a.F2V
	nu := a.newF2V // lookahead point, reusing the BP scratch

	var objs []float64
	if withObj {
		objs = make([]float64, 0, numIters)
	}

	for it := 0; it < numIters; it++ {
		t := a.iter + 1
		beta := float64(t-1) / float64(t+2)
		for i := range mu {
			nu[i] = mu[i] + beta*(mu[i]-a.muPrev[i])
		}

		dualGradient(a, nu, temp)

		copy(a.muPrev, mu)
		for i := range mu {
			mu[i] = nu[i] - eta*a.grad[i]
		}
		a.iter++

		if opts.CheckNumerics && kernels.HasBadValues(mu) {
			klog.Warningf("arena %s: non-finite dual variables after step %d", a.ID, it+1)
		}
		if withObj {
			objs = append(objs, DualObjective(a, temp))
		}
		if klog.V(2) {
			klog.Infof("arena %s: sdlp step %d/%d done", a.ID, it+1, numIters)
		}
	}
	return objs, nil
}

// dualGradient fills a.grad with the gradient of the smoothed dual at the
// point nu: per edge, the variable-side marginal minus the factor-side
// marginal of the edge's variable.
func dualGradient(a *Arena, nu []float64, temp float64) {
	fg := a.fg

	// Variable marginals, softmaxed in place over the belief scratch, then
	// scattered to every incident edge.
	kernels.ComputeBeliefs(fg, a.Evidence, nu, a.beliefs)
	for v := int32(0); v < int32(fg.NumVars); v++ {
		bel := fg.VarSlice(a.beliefs, v)
		kernels.SoftmaxTempInto(bel, bel, temp)
		for _, off := range fg.IncidentEdges(v) {
			for x := range bel {
				a.grad[int(off)+x] = bel[x]
			}
		}
	}

	// Factor marginals subtract in fixed group order.
	for gi := range fg.Groups {
		g := &fg.Groups[gi]
		kernels.Catalog[g.Kind].Grad(g, a.LogPot[gi], nu, a.grad, temp)
	}
}

// DualObjective evaluates the smoothed dual at the current dual variables:
// the soft maxima of the variable beliefs plus each factor's soft maximum
// over local scores.
func DualObjective(a *Arena, temp float64) float64 {
	fg := a.fg
	kernels.ComputeBeliefs(fg, a.Evidence, a.F2V, a.beliefs)
	total := 0.0
	for v := int32(0); v < int32(fg.NumVars); v++ {
		total += kernels.LogSumExpTemp(fg.VarSlice(a.beliefs, v), temp)
	}
	for gi := range fg.Groups {
		g := &fg.Groups[gi]
		total += kernels.Catalog[g.Kind].Objective(g, a.LogPot[gi], a.F2V, temp)
	}
	return total
}

// PrimalUpperBound returns the dual objective at the current dual variables,
// an upper bound on the LP-MAP optimum that tightens as the temperature
// approaches zero.
func PrimalUpperBound(a *Arena, temp float64) float64 {
	return DualObjective(a, temp)
}

// MapLowerBound scores an integer decoding under the graph's potentials: the
// total log-potential of the assignment, a lower bound on the MAP optimum.
func MapLowerBound(a *Arena, decoding map[string][]int) (float64, error) {
	assign, err := assignFromDecoding(a.fg, decoding)
	if err != nil {
		return 0, err
	}
	return totalScore(a, assign), nil
}

// DecodePrimalUnaries rounds the variable-wise softmax to its argmax and
// returns the integer decoding together with its score.
func DecodePrimalUnaries(a *Arena) (map[string][]int, float64) {
	fg := a.fg
	kernels.ComputeBeliefs(fg, a.Evidence, a.F2V, a.beliefs)
	decoding := decodeStates(fg, a.beliefs)
	assign, _ := assignFromDecoding(fg, decoding)
	return decoding, totalScore(a, assign)
}
