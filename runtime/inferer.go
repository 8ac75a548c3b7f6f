package runtime

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/plan-systems/klog"

	"github.com/sbl8/loopy/core"
)

// Backend selects the inference algorithm behind the facade.
type Backend string

// Supported backends.
const (
	BackendBP   Backend = "bp"
	BackendSDLP Backend = "sdlp"
)

// RunOptions carries the per-run knobs of both backends. The BP fields are
// ignored by the SDLP backend and vice versa.
type RunOptions struct {
	// BP
	Temperature float64
	Damping     float64

	// SDLP
	LogSumExpTemp float64
	StepSize      float64

	CheckNumerics bool
}

// Inferer is the single entry point for running inference on a compiled
// graph. It is stateless: all mutable state lives in the arenas it hands
// out, so one Inferer serves any number of concurrent sessions.
type Inferer struct {
	fg      *core.FlatGraph
	backend Backend
}

// BuildInferer selects a backend for the graph.
func BuildInferer(fg *core.FlatGraph, backend Backend) (*Inferer, error) {
	switch backend {
	case BackendBP, BackendSDLP:
		return &Inferer{fg: fg, backend: backend}, nil
	}
	return nil, errors.Wrapf(core.ErrBadBackend, "%q", backend)
}

// Backend returns the selected backend.
func (inf *Inferer) Backend() Backend { return inf.backend }

// Init allocates a fresh arena seeded with the given updates.
func (inf *Inferer) Init(opts InitOptions) (*Arena, error) {
	return NewArena(inf.fg, opts)
}

// Run advances the arena by numIters iterations of the selected backend.
func (inf *Inferer) Run(a *Arena, numIters int, opts RunOptions) error {
	switch inf.backend {
	case BackendSDLP:
		return RunSDLP(a, numIters, SDLPOptions{
			LogSumExpTemp: opts.LogSumExpTemp,
			StepSize:      opts.StepSize,
			CheckNumerics: opts.CheckNumerics,
		})
	default:
		return RunBP(a, numIters, BPOptions{
			Temperature:   opts.Temperature,
			Damping:       opts.Damping,
			CheckNumerics: opts.CheckNumerics,
		})
	}
}

// RunWithObjVals runs the SDLP backend and records the dual objective after
// every step. Only valid for the SDLP backend.
func (inf *Inferer) RunWithObjVals(a *Arena, numIters int, opts RunOptions) ([]float64, error) {
	if inf.backend != BackendSDLP {
		return nil, errors.Wrapf(core.ErrBadBackend, "objective values need the sdlp backend, have %q", inf.backend)
	}
	return RunSDLPWithObjVals(a, numIters, SDLPOptions{
		LogSumExpTemp: opts.LogSumExpTemp,
		StepSize:      opts.StepSize,
		CheckNumerics: opts.CheckNumerics,
	})
}

// GetBeliefs reads the arena's current beliefs per variable group.
func (inf *Inferer) GetBeliefs(a *Arena) map[string][]float64 {
	return GetBeliefs(a)
}

// GetPrimalUpperBound returns the dual objective at the arena's current dual
// variables (SDLP backend).
func (inf *Inferer) GetPrimalUpperBound(a *Arena, opts RunOptions) float64 {
	return PrimalUpperBound(a, opts.LogSumExpTemp)
}

// GetMapLowerBound scores a decoding under the graph's potentials (SDLP
// backend).
func (inf *Inferer) GetMapLowerBound(a *Arena, decoding map[string][]int) (float64, error) {
	return MapLowerBound(a, decoding)
}

// DecodePrimalUnaries rounds the variable softmax to its argmax (SDLP
// backend).
func (inf *Inferer) DecodePrimalUnaries(a *Arena) (map[string][]int, float64) {
	return DecodePrimalUnaries(a)
}

// RunBatch advances every arena by numIters iterations, fanning out over at
// most workers goroutines. Arenas are independent sessions over the shared
// graph, so the fan-out changes wall time only: each arena's result is
// identical to a sequential Run.
func (inf *Inferer) RunBatch(arenas []*Arena, numIters int, opts RunOptions, workers int) error {
	if workers < 1 {
		workers = 1
	}
	if workers > len(arenas) {
		workers = len(arenas)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	jobs := make(chan *Arena)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				if err := inf.Run(a, numIters, opts); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	for _, a := range arenas {
		jobs <- a
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if klog.V(1) {
		klog.Infof("batch of %d arenas ran %d iterations on %d workers", len(arenas), numIters, workers)
	}
	return nil
}
