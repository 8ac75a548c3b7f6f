package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbl8/loopy/compiler"
	"github.com/sbl8/loopy/core"
	"github.com/sbl8/loopy/model"
	"github.com/sbl8/loopy/runtime"
)

func newBenchCmd() *cobra.Command {
	var (
		backend  string
		size     int
		iters    int
		coupling float64
		seed     int64
		damping  float64
		lseTemp  float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time inference on a toroidal Ising grid with Gumbel evidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			fg, evidence, err := buildIsingGrid(size, coupling, seed)
			if err != nil {
				return err
			}

			inf, err := runtime.BuildInferer(fg, runtime.Backend(backend))
			if err != nil {
				return err
			}
			arena, err := inf.Init(runtime.InitOptions{EvidenceUpdates: evidence})
			if err != nil {
				return err
			}

			opts := runtime.RunOptions{Damping: damping, LogSumExpTemp: lseTemp}
			start := time.Now()
			if err := inf.Run(arena, iters, opts); err != nil {
				return err
			}
			elapsed := time.Since(start)

			var decoding map[string][]int
			if inf.Backend() == runtime.BackendSDLP {
				decoding, _ = inf.DecodePrimalUnaries(arena)
			} else {
				decoding = runtime.DecodeMAPStates(fg, inf.GetBeliefs(arena))
			}
			energy, err := runtime.ComputeEnergy(arena, decoding)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "grid %dx%d, %d factors, %d edges\n", size, size, fg.NumFactors(), fg.NumEdges())
			fmt.Fprintf(out, "%s: %d iterations in %v (%.1f iters/s)\n",
				backend, iters, elapsed, float64(iters)/elapsed.Seconds())
			fmt.Fprintf(out, "energy: %.6f\n", energy)
			if inf.Backend() == runtime.BackendSDLP {
				upper := inf.GetPrimalUpperBound(arena, opts)
				lower, _ := inf.GetMapLowerBound(arena, decoding)
				gap := (upper - lower) / math.Max(math.Abs(upper), 1e-12)
				fmt.Fprintf(out, "bounds: [%.6f, %.6f], relative gap %.4f\n", lower, upper, gap)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "bp", "inference backend: bp or sdlp")
	cmd.Flags().IntVar(&size, "size", 50, "grid side length")
	cmd.Flags().IntVar(&iters, "iters", 2000, "number of iterations")
	cmd.Flags().Float64Var(&coupling, "coupling", 0.8, "pairwise coupling strength")
	cmd.Flags().Int64Var(&seed, "seed", 0, "evidence noise seed")
	cmd.Flags().Float64Var(&damping, "damping", 0.5, "bp damping")
	cmd.Flags().Float64Var(&lseTemp, "lse-temp", 1e-3, "sdlp smoothing temperature")
	return cmd
}

// buildIsingGrid compiles a size x size toroidal grid of binary spins with
// agreement coupling c*[[1,-1],[-1,1]] on both axial neighbors and
// Gumbel-distributed evidence.
func buildIsingGrid(size int, coupling float64, seed int64) (*core.FlatGraph, map[string][]float64, error) {
	g := model.NewGraph()
	if err := g.AddVariableGroup("spins", size*size, 2); err != nil {
		return nil, nil, err
	}

	pot := []float64{coupling, -coupling, -coupling, coupling}
	pg := &model.PairwiseFactorGroup{GroupName: "grid", SharedLogPotentials: pot}
	at := func(r, c int) model.VarRef {
		return model.VarRef{Group: "spins", Index: ((r+size)%size)*size + (c+size)%size}
	}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			pg.Pairs = append(pg.Pairs, [2]model.VarRef{at(r, c), at(r, c+1)})
			pg.Pairs = append(pg.Pairs, [2]model.VarRef{at(r, c), at(r+1, c)})
		}
	}
	if err := g.AddFactorGroup(pg); err != nil {
		return nil, nil, err
	}

	fg, err := compiler.Compile(g)
	if err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	evidence := make([]float64, size*size*2)
	for i := range evidence {
		evidence[i] = gumbel(rng)
	}
	return fg, map[string][]float64{"spins": evidence}, nil
}

// gumbel draws standard Gumbel noise via inverse transform sampling.
func gumbel(rng *rand.Rand) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return -math.Log(-math.Log(u))
}
