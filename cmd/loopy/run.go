package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sbl8/loopy/compiler"
	"github.com/sbl8/loopy/model"
	"github.com/sbl8/loopy/runtime"
)

func newRunCmd() *cobra.Command {
	var (
		backend     string
		iters       int
		temperature float64
		damping     float64
		lseTemp     float64
		stepSize    float64
		marginals   bool
	)

	cmd := &cobra.Command{
		Use:   "run <model.fg>",
		Short: "Run inference on a .fg model and print the MAP decoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, evidence, err := model.Parse(args[0], string(src))
			if err != nil {
				return err
			}
			fg, err := compiler.Compile(g)
			if err != nil {
				return errors.Wrap(err, "compile")
			}

			inf, err := runtime.BuildInferer(fg, runtime.Backend(backend))
			if err != nil {
				return err
			}
			arena, err := inf.Init(runtime.InitOptions{EvidenceUpdates: evidence})
			if err != nil {
				return err
			}
			opts := runtime.RunOptions{
				Temperature:   temperature,
				Damping:       damping,
				LogSumExpTemp: lseTemp,
				StepSize:      stepSize,
			}
			if err := inf.Run(arena, iters, opts); err != nil {
				return err
			}

			beliefs := inf.GetBeliefs(arena)
			decoding := runtime.DecodeMAPStates(fg, beliefs)
			energy, err := runtime.ComputeEnergy(arena, decoding)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			groups := make([]string, 0, len(decoding))
			for name := range decoding {
				groups = append(groups, name)
			}
			sort.Strings(groups)
			for _, name := range groups {
				fmt.Fprintf(out, "%s: %v\n", name, decoding[name])
			}
			fmt.Fprintf(out, "energy: %.6f\n", energy)

			if inf.Backend() == runtime.BackendSDLP {
				upper := inf.GetPrimalUpperBound(arena, opts)
				lower, err := inf.GetMapLowerBound(arena, decoding)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "dual upper bound: %.6f\n", upper)
				fmt.Fprintf(out, "map lower bound:  %.6f\n", lower)
			}

			if marginals {
				probs := runtime.GetMarginals(fg, beliefs, 1)
				for _, name := range groups {
					fmt.Fprintf(out, "marginals %s: %v\n", name, probs[name])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "bp", "inference backend: bp or sdlp")
	cmd.Flags().IntVar(&iters, "iters", 200, "number of iterations")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "bp temperature (0 = max-product)")
	cmd.Flags().Float64Var(&damping, "damping", 0, "bp damping in [0, 1)")
	cmd.Flags().Float64Var(&lseTemp, "lse-temp", 1e-3, "sdlp smoothing temperature")
	cmd.Flags().Float64Var(&stepSize, "step", 0, "sdlp step size (0 = auto)")
	cmd.Flags().BoolVar(&marginals, "marginals", false, "also print temperature-1 marginals")
	return cmd
}
