// Command loopy runs approximate inference on factor-graph models.
//
//	loopy run model.fg --backend bp --iters 200 --damping 0.5
//	loopy bench --size 50 --iters 2000 --backend sdlp
package main

import (
	"flag"
	"os"

	"github.com/plan-systems/klog"
	"github.com/spf13/cobra"
)

func main() {
	fset := flag.NewFlagSet("", flag.ContinueOnError)
	klog.InitFlags(fset)
	fset.Set("logtostderr", "true")
	fset.Set("v", "1")
	klog.SetFormatter(&klog.FmtConstWidth{
		FileNameCharWidth: 16,
		UseColor:          true,
	})

	root := &cobra.Command{
		Use:           "loopy",
		Short:         "Approximate inference on discrete factor graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(fset)
	root.AddCommand(newRunCmd())
	root.AddCommand(newBenchCmd())

	err := root.Execute()
	klog.Flush()
	if err != nil {
		klog.Errorf("%v", err)
		os.Exit(1)
	}
}
