package main

import (
	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every subcommand (--config,
// --dbg, --show-all, --color/--no-color), a cobra/pflag rendering of the
// distilled analyzer's argparse surface; there is no targets flag.
type options struct {
	configPath string
	dbg        bool
	showAll    bool
	colorOn    bool
	colorOff   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "opcov",
		Short:         "Branch-coverage analyzer for the opcov bytecode ISA",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to an opcov config file (optional; not read by trace or coalesce)")
	root.PersistentFlags().BoolVar(&opts.dbg, "dbg", false, "print the scenario's run error, if any, to stderr")
	root.PersistentFlags().BoolVar(&opts.showAll, "show-all", false, "print every source line, not just uncovered ones and their context")
	root.PersistentFlags().BoolVar(&opts.colorOn, "color", false, "force colorized report output")
	root.PersistentFlags().BoolVar(&opts.colorOff, "no-color", false, "force plain report output")

	root.AddCommand(newTraceCmd(opts))
	root.AddCommand(newCoalesceCmd(opts))

	return root
}

// forceColor resolves the --color/--no-color flags to a tri-state override
// for internal/report.New: nil means "detect from the terminal".
func (o *options) forceColor() *bool {
	switch {
	case o.colorOn:
		v := true
		return &v
	case o.colorOff:
		v := false
		return &v
	default:
		return nil
	}
}
