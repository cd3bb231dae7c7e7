package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/opcov/internal/cfg"
	"github.com/ethpandaops/opcov/internal/classify"
	"github.com/ethpandaops/opcov/internal/coverage"
	"github.com/ethpandaops/opcov/internal/ignore"
	"github.com/ethpandaops/opcov/internal/opvm"
	"github.com/ethpandaops/opcov/internal/reconcile"
	"github.com/ethpandaops/opcov/internal/report"
	"github.com/ethpandaops/opcov/internal/snapshot"
	"github.com/ethpandaops/opcov/internal/tracehook"
)

func newTraceCmd(opts *options) *cobra.Command {
	var (
		outputPath string
		sourcePath string
	)

	cmd := &cobra.Command{
		Use:   "trace <scenario.json>",
		Short: "Execute a scenario through the reference VM and report coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], outputPath, sourcePath)
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "write the resulting snapshot to this path instead of reporting immediately")
	cmd.Flags().StringVar(&sourcePath, "source", "", "source file to render alongside the coverage report (defaults to the scenario's own filename)")

	return cmd
}

func runTrace(opts *options, scenarioPath, outputPath, sourcePath string) error {
	sf, err := loadScenario(scenarioPath)
	if err != nil {
		return err
	}

	filename := sf.Code.Filename
	if filename == "" {
		filename = scenarioPath
	}
	unitID := sf.Code.Name

	program, locals, err := buildProgram(filename, unitID, sf)
	if err != nil {
		return err
	}

	hook := tracehook.New(tracehook.AllFiles)
	vm := opvm.New(hook.Hooks())

	_, runErr := vm.Run(program, locals)
	if runErr != nil && opts.dbg {
		fmt.Fprintf(os.Stderr, "opcov: scenario raised: %v\n", runErr)
	}

	snap := snapshot.New()
	path := scenarioPath
	snap.TargetPaths[unitID] = &path
	snap.AddEdges(path, unitID, hook.Edges(filename, unitID))

	if outputPath != "" {
		store := snapshot.NewFileStore(afero.NewOsFs(), outputPath)
		if err := store.Save(snap); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote snapshot to %s\n", outputPath)
		return errors.Wrap(runErr, "scenario raised")
	}

	if err := renderReport(opts, program, sourcePath, hook.Edges(filename, unitID)); err != nil {
		return err
	}
	// A scenario that raised still gets its report, then fails the command.
	return errors.Wrap(runErr, "scenario raised")
}

func renderReport(opts *options, program *opvm.Program, sourcePath string, observed []reconcile.Observed) error {
	g, err := cfg.Build(program.Decoded)
	if err != nil {
		return errors.Wrap(err, "build control-flow graph")
	}
	cls := classify.Classify(program.Decoded, g)
	rec := reconcile.Reconcile(cls, observed)

	collector := coverage.NewCollector()
	collector.Add(program.Filename, program.Decoded, cls, rec)
	fc := collector.File(program.Filename)

	if sourcePath == "" {
		sourcePath = program.Filename
	}
	var sourceLines []string
	if raw, err := os.ReadFile(sourcePath); err == nil {
		sourceLines = strings.Split(string(raw), "\n")
	}

	ignoredLines, explicitIgnored := ignore.Lines(sourceLines)

	renderer := report.New(os.Stdout, opts.forceColor())
	renderer.RenderFile(program.Filename, sourceLines, fc, ignoredLines, explicitIgnored, opts.showAll)

	if len(rec.Unexpected) > 0 {
		fmt.Fprintf(os.Stderr, "opcov: %d unexpected edge(s) observed that no static analysis predicted\n", len(rec.Unexpected))
	}

	return nil
}
