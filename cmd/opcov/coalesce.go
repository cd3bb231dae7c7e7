package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/opcov/internal/snapshot"
)

func newCoalesceCmd(opts *options) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "coalesce <snapshot> [snapshot...]",
		Short: "Merge two or more coverage snapshots into one",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoalesce(args, outputPath)
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "write the merged snapshot here (defaults to overwriting the first argument)")

	return cmd
}

func runCoalesce(paths []string, outputPath string) error {
	if outputPath == "" {
		outputPath = paths[0]
	}

	fs := afero.NewOsFs()
	merged := snapshot.New()

	for _, p := range paths {
		if _, err := fs.Stat(p); err != nil {
			if stderrors.Is(err, os.ErrNotExist) {
				return errors.Errorf("coalesce: snapshot file not found: %s", p)
			}
			return errors.Wrapf(err, "stat snapshot %s", p)
		}

		store := snapshot.NewFileStore(fs, p)
		snap, err := store.Load()
		if err != nil {
			return errors.Wrapf(err, "load snapshot %s", p)
		}
		merged.Coalesce(snap)
	}

	if err := snapshot.NewFileStore(fs, outputPath).Save(merged); err != nil {
		return errors.Wrapf(err, "save merged snapshot %s", outputPath)
	}

	totalEdges := 0
	for _, units := range merged.PathCodeEdges {
		for _, edges := range units {
			totalEdges += len(edges)
		}
	}
	fmt.Fprintf(os.Stdout, "merged %d snapshot(s) covering %d path(s), %d edge(s) total, into %s\n",
		len(paths), len(merged.PathCodeEdges), totalEdges, outputPath)

	return nil
}
