package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/ethpandaops/opcov/internal/snapshot"
)

func TestRunCoalesceMissingSnapshotHardErrors(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.opcov")
	missing := filepath.Join(dir, "does-not-exist.opcov")

	if err := snapshot.NewFileStore(afero.NewOsFs(), present).Save(snapshot.New()); err != nil {
		t.Fatalf("seeding the present snapshot: %v", err)
	}

	if err := runCoalesce([]string{present, missing}, filepath.Join(dir, "out.opcov")); err == nil {
		t.Fatal("expected an error when a snapshot path does not exist")
	} else if !strings.Contains(err.Error(), missing) {
		t.Errorf("error %q should name the missing path %q", err.Error(), missing)
	}
}
