// Package snapshot persists and coalesces coverage runs. A Snapshot is the
// durable form of everything internal/reconcile and internal/coverage need
// to resume or merge: which target files were ever reached, and which
// dynamic edges were observed against which code units. Two backings are
// provided — a flat gob file for the common single-machine case, and a
// bbolt store for when snapshots accumulate across many short-lived runs
// (a CI matrix, a fleet of fuzzing workers) and need writes serialized by
// bbolt's transaction lock. Both rewrite the whole snapshot on each Save:
// the bbolt store keeps one gob value per key in a single bucket.
package snapshot

import (
	"bytes"
	"encoding/gob"
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"

	"github.com/ethpandaops/opcov/internal/reconcile"
)

// Snapshot is the full persisted state of one or more trace runs.
//
// TargetPaths maps an expanded target name to the absolute path it resolved
// to, or a nil pointer if the target was requested but never imported by the
// traced workload — distinguishing "exists with zero coverage" from "never
// loaded at all" the way the distilled analyzer's target_paths does.
type Snapshot struct {
	TargetPaths   map[string]*string
	PathCodeEdges map[string]map[string][]reconcile.Observed
}

// New returns an empty Snapshot ready to accumulate results into.
func New() *Snapshot {
	return &Snapshot{
		TargetPaths:   map[string]*string{},
		PathCodeEdges: map[string]map[string][]reconcile.Observed{},
	}
}

// AddEdges records the edges observed for one code unit of one source path,
// appending to whatever that (path, unit) pair already holds.
func (s *Snapshot) AddEdges(path, unitID string, edges []reconcile.Observed) {
	units, ok := s.PathCodeEdges[path]
	if !ok {
		units = map[string][]reconcile.Observed{}
		s.PathCodeEdges[path] = units
	}
	units[unitID] = append(units[unitID], edges...)
}

// Coalesce merges other into s in place. Merging is set-union per
// (path, unit) edge list with a dedup pass, which makes repeated coalescing
// of the same snapshot a no-op: associative, commutative and idempotent, the
// properties the distilled analyzer's own coalesce step relies on to let
// operators combine partial runs in any order.
func (s *Snapshot) Coalesce(other *Snapshot) {
	for target, path := range other.TargetPaths {
		if _, ok := s.TargetPaths[target]; !ok {
			s.TargetPaths[target] = path
		} else if path != nil {
			s.TargetPaths[target] = path
		}
	}

	for path, units := range other.PathCodeEdges {
		for unitID, edges := range units {
			existing := s.PathCodeEdges[path]
			if existing == nil {
				existing = map[string][]reconcile.Observed{}
				s.PathCodeEdges[path] = existing
			}
			existing[unitID] = dedup(append(existing[unitID], edges...))
		}
	}
}

func dedup(edges []reconcile.Observed) []reconcile.Observed {
	seen := make(map[reconcile.Observed]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Store is a place a Snapshot can be loaded from and saved to.
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FileStore persists a Snapshot as a single gob-encoded file, written
// atomically (temp file + rename) so a crash mid-write never leaves a
// truncated snapshot behind. fs is an afero.Fs so tests can exercise it
// against an in-memory filesystem instead of touching disk.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore returns a FileStore backed by fs, persisting to path.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Load reads and decodes the snapshot file. A missing file is not an error —
// it yields an empty Snapshot, matching a first run with no prior coverage.
func (fstore *FileStore) Load() (*Snapshot, error) {
	f, err := fstore.fs.Open(fstore.path)
	if stderrors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open snapshot %s", fstore.path)
	}
	defer f.Close()

	snap := New()
	if err := gob.NewDecoder(f).Decode(snap); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", fstore.path)
	}
	return snap, nil
}

// Save atomically replaces the snapshot file with snap's contents.
func (fstore *FileStore) Save(snap *Snapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp := fstore.path + ".tmp"
	if err := afero.WriteFile(fstore.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write snapshot temp file %s", tmp)
	}

	if err := fstore.fs.Rename(tmp, fstore.path); err != nil {
		return errors.Wrapf(err, "rename snapshot %s into place", fstore.path)
	}
	return nil
}

var snapshotBucket = []byte("snapshots")

// BoltStore persists a Snapshot as a single gob-encoded value inside a bbolt
// database, under a fixed key. Unlike FileStore, a BoltStore is safe to
// Save into repeatedly from many short-lived processes without risking a
// half-written file, since bbolt serializes writers through its own
// transaction lock.
type BoltStore struct {
	db  *bolt.DB
	key []byte
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path and
// returns a store that reads/writes the snapshot under key.
func OpenBoltStore(path, key string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create snapshot directory for %s", path)
	}
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open bbolt snapshot store %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create snapshot bucket")
	}
	return &BoltStore{db: db, key: []byte(key)}, nil
}

// Close releases the underlying bbolt database handle.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Load decodes the snapshot stored under b.key, or an empty Snapshot if no
// value has ever been written there.
func (b *BoltStore) Load() (*Snapshot, error) {
	snap := New()
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotBucket).Get(b.key)
		if data == nil {
			return nil
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(snap)
	})
	if err != nil {
		return nil, errors.Wrap(err, "load bbolt snapshot")
	}
	return snap, nil
}

// Save gob-encodes snap and writes it under b.key in a single transaction.
func (b *BoltStore) Save(snap *Snapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(b.key, buf.Bytes())
	})
}
