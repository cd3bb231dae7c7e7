// Package tracehook collects the dynamic edges a running program actually
// exercises, in the shape internal/reconcile expects. It mirrors the
// teacher's tracing.Hooks pattern — a small struct of callback fields handed
// to whatever executes the code, rather than an interface the executor must
// implement — adapted from opcode-level EVM tracing to opcode-level
// coverage tracing.
package tracehook

import (
	"sync"

	"github.com/ethpandaops/opcov/internal/isa"
	"github.com/ethpandaops/opcov/internal/reconcile"
)

// Scope decides whether a source file's code units should be traced at all,
// the Go shape of the distilled analyzer's target-name/path filtering.
// Targeting happens once per filename: New wraps the scope with Memoize, so
// a Hook consults it at most once for each filename.
type Scope interface {
	IsTargeted(filename string) bool
}

// ScopeFunc adapts a function to Scope.
type ScopeFunc func(filename string) bool

// IsTargeted implements Scope.
func (f ScopeFunc) IsTargeted(filename string) bool { return f(filename) }

// AllFiles is a Scope that traces every file; useful for tests and for
// single-target runs where filtering has already happened upstream.
var AllFiles Scope = ScopeFunc(func(string) bool { return true })

// Hooks is the callback set an executor (internal/opvm's reference VM, or
// any other instrumentable runtime) invokes as it steps through a code
// unit's instructions. OnEnter/OnExit bracket one activation of a code unit
// (a call, a generator resume); OnOpcode fires once per instruction
// executed within that activation.
type Hooks struct {
	OnEnter func(filename, unitID string)
	OnOpcode func(filename, unitID string, off int)
	OnExit  func(filename, unitID string)
}

// memoScope wraps a Scope with a per-filename cache, the way
// is_code_targeted memoizes target resolution per co_filename instead of
// re-walking the target list on every call.
type memoScope struct {
	inner Scope
	mu    sync.Mutex
	cache map[string]bool
}

// Memoize wraps scope so repeated IsTargeted calls for the same filename
// only consult it once.
func Memoize(scope Scope) Scope {
	return &memoScope{inner: scope, cache: map[string]bool{}}
}

func (m *memoScope) IsTargeted(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cache[filename]; ok {
		return v
	}
	v := m.inner.IsTargeted(filename)
	m.cache[filename] = v
	return v
}

// activation is the per-(filename,unitID) tracing state for one code unit,
// guarded by Hook.mu since a generator or recursive function can have more
// than one activation interleaved across opcode events.
type activation struct {
	prevOff  int
	observed []reconcile.Observed
}

// Hook accumulates observed edges per code unit across however many
// activations and runs feed it, guarded by a single mutex — the analyzer is
// expected to run one workload at a time, so contention is not a concern,
// only correctness of the accumulated edge set is.
type Hook struct {
	scope Scope

	mu   sync.Mutex
	runs map[string]*activation
}

// New creates a Hook that only records edges for files scope accepts.
func New(scope Scope) *Hook {
	return &Hook{scope: Memoize(scope), runs: map[string]*activation{}}
}

// Hooks returns the callback set to install into an executor.
func (h *Hook) Hooks() *Hooks {
	return &Hooks{
		OnEnter:  h.onEnter,
		OnOpcode: h.onOpcode,
		OnExit:   h.onExit,
	}
}

func (h *Hook) key(filename, unitID string) string { return filename + "\x00" + unitID }

func (h *Hook) onEnter(filename, unitID string) {
	if !h.scope.IsTargeted(filename) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs[h.key(filename, unitID)] = &activation{prevOff: isa.OffBegin}
}

func (h *Hook) onOpcode(filename, unitID string, off int) {
	if !h.scope.IsTargeted(filename) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	act, ok := h.runs[h.key(filename, unitID)]
	if !ok {
		act = &activation{prevOff: isa.OffBegin}
		h.runs[h.key(filename, unitID)] = act
	}
	act.observed = append(act.observed, reconcile.Observed{Src: act.prevOff, Dst: off})
	act.prevOff = off
}

func (h *Hook) onExit(filename, unitID string) {
	if !h.scope.IsTargeted(filename) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if act, ok := h.runs[h.key(filename, unitID)]; ok {
		act.prevOff = isa.OffBegin
	}
}

// Edges returns every edge observed so far for the given code unit, across
// every activation it has gone through. The slice is a copy; callers may
// retain it across further tracing.
func (h *Hook) Edges(filename, unitID string) []reconcile.Observed {
	h.mu.Lock()
	defer h.mu.Unlock()
	act, ok := h.runs[h.key(filename, unitID)]
	if !ok {
		return nil
	}
	out := make([]reconcile.Observed, len(act.observed))
	copy(out, act.observed)
	return out
}

// Reset clears all accumulated observations, for reuse across independent
// analysis runs within the same process.
func (h *Hook) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = map[string]*activation{}
}
