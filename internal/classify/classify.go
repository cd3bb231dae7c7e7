// Package classify labels every edge of a code unit's control-flow graph as
// required (must be observed for full coverage) or optional (legitimately
// unreachable on some valid executions — the far side of an except clause
// that the tried code never throws into, a with-block's early-exit cleanup,
// the implicit `return None` fallthrough). It is a direct Go rendering of
// the distilled analyzer's is_SF_exc_opt/is_arc_opt heuristics: the shape of
// a handful of small instruction sequences tells you more about whether a
// branch is optional than the bytecode's formal structure does.
package classify

import (
	"github.com/ethpandaops/opcov/internal/cfg"
	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/isa"
)

// Edge is a classified transition between two nodes, where a node is either
// a real instruction offset or one of isa.OffBegin/OffRaised/OffReturn.
type Edge struct {
	Src, Dst int
}

// Result holds the classified edge sets for one code unit.
type Result struct {
	Required map[Edge]bool
	Optional map[Edge]bool
}

func (r *Result) mark(src, dst int, optional bool) {
	e := Edge{Src: src, Dst: dst}
	if optional {
		r.Optional[e] = true
	} else {
		r.Required[e] = true
	}
}

// Classify walks every arc of g and labels its edges required or optional.
func Classify(d *decode.Decoded, g *cfg.Graph) *Result {
	markSetupFinallyShapes(d)

	r := &Result{Required: map[Edge]bool{}, Optional: map[Edge]bool{}}
	arcs := cfg.FormArcs(g)

	for _, arc := range arcs {
		emitArc(r, d, g, arc)
	}

	return r
}

// markSetupFinallyShapes disambiguates the try/except/finally (TEF) shape
// from the try/finally-wrapping-try/except (TF-TE) shape: both compile a
// SETUP_FINALLY immediately followed by a SETUP_EXCEPT, and the only
// reliable signal is the first opcode of the inner handler — DUP_TOP means
// the exception is being re-inspected (TEF, so the finally's implicit
// exception path is optional), POP_TOP means it's being discarded outright
// (TF-TE, so it's required).
func markSetupFinallyShapes(d *decode.Decoded) {
	for i, inst := range d.Insts {
		if inst.Op != isa.OpSetupFinally || i+1 >= len(d.Insts) {
			continue
		}
		body := d.Insts[i+1]
		if body.Op != isa.OpSetupExcept {
			continue
		}
		handler := d.At(body.Arg)
		if handler == nil {
			continue
		}

		optional := handler.Op == isa.OpDupTop // POP_TOP, or anything else, defaults to required.

		if target := d.At(inst.Arg); target != nil {
			target.IsSetupFinallyExcOptional = optional
		}
	}
}

func emitArc(r *Result, d *decode.Decoded, g *cfg.Graph, arc *cfg.Arc) {
	src := arcSource(g, arc)
	opt := isArcOptional(d, g, arc, src)

	if src == arc.Entry {
		// A join: a predecessor with a single successor emits its edge into
		// the join as its own arc's exit; a branching predecessor emits none,
		// so its edge into the join is emitted here.
		for _, p := range g.Predecessors[arc.Entry] {
			if len(g.Successors[p]) > 1 {
				r.mark(p, arc.Entry, isArcOptional(d, g, arc, p) || isEndFinallyFallthrough(d, p, arc.Entry))
			}
		}
	} else {
		r.mark(src, arc.Entry, opt || isEndFinallyFallthrough(d, src, arc.Entry))
	}

	prev := arc.Entry
	for _, off := range arc.Path[1:] {
		r.mark(prev, off, opt || isEndFinallyFallthrough(d, prev, off))
		prev = off
	}

	if succs := g.Successors[arc.Exit]; len(succs) == 1 {
		r.mark(arc.Exit, succs[0], opt || isEndFinallyFallthrough(d, arc.Exit, succs[0]))
	}
}

// isEndFinallyFallthrough downgrades every edge leaving an END_FINALLY to
// optional unconditionally, whatever its destination (the fallthrough to the
// next instruction or the re-raise into an enclosing handler): whether the
// finally block's implicit re-raise actually fires depends on dynamic state
// classify cannot see from shape alone, so the safer default is to never
// demand either successor.
func isEndFinallyFallthrough(d *decode.Decoded, src, dst int) bool {
	if src < 0 {
		return false
	}
	inst := d.At(src)
	return inst != nil && inst.Op == isa.OpEndFinally
}

// arcSource identifies the node the arc is entered from: a pseudo-node
// (BEGIN/RAISED) if this arc is a pseudo-seeded entry, the unique real
// predecessor otherwise, or arc.Entry itself as a marker when the entry has
// more than one real predecessor (a join, whose incoming edges emitArc then
// takes from each predecessor in turn).
func arcSource(g *cfg.Graph, arc *cfg.Arc) int {
	for _, s := range g.Successors[isa.OffRaised] {
		if s == arc.Entry {
			return isa.OffRaised
		}
	}
	for _, s := range g.Successors[isa.OffBegin] {
		if s == arc.Entry {
			return isa.OffBegin
		}
	}
	if preds := g.Predecessors[arc.Entry]; len(preds) == 1 {
		return preds[0]
	}
	return arc.Entry
}

func isArcOptional(d *decode.Decoded, g *cfg.Graph, arc *cfg.Arc, src int) bool {
	entry := d.At(arc.Entry)

	if src == isa.OffRaised && entry != nil && entry.IsSetupFinallyExcOptional {
		return true
	}

	if isUnhandledExcReraise(d, src, entry) {
		return true
	}

	if src == isa.OffRaised && matchesOps(d, arc.Path, isa.OpLoadConst, isa.OpStoreFast, isa.OpDeleteFast, isa.OpEndFinally) {
		return true
	}

	if matchesOps(d, arc.Path, isa.OpWithCleanupStart, isa.OpWithCleanupFinish, isa.OpEndFinally) {
		return true
	}

	if isJoinReturnNone(d, g, arc) {
		return true
	}

	return false
}

// isUnhandledExcReraise flags the branch taken when an `except Exc:` clause's
// type test fails and the exception falls through to be re-raised: either
// this arc's entry is the landing point of an exception-match test, or src
// itself is one (chained except clauses, where the prior clause's failed
// match falls straight into the next).
func isUnhandledExcReraise(d *decode.Decoded, src int, entry *decode.Instruction) bool {
	if entry != nil && entry.IsExcMatchJmpDst {
		return true
	}
	if src < 0 {
		return false
	}
	srcInst := d.At(src)
	return srcInst != nil && srcInst.IsExcMatchJmpDst
}

// isJoinReturnNone recognizes the compiler-synthesized `return None` every
// function falls into when control reaches its end without an explicit
// return: a two-instruction arc (LOAD_CONST None; RETURN_VALUE) whose first
// instruction has more than one predecessor.
func isJoinReturnNone(d *decode.Decoded, g *cfg.Graph, arc *cfg.Arc) bool {
	if len(arc.Path) != 2 {
		return false
	}
	if len(g.Predecessors[arc.Path[0]]) <= 1 {
		return false
	}
	return matchesOps(d, arc.Path, isa.OpLoadConst, isa.OpReturnValue)
}

func matchesOps(d *decode.Decoded, path []int, ops ...isa.Op) bool {
	if len(path) != len(ops) {
		return false
	}
	for i, off := range path {
		inst := d.At(off)
		if inst == nil || inst.Op != ops[i] {
			return false
		}
	}
	return true
}
