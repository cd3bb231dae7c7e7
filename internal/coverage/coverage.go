// Package coverage aggregates classified, reconciled edges into per-line
// coverage verdicts, and folds per-code-unit results together for source
// files that contain more than one code unit (a module and the functions it
// defines, a class body and its methods).
package coverage

import (
	"github.com/ethpandaops/opcov/internal/classify"
	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/reconcile"
)

// Line holds the required/matched edge counts landing on one source line. A
// line is covered only once every required edge that lands on it matched —
// partial credit isn't coverage, the same way a required edge that never
// fires at all isn't.
type Line struct {
	Number        int
	RequiredEdges int
	MatchedEdges  int
}

// Trivial reports whether no required edge lands on this line at all — a
// comment, a blank line, a line that's purely a jump target with no
// observable transition of its own.
func (l *Line) Trivial() bool { return l.RequiredEdges == 0 }

// Covered reports whether every required edge landing on this line matched.
func (l *Line) Covered() bool { return l.RequiredEdges > 0 && l.MatchedEdges == l.RequiredEdges }

// FileCoverage is the per-line rollup for a single source file, merged
// across every code unit compiled from it.
type FileCoverage struct {
	Filename string
	Lines    map[int]*Line
}

func newFileCoverage(filename string) *FileCoverage {
	return &FileCoverage{Filename: filename, Lines: map[int]*Line{}}
}

func (fc *FileCoverage) line(n int) *Line {
	l, ok := fc.Lines[n]
	if !ok {
		l = &Line{Number: n}
		fc.Lines[n] = l
	}
	return l
}

// AggregateUnit folds one code unit's classified/reconciled edges into fc.
// Edges whose destination is a pseudo-node (isa.OffReturn and friends) carry
// no source line and are skipped — they're bookkeeping for the graph, not
// something a reader of the file can see as "hit" or "not hit".
func AggregateUnit(fc *FileCoverage, d *decode.Decoded, cls *classify.Result, rec *reconcile.Result) {
	for e := range cls.Required {
		inst := d.At(e.Dst)
		if inst == nil {
			continue
		}
		l := fc.line(inst.Line)
		l.RequiredEdges++
		if rec.MatchedRequired[e] {
			l.MatchedEdges++
		}
	}
}

// Collector accumulates FileCoverage across every code unit analyzed in a
// run, keyed by the filename exactly as passed to Add (no path
// normalization) — the Go shape of grouping path_code_edges by
// code.co_filename before reporting.
type Collector struct {
	files map[string]*FileCoverage
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{files: map[string]*FileCoverage{}}
}

// Add records one code unit's result against its source file.
func (c *Collector) Add(filename string, d *decode.Decoded, cls *classify.Result, rec *reconcile.Result) {
	fc, ok := c.files[filename]
	if !ok {
		fc = newFileCoverage(filename)
		c.files[filename] = fc
	}
	AggregateUnit(fc, d, cls, rec)
}

// File returns the accumulated coverage for filename, or nil if nothing was
// ever added for it.
func (c *Collector) File(filename string) *FileCoverage {
	return c.files[filename]
}

// Files returns every filename with accumulated coverage.
func (c *Collector) Files() []string {
	names := make([]string, 0, len(c.files))
	for name := range c.files {
		names = append(names, name)
	}
	return names
}

// Totals rolls every line across every file into a single snapshot.
type Totals struct {
	Lines      int
	Trivial    int
	Covered    int
	NotCovered int
}

// Totals computes the aggregate Totals across all files the collector holds.
func (c *Collector) Totals() Totals {
	var t Totals
	for _, fc := range c.files {
		for _, l := range fc.Lines {
			t.Lines++
			switch {
			case l.Trivial():
				t.Trivial++
			case l.Covered():
				t.Covered++
			default:
				t.NotCovered++
			}
		}
	}
	return t
}
