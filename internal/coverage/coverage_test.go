package coverage

import (
	"testing"

	"github.com/ethpandaops/opcov/internal/classify"
	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/isa"
	"github.com/ethpandaops/opcov/internal/reconcile"
)

func decodeOrFatal(t *testing.T, code *isa.CodeUnit) *decode.Decoded {
	t.Helper()
	d, err := decode.Decode(code)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

func TestAggregateUnitCoveredLine(t *testing.T) {
	code := &isa.CodeUnit{
		Name:     "f",
		Filename: "f.py",
		Instructions: []isa.Instruction{
			{Offset: 0, Op: isa.OpLoadConst, StartsLine: 3},
			{Offset: 1, Op: isa.OpReturnValue, StartsLine: 3},
		},
	}
	d := decodeOrFatal(t, code)

	cls := &classify.Result{Required: map[classify.Edge]bool{
		{Src: isa.OffBegin, Dst: 0}: true,
		{Src: 0, Dst: 1}:            true,
	}}
	rec := &reconcile.Result{MatchedRequired: map[classify.Edge]bool{
		{Src: isa.OffBegin, Dst: 0}: true,
		{Src: 0, Dst: 1}:            true,
	}}

	fc := newFileCoverage("f.py")
	AggregateUnit(fc, d, cls, rec)

	line := fc.Lines[3]
	if line == nil {
		t.Fatal("expected line 3 to have aggregated coverage")
	}
	if !line.Covered() {
		t.Errorf("expected line 3 covered, got required=%d matched=%d", line.RequiredEdges, line.MatchedEdges)
	}
}

func TestAggregateUnitPartiallyMatchedLineIsNotCovered(t *testing.T) {
	code := &isa.CodeUnit{
		Name:     "f",
		Filename: "f.py",
		Instructions: []isa.Instruction{
			{Offset: 0, Op: isa.OpLoadConst, StartsLine: 1},
		},
	}
	d := decodeOrFatal(t, code)

	cls := &classify.Result{Required: map[classify.Edge]bool{
		{Src: isa.OffBegin, Dst: 0}: true,
		{Src: 5, Dst: 0}:            true,
	}}
	rec := &reconcile.Result{MatchedRequired: map[classify.Edge]bool{
		{Src: isa.OffBegin, Dst: 0}: true,
	}}

	fc := newFileCoverage("f.py")
	AggregateUnit(fc, d, cls, rec)

	line := fc.Lines[1]
	if line.Covered() {
		t.Error("a line with one unmatched required edge must not be covered")
	}
	if line.Trivial() {
		t.Error("a line with required edges is not trivial")
	}
}

func TestCollectorTotals(t *testing.T) {
	c := NewCollector()

	code := &isa.CodeUnit{Name: "f", Filename: "f.py", Instructions: []isa.Instruction{
		{Offset: 0, Op: isa.OpReturnValue, StartsLine: 1},
	}}
	d := decodeOrFatal(t, code)
	cls := &classify.Result{Required: map[classify.Edge]bool{{Src: isa.OffBegin, Dst: 0}: true}}
	rec := &reconcile.Result{MatchedRequired: map[classify.Edge]bool{}}

	c.Add("f.py", d, cls, rec)

	totals := c.Totals()
	if totals.Lines != 1 || totals.NotCovered != 1 {
		t.Errorf("totals = %+v, want 1 line not covered", totals)
	}
}
