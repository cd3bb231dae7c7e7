package cfg

import (
	"testing"

	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/isa"
)

func inst(off int, op isa.Op, arg int, startsLine int) isa.Instruction {
	return isa.Instruction{Offset: off, Op: op, Arg: arg, StartsLine: startsLine}
}

func decodeOrFatal(t *testing.T, code *isa.CodeUnit) *decode.Decoded {
	t.Helper()
	d, err := decode.Decode(code)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

func TestBuildLinearReturn(t *testing.T) {
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpLoadConst, 0, 1),
			inst(1, isa.OpReturnValue, 0, 1),
		},
	}
	d := decodeOrFatal(t, code)
	g, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := g.Successors[isa.OffBegin]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("Successors[OffBegin] = %v, want [0]", got)
	}
	if got := g.Successors[0]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("Successors[0] = %v, want [1]", got)
	}
	if got := g.Successors[1]; len(got) != 1 || got[0] != isa.OffReturn {
		t.Fatalf("Successors[1] = %v, want [OffReturn]", got)
	}
}

func TestFormArcsMergesLinearRun(t *testing.T) {
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpLoadConst, 0, 1),
			inst(1, isa.OpPopTop, 0, 0),
			inst(2, isa.OpLoadConst, 0, 2),
			inst(3, isa.OpReturnValue, 0, 0),
		},
	}
	d := decodeOrFatal(t, code)
	g, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	arcs := FormArcs(g)
	if len(arcs) != 1 {
		t.Fatalf("got %d arcs, want 1 (the whole run has no branches or joins): %+v", len(arcs), arcs)
	}
	if want := []int{0, 1, 2, 3}; !equalInts(arcs[0].Path, want) {
		t.Errorf("arc path = %v, want %v", arcs[0].Path, want)
	}
}

func TestFormArcsSplitsOnBranch(t *testing.T) {
	// if (cond): LOAD_CONST A; RETURN_VALUE   else-fallthrough: LOAD_CONST B; RETURN_VALUE
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpLoadFast, 0, 1),
			inst(1, isa.OpPopJumpIfFalse, 4, 0),
			inst(2, isa.OpLoadConst, 0, 2),
			inst(3, isa.OpReturnValue, 0, 0),
			inst(4, isa.OpLoadConst, 1, 3),
			inst(5, isa.OpReturnValue, 0, 0),
		},
	}
	code.Instructions[0].ArgVal = "cond"

	d := decodeOrFatal(t, code)
	g, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	arcs := FormArcs(g)
	// Expect three arcs: {0,1} (the entry run, ending at the branch), {2,3}
	// (taken when cond is true, falls through from the branch) and {4,5}
	// (the jump target).
	if len(arcs) != 3 {
		t.Fatalf("got %d arcs, want 3: %+v", len(arcs), arcs)
	}

	entries := map[int]bool{}
	for _, a := range arcs {
		entries[a.Entry] = true
	}
	if !entries[0] || !entries[2] || !entries[4] {
		t.Errorf("expected arcs entering at 0, 2 and 4, got entries %v", entries)
	}
}

func TestBuildRaiseVarargsResolvesHandler(t *testing.T) {
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpSetupExcept, 3, 1),
			inst(1, isa.OpLoadConst, 0, 2),
			inst(2, isa.OpRaiseVarargs, 1, 0),
			inst(3, isa.OpPopTop, 0, 3),
			inst(4, isa.OpEndFinally, 0, 0),
		},
	}
	d := decodeOrFatal(t, code)
	g, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	found := false
	for _, dst := range g.Successors[isa.OffRaised] {
		if dst == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("Successors[OffRaised] = %v, want to include handler offset 3", g.Successors[isa.OffRaised])
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
