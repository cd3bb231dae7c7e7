package decode

import (
	"testing"

	"github.com/ethpandaops/opcov/internal/isa"
)

func inst(off int, op isa.Op, arg int, startsLine int) isa.Instruction {
	return isa.Instruction{Offset: off, Op: op, Arg: arg, StartsLine: startsLine}
}

func TestDecodeBreakLoopWithoutLoopErrors(t *testing.T) {
	code := &isa.CodeUnit{
		Name: "bad",
		Instructions: []isa.Instruction{
			inst(0, isa.OpBreakLoop, 0, 1),
		},
	}
	if _, err := Decode(code); err == nil {
		t.Fatal("expected an error for BREAK_LOOP with no open loop block")
	}
}

func TestDecodeTracksOpenBlockStack(t *testing.T) {
	// SETUP_FINALLY(handler=3); LOAD_CONST; POP_TOP; <handler> END_FINALLY.
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpSetupFinally, 3, 1),
			inst(1, isa.OpLoadConst, 0, 2),
			inst(2, isa.OpPopTop, 0, 0),
			inst(3, isa.OpEndFinally, 0, 3),
		},
	}

	d, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(d.At(1).Stack) != 1 || d.At(1).Stack[0].Op != isa.OpSetupFinally {
		t.Fatalf("offset 1 should be inside the open SETUP_FINALLY block, got %+v", d.At(1).Stack)
	}
	if len(d.At(3).Stack) != 0 {
		t.Fatalf("offset 3 (the handler) should have already popped the block it closes, got %+v", d.At(3).Stack)
	}
}

func TestDecodeLineCarry(t *testing.T) {
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpLoadConst, 0, 5),
			inst(1, isa.OpPopTop, 0, 0),
			inst(2, isa.OpLoadConst, 0, 0),
		},
	}
	d, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, off := range []int{0, 1, 2} {
		if d.At(off).Line != 5 {
			t.Errorf("offset %d: Line = %d, want 5 (carried from the last line-starting instruction)", off, d.At(off).Line)
		}
	}
	if !d.At(0).IsLineStart || d.At(1).IsLineStart {
		t.Error("only offset 0 starts a line")
	}
}

func TestDecodeExcMatchFlagsBothEnds(t *testing.T) {
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			{Offset: 0, Op: isa.OpCompareOp, Compare: isa.CompareExceptionMatch, StartsLine: 1},
			inst(1, isa.OpPopJumpIfFalse, 3, 0),
			inst(2, isa.OpPopTop, 0, 0),
			inst(3, isa.OpPopTop, 0, 2),
		},
	}
	d, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !d.At(1).IsExcMatchJmpSrc {
		t.Error("POP_JUMP_IF_FALSE following an exception-match compare should be flagged as the jump source")
	}
	if !d.At(3).IsExcMatchJmpDst {
		t.Error("the jump target should be flagged as the exception-match jump destination")
	}
}

func TestDecodeCoalescesExtendedArgPrefixes(t *testing.T) {
	// Two EXTENDED_ARG prefixes at offsets 0 and 1, then the real opcode at
	// offset 2: the merged instruction should surface at offset 0 (the
	// first prefix), carrying the real opcode/arg, with no standalone node
	// for either prefix.
	code := &isa.CodeUnit{
		Name: "f",
		Instructions: []isa.Instruction{
			inst(0, isa.OpExtendedArg, 0, 7),
			inst(1, isa.OpExtendedArg, 0, 0),
			{Offset: 2, Op: isa.OpLoadConst, Arg: 99},
			inst(3, isa.OpReturnValue, 0, 0),
		},
	}

	d, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(d.Insts) != 2 {
		t.Fatalf("got %d instructions, want 2 (the prefixes should not be standalone nodes): %+v", len(d.Insts), d.Insts)
	}

	merged := d.At(0)
	if merged == nil {
		t.Fatal("expected the merged instruction to be addressable at offset 0 (the first prefix)")
	}
	if merged.Op != isa.OpLoadConst || merged.Arg != 99 {
		t.Errorf("merged instruction = %+v, want op=LOAD_CONST arg=99", merged)
	}
	if merged.Line != 7 || !merged.IsLineStart {
		t.Errorf("merged instruction Line=%d IsLineStart=%v, want Line=7 IsLineStart=true (carried from the first prefix)", merged.Line, merged.IsLineStart)
	}
	if d.At(1) != nil {
		t.Error("the second prefix's own offset should not resolve to any instruction")
	}
	if d.At(2) != nil {
		t.Error("the real opcode's raw offset should not be separately addressable; only the merged offset 0 is")
	}
}

func TestFindBlockDst(t *testing.T) {
	stack := []BlockFrame{
		{Op: isa.OpSetupLoop, HandlerOff: 10},
		{Op: isa.OpSetupExcept, HandlerOff: 20},
	}
	if dst, ok := FindBlockDst(stack, isa.OpSetupExcept, isa.OpSetupFinally); !ok || dst != 20 {
		t.Errorf("FindBlockDst = (%d, %v), want (20, true)", dst, ok)
	}
	if _, ok := FindBlockDst(stack, isa.OpSetupWith); ok {
		t.Error("FindBlockDst should not find a block that isn't open")
	}
}
