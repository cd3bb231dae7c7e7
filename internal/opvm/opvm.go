// Package opvm is a minimal reference interpreter for isa.CodeUnit
// programs. It exists so the rest of the analyzer has something concrete to
// point a tracehook.Hook at in tests: a real stack machine that resolves
// exception unwinding, loop breaks and finally fallthrough the same way
// internal/decode and internal/cfg do (by walking the open block stack),
// rather than a second, independent notion of control flow that could drift
// out of sync with the one the static analysis assumes.
package opvm

import (
	"github.com/go-faster/errors"

	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/isa"
	"github.com/ethpandaops/opcov/internal/tracehook"
)

// Value is anything a program can push onto the operand stack: nil (the
// None value), bool, int, string, or an *Exception.
type Value interface{}

// Exception is the VM's notion of a raised error: a type tag plus an
// optional payload, enough for COMPARE_OP's exception-match test and for
// RAISE_VARARGS/except-as bindings.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string { return e.Type + ": " + e.Message }

// Builtin is a host function a program can invoke via CALL_FUNCTION,
// keyed by the callee's global name (Instruction.ArgVal).
type Builtin func(args []Value) (Value, error)

// Program pairs a decoded code unit with the constant pool and builtins its
// instructions reference. Unlike isa.CodeUnit, which only carries structural
// data, Program carries the runtime values LOAD_CONST and CALL_FUNCTION need.
type Program struct {
	Decoded   *decode.Decoded
	Filename  string
	UnitID    string
	Consts    []Value
	Globals   map[string]Builtin
	Iterables map[int][]Value // offset of FOR_ITER -> the sequence it iterates, keyed by call site for simplicity.
}

// VM executes one Program at a time, emitting trace events through an
// installed tracehook.Hooks.
type VM struct {
	hooks *tracehook.Hooks
}

// New creates a VM that reports through hooks. A nil hooks is valid and
// runs silently, useful for sanity-checking a program without tracing it.
func New(hooks *tracehook.Hooks) *VM {
	return &VM{hooks: hooks}
}

type frame struct {
	locals map[string]Value
	stack  []Value
	iters  map[int]int // offset of the FOR_ITER -> next index into its Iterables slice.
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) peek() Value { return f.stack[len(f.stack)-1] }

// Run executes p.Decoded to completion from its entry instruction, returning
// the value pushed by the winning RETURN_VALUE, or the *Exception that
// escaped the whole program unhandled.
func (vm *VM) Run(p *Program, locals map[string]Value) (Value, error) {
	if locals == nil {
		locals = map[string]Value{}
	}
	f := &frame{locals: locals, iters: map[int]int{}}

	if vm.hooks != nil && vm.hooks.OnEnter != nil {
		vm.hooks.OnEnter(p.Filename, p.UnitID)
	}
	defer func() {
		if vm.hooks != nil && vm.hooks.OnExit != nil {
			vm.hooks.OnExit(p.Filename, p.UnitID)
		}
	}()

	insts := p.Decoded.Insts
	if len(insts) == 0 {
		return nil, nil
	}

	cur := insts[0]
	var pending *Exception

	for {
		if vm.hooks != nil && vm.hooks.OnOpcode != nil {
			vm.hooks.OnOpcode(p.Filename, p.UnitID, cur.Off)
		}

		next, result, done, err := vm.step(p, f, cur, &pending)
		if err != nil {
			return nil, err
		}
		if done {
			return result, asError(pending)
		}
		if next == nil {
			return nil, errors.Errorf("opvm: %s fell off the end of its instruction stream at offset %d", p.Decoded.Code.Name, cur.Off)
		}
		cur = next
	}
}

func asError(pending *Exception) error {
	if pending == nil {
		return nil
	}
	return pending
}

// step executes one instruction and returns the instruction to run next, or
// (nil, result, true, nil) when the activation has finished normally.
func (vm *VM) step(p *Program, f *frame, inst *decode.Instruction, pending **Exception) (*decode.Instruction, Value, bool, error) {
	idx := p.Decoded

	switch inst.Op {
	case isa.OpNop, isa.OpExtendedArg:
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpLoadConst:
		if inst.Arg < 0 || inst.Arg >= len(p.Consts) {
			return nil, nil, false, errors.Errorf("opvm: LOAD_CONST index %d out of range", inst.Arg)
		}
		f.push(p.Consts[inst.Arg])
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpLoadGlobal, isa.OpLoadFast:
		f.push(f.locals[inst.ArgVal])
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpStoreFast:
		f.locals[inst.ArgVal] = f.pop()
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpDeleteFast:
		delete(f.locals, inst.ArgVal)
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpPopTop:
		f.pop()
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpDupTop:
		f.push(f.peek())
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpCompareOp:
		b, a := f.pop(), f.pop()
		f.push(compare(inst.Compare, a, b))
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpPopJumpIfFalse:
		if truthy(f.pop()) {
			return idx.At(nextOffset(idx, inst)), nil, false, nil
		}
		return idx.At(inst.Arg), nil, false, nil

	case isa.OpPopJumpIfTrue:
		if truthy(f.pop()) {
			return idx.At(inst.Arg), nil, false, nil
		}
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpJumpIfFalseOrPop:
		if truthy(f.peek()) {
			f.pop()
			return idx.At(nextOffset(idx, inst)), nil, false, nil
		}
		return idx.At(inst.Arg), nil, false, nil

	case isa.OpJumpIfTrueOrPop:
		if truthy(f.peek()) {
			return idx.At(inst.Arg), nil, false, nil
		}
		f.pop()
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpJumpAbsolute, isa.OpJumpForward:
		return idx.At(inst.Arg), nil, false, nil

	case isa.OpGetIter:
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpForIter:
		seq := p.Iterables[inst.Off]
		i := f.iters[inst.Off]
		if i < len(seq) {
			f.push(seq[i])
			f.iters[inst.Off] = i + 1
			return idx.At(nextOffset(idx, inst)), nil, false, nil
		}
		return idx.At(inst.Arg), nil, false, nil

	case isa.OpSetupLoop, isa.OpSetupExcept, isa.OpSetupFinally:
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpSetupWith, isa.OpSetupAsyncWith:
		f.push(nil) // the context manager's enter result, modeled as None.
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpPopBlock, isa.OpPopExcept:
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpWithCleanupStart, isa.OpWithCleanupFinish:
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpBreakLoop:
		dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupLoop)
		if !ok {
			return nil, nil, false, errors.Errorf("opvm: BREAK_LOOP with no open loop at offset %d", inst.Off)
		}
		return idx.At(dst), nil, false, nil

	case isa.OpEndFinally:
		if *pending != nil {
			if dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupAsyncWith, isa.OpSetupFinally, isa.OpSetupWith); ok {
				return idx.At(dst), nil, false, nil
			}
			return nil, nil, true, nil
		}
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	case isa.OpRaiseVarargs:
		v := f.pop()
		exc, ok := v.(*Exception)
		if !ok {
			exc = &Exception{Type: "RuntimeError", Message: "raised non-exception value"}
		}
		*pending = exc
		if dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupExcept, isa.OpSetupFinally); ok {
			return idx.At(dst), nil, false, nil
		}
		return nil, nil, true, nil

	case isa.OpReturnValue:
		v := f.pop()
		if dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupFinally, isa.OpSetupWith, isa.OpSetupAsyncWith); ok {
			f.push(v) // the finally clause can still inspect/replace the pending return value.
			return idx.At(dst), nil, false, nil
		}
		*pending = nil // returning completes the activation normally; a handled exception does not escape.
		return nil, v, true, nil

	case isa.OpYieldValue, isa.OpYieldFrom:
		// The reference VM does not model true generator suspension; a
		// yield is executed as an immediate return of its value. The
		// BEGIN/RAISED resume edges internal/cfg builds for these opcodes
		// describe the static shape of resumption, not a dynamic one this
		// single-activation VM reproduces.
		v := f.pop()
		return nil, v, true, nil

	case isa.OpCall:
		return vm.call(p, f, idx, inst)

	case isa.OpBinaryOp:
		b, a := f.pop(), f.pop()
		f.push(binaryOp(a, b))
		return idx.At(nextOffset(idx, inst)), nil, false, nil

	default:
		return nil, nil, false, errors.Errorf("opvm: unhandled opcode %s at offset %d", inst.Op, inst.Off)
	}
}

func (vm *VM) call(p *Program, f *frame, idx *decode.Decoded, inst *decode.Instruction) (*decode.Instruction, Value, bool, error) {
	fn, ok := p.Globals[inst.ArgVal]
	if !ok {
		return nil, nil, false, errors.Errorf("opvm: call to unknown global %q at offset %d", inst.ArgVal, inst.Off)
	}
	arg := f.pop()
	result, err := fn([]Value{arg})
	if err != nil {
		return nil, nil, false, err
	}
	if inst.IsCallExit {
		return nil, result, true, nil
	}
	f.push(result)
	return idx.At(nextOffset(idx, inst)), nil, false, nil
}

func nextOffset(d *decode.Decoded, inst *decode.Instruction) int {
	for i, in := range d.Insts {
		if in.Off == inst.Off && i+1 < len(d.Insts) {
			return d.Insts[i+1].Off
		}
	}
	return -1 << 31
}

func truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func compare(kind isa.CompareKind, a, b Value) Value {
	if kind == isa.CompareExceptionMatch {
		exc, ok := a.(*Exception)
		want, ok2 := b.(string)
		return ok && ok2 && exc.Type == want
	}
	switch kind {
	case isa.CompareEq:
		return a == b
	case isa.CompareNe:
		return a != b
	default:
		ai, aok := a.(int)
		bi, bok := b.(int)
		if !aok || !bok {
			return false
		}
		if kind == isa.CompareLt {
			return ai < bi
		}
		return ai > bi
	}
}

func binaryOp(a, b Value) Value {
	ai, aok := a.(int)
	bi, bok := b.(int)
	if aok && bok {
		return ai + bi
	}
	return nil
}
