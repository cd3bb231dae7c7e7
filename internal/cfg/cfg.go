// Package cfg builds the control-flow graph of a decoded code unit: the
// successor relation between instruction offsets (and the BEGIN/RAISED/
// RETURN pseudo-nodes), and the maximal single-entry/single-exit arcs that
// relation factors into. internal/classify then labels each arc required or
// optional; this package only establishes structure.
package cfg

import (
	"github.com/go-faster/errors"

	"github.com/ethpandaops/opcov/internal/decode"
	"github.com/ethpandaops/opcov/internal/isa"
)

// Graph is the successor/predecessor relation over a code unit's real
// instruction offsets plus the isa.OffBegin, isa.OffRaised and isa.OffReturn
// pseudo-nodes. Keys and values are plain ints because the sentinel offsets
// are already negative and disjoint from any real offset.
type Graph struct {
	Successors   map[int][]int
	Predecessors map[int][]int
}

func (g *Graph) addEdge(src, dst int) {
	g.Successors[src] = append(g.Successors[src], dst)
	g.Predecessors[dst] = append(g.Predecessors[dst], src)
}

// Build computes the successor relation for a decoded code unit.
//
// Most opcodes fall through to the next offset, or jump to Instruction.Arg,
// or both — that generic behavior comes straight out of isa.OpTable. A
// handful of opcodes need the open block stack to resolve their real
// destination (RAISE_VARARGS, BREAK_LOOP, RETURN_VALUE, END_FINALLY) or
// don't fit the fallthrough/jump shape at all (FOR_ITER's exhaustion edge,
// YIELD_VALUE/YIELD_FROM's resume edges); those are special-cased below, the
// same way internal/cfg's teacher counterpart layers bespoke dynamic-gas
// closures on top of its generic opcode table.
func Build(d *decode.Decoded) (*Graph, error) {
	g := &Graph{
		Successors:   map[int][]int{},
		Predecessors: map[int][]int{},
	}

	if len(d.Insts) == 0 {
		return g, nil
	}

	g.addEdge(isa.OffBegin, d.Insts[0].Off)

	for i, inst := range d.Insts {
		var nextOff int
		hasNext := i+1 < len(d.Insts)
		if hasNext {
			nextOff = d.Insts[i+1].Off
		}

		info := isa.OpTable[inst.Op]

		switch inst.Op {
		case isa.OpForIter:
			if hasNext {
				g.addEdge(inst.Off, nextOff)
			}
			// Exhausting the iterator is modeled as a RAISED-sourced edge
			// (StopIteration is, mechanically, an exception the loop
			// machinery swallows), not a normal fallthrough from this
			// offset.
			g.addEdge(isa.OffRaised, inst.Arg)

		case isa.OpRaiseVarargs:
			if dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupExcept, isa.OpSetupFinally); ok {
				g.addEdge(isa.OffRaised, dst)
			} else {
				g.addEdge(isa.OffRaised, isa.OffReturn)
			}

		case isa.OpBreakLoop:
			dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupLoop)
			if !ok {
				return nil, errors.Errorf("cfg.Build %s: BREAK_LOOP at %d resolved to no loop block", d.Code.Name, inst.Off)
			}
			g.addEdge(inst.Off, dst)

		case isa.OpEndFinally:
			if dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupAsyncWith, isa.OpSetupFinally, isa.OpSetupWith); ok {
				g.addEdge(inst.Off, dst)
			} else {
				g.addEdge(inst.Off, isa.OffReturn)
			}
			// With no exception pending, END_FINALLY advances to the next
			// instruction instead; both successors are kept.
			if hasNext {
				g.addEdge(inst.Off, nextOff)
			}

		case isa.OpReturnValue:
			if dst, ok := decode.FindBlockDst(inst.Stack, isa.OpSetupFinally, isa.OpSetupWith, isa.OpSetupAsyncWith); ok {
				g.addEdge(inst.Off, dst)
			} else {
				g.addEdge(inst.Off, isa.OffReturn)
			}

		case isa.OpYieldValue:
			// Resuming a suspended generator re-enters at the instruction
			// after the yield, the same way the first resume re-enters at
			// offset 0 — both are modeled as fresh BEGIN-sourced edges.
			if hasNext {
				g.addEdge(isa.OffBegin, nextOff)
			} else {
				g.addEdge(isa.OffBegin, isa.OffReturn)
			}

		case isa.OpYieldFrom:
			// Each delegation step loops back onto this same instruction...
			g.addEdge(isa.OffBegin, inst.Off)
			// ...until the sub-iterator completes, which resumes past it.
			if hasNext {
				g.addEdge(isa.OffRaised, nextOff)
			} else {
				g.addEdge(isa.OffRaised, isa.OffReturn)
			}

		default:
			if info.IsJump {
				g.addEdge(inst.Off, inst.Arg)
			}
			if !info.IsStop && !inst.IsCallExit && hasNext {
				g.addEdge(inst.Off, nextOff)
			}
		}
	}

	return g, nil
}

// Arc is a maximal single-entry/single-exit run of instructions: Entry's
// only predecessor relationship to the rest of the arc is linear, and every
// node strictly inside the arc has exactly one predecessor and one
// successor. Classify labels each arc required or optional as a unit.
type Arc struct {
	Entry int
	Path  []int
	Exit  int
}

// FormArcs factors a Graph into its maximal arcs via worklist traversal
// seeded from the BEGIN and RAISED pseudo-nodes' successors. The graph is
// generally cyclic (loops, generator resume edges), so this deliberately
// avoids recursion in favor of an explicit visited-set and queue.
func FormArcs(g *Graph) []*Arc {
	visited := map[int]bool{}
	var arcs []*Arc

	seed := map[int]bool{}
	for _, d := range g.Successors[isa.OffBegin] {
		seed[d] = true
	}
	for _, d := range g.Successors[isa.OffRaised] {
		seed[d] = true
	}

	queue := make([]int, 0, len(seed))
	for d := range seed {
		queue = append(queue, d)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n] || n < 0 {
			continue
		}
		visited[n] = true

		path := []int{n}
		cur := n
		for {
			succs := g.Successors[cur]
			if len(succs) != 1 {
				break
			}
			nxt := succs[0]
			if nxt < 0 || len(g.Predecessors[nxt]) != 1 {
				break
			}
			path = append(path, nxt)
			cur = nxt
		}

		arcs = append(arcs, &Arc{Entry: n, Path: path, Exit: cur})

		for _, s := range g.Successors[cur] {
			if s >= 0 && !visited[s] {
				queue = append(queue, s)
			}
		}
	}

	return arcs
}
