// Package reconcile matches the edges a trace actually observed against the
// required/optional edge sets internal/classify computed, producing the
// per-code-unit coverage verdict: which required edges fired, which never
// did, and which observed edges classify didn't expect at all.
package reconcile

import (
	"github.com/ethpandaops/opcov/internal/classify"
	"github.com/ethpandaops/opcov/internal/isa"
)

// Observed is one (src, dst) transition a trace actually recorded.
type Observed struct {
	Src, Dst int
}

// Result is the outcome of reconciling one code unit's classified edges
// against one or more observed traces.
type Result struct {
	MatchedRequired   map[classify.Edge]bool
	UnmatchedRequired map[classify.Edge]bool
	Unexpected        []Observed
}

// Reconcile compares observed against cls, applying the raise/reraise
// rewrite: when an observed transition's source doesn't match any required
// edge directly, but its destination is the handler of some required
// RAISED-sourced edge, it's credited to that edge instead of being flagged
// unexpected. This matters because a reraise can be observed as originating
// from whichever instruction actually threw, not from the RAISED
// pseudo-node the static analysis used to model "some exception, raised
// somewhere in this block" — the destination handler is the only part of
// the edge shape that is stable between the static and dynamic views.
func Reconcile(cls *classify.Result, observed []Observed) *Result {
	raiseReqs := destsOf(cls.Required, isa.OffRaised)
	raiseOpts := destsOf(cls.Optional, isa.OffRaised)

	res := &Result{
		MatchedRequired:   map[classify.Edge]bool{},
		UnmatchedRequired: map[classify.Edge]bool{},
	}
	for e := range cls.Required {
		res.UnmatchedRequired[e] = true
	}

	for _, ob := range observed {
		direct := classify.Edge{Src: ob.Src, Dst: ob.Dst}

		switch {
		case cls.Required[direct]:
			delete(res.UnmatchedRequired, direct)
			res.MatchedRequired[direct] = true

		case raiseReqs[ob.Dst]:
			rewritten := classify.Edge{Src: isa.OffRaised, Dst: ob.Dst}
			delete(res.UnmatchedRequired, rewritten)
			res.MatchedRequired[rewritten] = true

		case cls.Optional[direct], raiseOpts[ob.Dst]:
			// Legitimate, non-required transition: neither covered nor a
			// problem.

		default:
			res.Unexpected = append(res.Unexpected, ob)
		}
	}

	return res
}

func destsOf(edges map[classify.Edge]bool, src int) map[int]bool {
	out := map[int]bool{}
	for e := range edges {
		if e.Src == src {
			out[e.Dst] = true
		}
	}
	return out
}
