package pir

import (
	"github.com/calyx-lang/calyx/internal/cir"
	"github.com/calyx-lang/calyx/internal/mir"
)

// The fact bridge merges two sources into one ContractFact list per
// function: whole-function facts converted straight from the contract
// lowering stage, and point-scoped facts the propagator attached to check
// sites. Codegen omits a check kind at a point exactly when a fact with that
// kind and point appears here.

// BridgeFacts builds the optimizer-facing fact list for one function.
func BridgeFacts(fn *cir.Function, pf *Function) []mir.ContractFact {
	out := cir.ExtractPreconditionFacts(fn)
	if pf == nil {
		return out
	}
	pf.Walk(func(n *Node) {
		if n.Discharge == nil {
			return
		}
		check, ok := checkKindOf(n.Kind)
		if !ok {
			return
		}
		converted := cir.PropositionToFacts(n.Discharge.Prop, check, n.Point)
		if len(converted) == 0 {
			// The justifying proposition has no flat encoding; emit the
			// site-specific payload directly so the check still lifts.
			if f, ok := siteFact(n, check); ok {
				converted = []mir.ContractFact{f}
			}
		}
		for i := range converted {
			converted[i].Check = check
			converted[i].Point = n.Point
		}
		out = append(out, converted...)
	})
	return out
}

func checkKindOf(k NodeKind) (mir.CheckKind, bool) {
	switch k {
	case NodeDiv:
		return mir.CheckKindDivision, true
	case NodeIndex:
		return mir.CheckKindBounds, true
	case NodeDeref:
		return mir.CheckKindNull, true
	}
	return 0, false
}

// siteFact synthesizes a payload from the check site itself when the
// justifying proposition does not convert (compound index expressions and
// the like).
func siteFact(n *Node, check mir.CheckKind) (mir.ContractFact, bool) {
	switch e := n.Expr.(type) {
	case cir.Binary:
		if v, ok := e.R.(cir.Var); ok {
			return mir.ContractFact{Kind: mir.FactNonZero, Check: check, Point: n.Point, Var: v.Name}, true
		}
	case cir.IndexOf:
		iv, iok := e.Index.(cir.Var)
		av, aok := e.Array.(cir.Var)
		if iok && aok {
			return mir.ContractFact{Kind: mir.FactArrayBounds, Check: check, Point: n.Point, Index: iv.Name, Array: av.Name}, true
		}
	case cir.DerefOf:
		if v, ok := e.E.(cir.Var); ok {
			return mir.ContractFact{Kind: mir.FactNonNull, Check: check, Point: n.Point, Var: v.Name}, true
		}
	}
	return mir.ContractFact{}, false
}
