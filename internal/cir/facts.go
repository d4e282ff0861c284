package cir

import (
	"github.com/calyx-lang/calyx/internal/mir"
)

// Bridge from propositions to the optimizer's fact representation. Only
// shapes the optimizer can act on convert; everything else is skipped, which
// is always safe (a missing fact keeps the check).

// PropositionToFacts converts one proposition. Conjunctions recurse;
// disjunctions, implications, and quantifiers do not convert (a disjunct is
// not individually known).
func PropositionToFacts(p Proposition, check mir.CheckKind, point string) []mir.ContractFact {
	var out []mir.ContractFact
	switch q := p.(type) {
	case And:
		for _, c := range q.Ps {
			out = append(out, PropositionToFacts(c, check, point)...)
		}
	case Not:
		if cmp, ok := q.P.(Compare); ok {
			out = append(out, compareToFacts(Compare{L: cmp.L, Op: cmp.Op.Negate(), R: cmp.R}, check, point)...)
		}
	case Compare:
		out = append(out, compareToFacts(q, check, point)...)
	case InBounds:
		idx, iok := exprName(q.Index)
		arr, aok := exprName(q.Array)
		if iok && aok {
			out = append(out, mir.ContractFact{
				Kind: mir.FactArrayBounds, Check: mir.CheckKindBounds, Point: point,
				Index: idx, Array: arr,
			})
		}
	case NonNull:
		if v, ok := exprName(q.E); ok {
			out = append(out, mir.ContractFact{
				Kind: mir.FactNonNull, Check: mir.CheckKindNull, Point: point, Var: v,
			})
		}
	}
	return out
}

func compareToFacts(c Compare, check mir.CheckKind, point string) []mir.ContractFact {
	l, lok := exprName(c.L)
	r, rok := exprName(c.R)
	lc, lconst := constValue(c.L)
	rc, rconst := constValue(c.R)

	var out []mir.ContractFact
	switch {
	case lok && rconst:
		out = append(out, varConstFacts(l, c.Op, rc, check, point)...)
	case lconst && rok:
		out = append(out, varConstFacts(r, c.Op.Flip(), lc, check, point)...)
	case lok && rok:
		out = append(out, mir.ContractFact{
			Kind: mir.FactVarVarCmp, Check: check, Point: point,
			Var: l, Op: cmpPred(c.Op), Other: r,
		})
		// i < len(a) additionally feeds bounds reasoning as-is: the
		// optimizer pairs it with a separate lower-bound fact.
	}
	return out
}

func varConstFacts(v string, op CompareOp, c int64, check mir.CheckKind, point string) []mir.ContractFact {
	out := []mir.ContractFact{{
		Kind: mir.FactVarCmp, Check: check, Point: point,
		Var: v, Op: cmpPred(op), Const: c,
	}}
	if op == Ne && c == 0 {
		out = append(out, mir.ContractFact{
			Kind: mir.FactNonZero, Check: mir.CheckKindDivision, Point: point, Var: v,
		})
	}
	return out
}

// exprName names the expressions fact matching understands: plain variables
// and len(variable).
func exprName(e Expr) (string, bool) {
	switch v := e.(type) {
	case Var:
		return v.Name, true
	case ResultVar:
		return "result", true
	case LengthOf:
		if inner, ok := exprName(v.E); ok {
			return "len(" + inner + ")", true
		}
	case OldOf:
		return exprName(v.E)
	}
	return "", false
}

func constValue(e Expr) (int64, bool) {
	if lit, ok := e.(IntLit); ok {
		return lit.Value, true
	}
	return 0, false
}

func cmpPred(op CompareOp) mir.CmpPred {
	switch op {
	case Eq:
		return mir.CmpEQ
	case Ne:
		return mir.CmpNE
	case Lt:
		return mir.CmpLT
	case Le:
		return mir.CmpLE
	case Gt:
		return mir.CmpGT
	default:
		return mir.CmpGE
	}
}

// ExtractPreconditionFacts converts a function's precondition set into
// whole-function facts for the optimizer. Branch is the default tag; bounds,
// null, and division payloads carry their own kind.
func ExtractPreconditionFacts(fn *Function) []mir.ContractFact {
	var out []mir.ContractFact
	for _, pre := range fn.Requires {
		out = append(out, PropositionToFacts(pre.Prop, mir.CheckKindBranch, "")...)
	}
	return out
}
