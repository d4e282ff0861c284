package cir

import "fmt"

// ProofFact is a proposition known true at a scoped program point, with the
// evidence that established it. Facts are immutable once created.
type ProofFact struct {
	Prop     Proposition
	Scope    ProofScope
	Evidence ProofEvidence
}

func (f ProofFact) String() string {
	return fmt.Sprintf("%s [%s, %s]", f.Prop, f.Scope, f.Evidence)
}

// ProofScope limits where a fact may be used. A branch-local deduction must
// never leak into an unrelated path.
type ProofScope struct {
	Kind ScopeKind
	// Point identifies the program point for ScopeAtPoint.
	Point string
	// Cond and Inner are set for ScopeConditional.
	Cond  Proposition
	Inner *ProofScope
}

type ScopeKind int

const (
	ScopeWholeFunction ScopeKind = iota
	ScopeAtPoint
	ScopeConditional
)

func WholeFunction() ProofScope { return ProofScope{Kind: ScopeWholeFunction} }

func AtPoint(point string) ProofScope {
	return ProofScope{Kind: ScopeAtPoint, Point: point}
}

func ConditionalOn(cond Proposition, inner ProofScope) ProofScope {
	return ProofScope{Kind: ScopeConditional, Cond: cond, Inner: &inner}
}

func (s ProofScope) String() string {
	switch s.Kind {
	case ScopeWholeFunction:
		return "whole-function"
	case ScopeAtPoint:
		return "at " + s.Point
	case ScopeConditional:
		inner := "whole-function"
		if s.Inner != nil {
			inner = s.Inner.String()
		}
		return fmt.Sprintf("if %s then %s", s.Cond, inner)
	default:
		return "scope?"
	}
}

// ProofEvidence records how a fact was established. Trusted functions reuse
// EvidencePrecondition for their postcondition facts; the audit distinction
// lives in the verification status, not here.
type ProofEvidence struct {
	Kind EvidenceKind
	// QueryHash identifies the solver query for EvidenceSolver.
	QueryHash string
	// Callee names the called function for EvidenceCalleePostcondition.
	Callee string
}

type EvidenceKind int

const (
	EvidencePrecondition EvidenceKind = iota
	EvidenceSolver
	EvidenceControlFlow
	EvidenceLoopInvariant
	EvidenceCalleePostcondition
)

func FromPrecondition() ProofEvidence {
	return ProofEvidence{Kind: EvidencePrecondition}
}

func FromSolver(queryHash string) ProofEvidence {
	return ProofEvidence{Kind: EvidenceSolver, QueryHash: queryHash}
}

func FromControlFlow() ProofEvidence {
	return ProofEvidence{Kind: EvidenceControlFlow}
}

func FromLoopInvariant() ProofEvidence {
	return ProofEvidence{Kind: EvidenceLoopInvariant}
}

func FromCalleePostcondition(callee string) ProofEvidence {
	return ProofEvidence{Kind: EvidenceCalleePostcondition, Callee: callee}
}

func (e ProofEvidence) String() string {
	switch e.Kind {
	case EvidencePrecondition:
		return "precondition"
	case EvidenceSolver:
		h := e.QueryHash
		if len(h) > 12 {
			h = h[:12]
		}
		return "solver:" + h
	case EvidenceControlFlow:
		return "control-flow"
	case EvidenceLoopInvariant:
		return "loop-invariant"
	case EvidenceCalleePostcondition:
		return "postcondition-of:" + e.Callee
	default:
		return "evidence?"
	}
}
