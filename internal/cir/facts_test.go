package cir

import (
	"testing"

	"github.com/calyx-lang/calyx/internal/mir"
)

func TestNonZeroPreconditionYieldsBothFactForms(t *testing.T) {
	p := Compare{L: Var{Name: "b"}, Op: Ne, R: IntLit{Value: 0}}
	facts := PropositionToFacts(p, mir.CheckKindBranch, "")
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want comparison plus non-zero: %v", len(facts), facts)
	}
	cmp := facts[0]
	if cmp.Kind != mir.FactVarCmp || cmp.Var != "b" || cmp.Op != mir.CmpNE || cmp.Const != 0 {
		t.Errorf("comparison fact = %+v", cmp)
	}
	nz := facts[1]
	if nz.Kind != mir.FactNonZero || nz.Var != "b" || nz.Check != mir.CheckKindDivision {
		t.Errorf("non-zero fact = %+v", nz)
	}
}

func TestConstOnLeftFlips(t *testing.T) {
	// 0 < x converts as x > 0.
	p := Compare{L: IntLit{Value: 0}, Op: Lt, R: Var{Name: "x"}}
	facts := PropositionToFacts(p, mir.CheckKindBranch, "")
	if len(facts) != 1 {
		t.Fatalf("got %d facts: %v", len(facts), facts)
	}
	f := facts[0]
	if f.Var != "x" || f.Op != mir.CmpGT || f.Const != 0 {
		t.Errorf("flipped fact = %+v", f)
	}
}

func TestVarLenComparison(t *testing.T) {
	p := Compare{L: Var{Name: "i"}, Op: Lt, R: LengthOf{E: Var{Name: "a"}}}
	facts := PropositionToFacts(p, mir.CheckKindBranch, "")
	if len(facts) != 1 {
		t.Fatalf("got %d facts: %v", len(facts), facts)
	}
	f := facts[0]
	if f.Kind != mir.FactVarVarCmp || f.Var != "i" || f.Op != mir.CmpLT || f.Other != "len(a)" {
		t.Errorf("fact = %+v", f)
	}
}

func TestInBoundsAndNonNullPayloads(t *testing.T) {
	p := Conj(
		InBounds{Index: Var{Name: "i"}, Array: Var{Name: "a"}},
		NonNull{E: Var{Name: "p"}},
	)
	facts := PropositionToFacts(p, mir.CheckKindBranch, "b.2")
	if len(facts) != 2 {
		t.Fatalf("got %d facts: %v", len(facts), facts)
	}
	ib := facts[0]
	if ib.Kind != mir.FactArrayBounds || ib.Index != "i" || ib.Array != "a" || ib.Check != mir.CheckKindBounds || ib.Point != "b.2" {
		t.Errorf("bounds fact = %+v", ib)
	}
	nn := facts[1]
	if nn.Kind != mir.FactNonNull || nn.Var != "p" || nn.Check != mir.CheckKindNull {
		t.Errorf("null fact = %+v", nn)
	}
}

func TestNegatedComparisonConverts(t *testing.T) {
	p := Not{P: Compare{L: Var{Name: "x"}, Op: Eq, R: IntLit{Value: 0}}}
	facts := PropositionToFacts(p, mir.CheckKindBranch, "")
	if len(facts) != 2 {
		t.Fatalf("got %d facts: %v", len(facts), facts)
	}
	if facts[0].Op != mir.CmpNE {
		t.Errorf("negated == should convert as !=, got %+v", facts[0])
	}
	if facts[1].Kind != mir.FactNonZero {
		t.Errorf("x != 0 should also yield a non-zero fact, got %+v", facts[1])
	}
}

func TestDisjunctionsAndQuantifiersDoNotConvert(t *testing.T) {
	skipped := []Proposition{
		Disj(
			Compare{L: Var{Name: "x"}, Op: Gt, R: IntLit{Value: 0}},
			Compare{L: Var{Name: "y"}, Op: Gt, R: IntLit{Value: 0}},
		),
		Implies{
			P: Compare{L: Var{Name: "x"}, Op: Gt, R: IntLit{Value: 0}},
			Q: Compare{L: Var{Name: "y"}, Op: Gt, R: IntLit{Value: 0}},
		},
		Forall{Var: "i", Domain: IntType(), Body: Compare{L: Var{Name: "i"}, Op: Ge, R: IntLit{Value: 0}}},
		Pred{Name: "sorted", Args: []Expr{Var{Name: "xs"}}},
	}
	for i, p := range skipped {
		if facts := PropositionToFacts(p, mir.CheckKindBranch, ""); len(facts) != 0 {
			t.Errorf("case %d: %s should not convert, got %v", i, p, facts)
		}
	}
}

func TestNonVariableOperandsAreSkipped(t *testing.T) {
	// (a + b) > 0 has no nameable operand.
	p := Compare{
		L:  Binary{Op: Add, L: Var{Name: "a"}, R: Var{Name: "b"}},
		Op: Gt,
		R:  IntLit{Value: 0},
	}
	if facts := PropositionToFacts(p, mir.CheckKindBranch, ""); len(facts) != 0 {
		t.Errorf("compound operand should not convert, got %v", facts)
	}
}

func TestOldOperandNamesUnderlyingVariable(t *testing.T) {
	p := Compare{L: ResultVar{}, Op: Ge, R: OldOf{E: Var{Name: "x"}}}
	facts := PropositionToFacts(p, mir.CheckKindBranch, "")
	if len(facts) != 1 {
		t.Fatalf("got %d facts: %v", len(facts), facts)
	}
	f := facts[0]
	if f.Kind != mir.FactVarVarCmp || f.Var != "result" || f.Other != "x" {
		t.Errorf("fact = %+v", f)
	}
}

func TestExtractPreconditionFacts(t *testing.T) {
	fn := &Function{
		Module: "m", Name: "divide",
		Requires: []NamedProposition{
			{Prop: Compare{L: Var{Name: "b"}, Op: Ne, R: IntLit{Value: 0}}},
			{Prop: Compare{L: Var{Name: "a"}, Op: Ge, R: IntLit{Value: 0}}},
		},
	}
	facts := ExtractPreconditionFacts(fn)
	if len(facts) != 3 {
		t.Fatalf("got %d facts: %v", len(facts), facts)
	}
	for _, f := range facts {
		if f.Point != "" {
			t.Errorf("precondition fact should hold function-wide: %+v", f)
		}
	}
}
