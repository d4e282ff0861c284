package pir

import (
	"testing"

	"github.com/calyx-lang/calyx/internal/cir"
	"github.com/calyx-lang/calyx/internal/mir"
)

func divideFunction() *cir.Function {
	return &cir.Function{
		Module: "m", Name: "divide",
		Params: []cir.Param{
			{Name: "a", Type: cir.IntType()},
			{Name: "b", Type: cir.IntType()},
		},
		Return: cir.IntType(),
		Requires: []cir.NamedProposition{{
			Name: "nonzero",
			Prop: cir.Compare{L: cir.Var{Name: "b"}, Op: cir.Ne, R: cir.IntLit{Value: 0}},
		}},
		Body: &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{
			Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "b"},
		}},
	}
}

func findNode(f *Function, kind NodeKind) *Node {
	var found *Node
	f.Walk(func(n *Node) {
		if found == nil && n.Kind == kind {
			found = n
		}
	})
	return found
}

func TestPreconditionDischargesDivisionCheck(t *testing.T) {
	p := NewPropagator(nil)
	f := p.PropagateFunction(divideFunction())

	if len(f.Entry) != 1 {
		t.Fatalf("entry facts = %v", f.Entry)
	}
	if f.Entry[0].Evidence.Kind != cir.EvidencePrecondition {
		t.Errorf("entry evidence = %+v", f.Entry[0].Evidence)
	}

	div := findNode(f, NodeDiv)
	if div == nil {
		t.Fatalf("no division site found:\n%s", f.Dump())
	}
	if div.Discharge == nil {
		t.Fatalf("b != 0 should discharge the division check:\n%s", f.Dump())
	}
	if div.Discharge.Prop.String() != "b != 0" {
		t.Errorf("discharging fact = %s", div.Discharge.Prop)
	}
}

func TestBranchConditionScopesToArm(t *testing.T) {
	// if x > 0 { a / x } else { a / x }
	divByX := func() *cir.Body {
		return &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{
			Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "x"},
		}}
	}
	fn := &cir.Function{
		Module: "m", Name: "guarded",
		Body: &cir.Body{Kind: cir.BodyIf,
			Cond: cir.CmpExpr{L: cir.Var{Name: "x"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
			Then: divByX(),
			Else: divByX(),
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)

	var divs []*Node
	f.Walk(func(n *Node) {
		if n.Kind == NodeDiv {
			divs = append(divs, n)
		}
	})
	if len(divs) != 2 {
		t.Fatalf("found %d division sites", len(divs))
	}
	if divs[0].Discharge == nil {
		t.Errorf("x > 0 holds in the then arm; check should lift")
	}
	if divs[1].Discharge != nil {
		t.Errorf("the else arm knows x <= 0, not x != 0; check must stay")
	}
	// The branch fact is scoped, never whole-function.
	then := divs[0]
	if then.Discharge.Scope.Kind != cir.ScopeConditional {
		t.Errorf("branch fact scope = %+v", then.Discharge.Scope)
	}
}

func TestNegatedConditionHoldsInElse(t *testing.T) {
	// if x == 0 {} else { a / x }: the else arm knows x != 0.
	fn := &cir.Function{
		Module: "m", Name: "inverted",
		Body: &cir.Body{Kind: cir.BodyIf,
			Cond: cir.CmpExpr{L: cir.Var{Name: "x"}, Op: cir.Eq, R: cir.IntLit{Value: 0}},
			Then: &cir.Body{Kind: cir.BodyPanic, Name: "zero"},
			Else: &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{
				Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "x"},
			}},
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil || div.Discharge == nil {
		t.Fatalf("negated branch condition should discharge the check:\n%s", f.Dump())
	}
}

func TestLoopWithoutInvariantDropsNarrowFacts(t *testing.T) {
	// if x > 0 { while cond { a / x } }: the branch fact must not survive
	// into the loop body.
	fn := &cir.Function{
		Module: "m", Name: "looped",
		Body: &cir.Body{Kind: cir.BodyIf,
			Cond: cir.CmpExpr{L: cir.Var{Name: "x"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
			Then: &cir.Body{Kind: cir.BodyWhile,
				Cond: cir.CmpExpr{L: cir.Var{Name: "n"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
				Loop: &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{
					Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "x"},
				}},
			},
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil {
		t.Fatalf("no division site")
	}
	if div.Discharge != nil {
		t.Errorf("x > 0 is not loop-invariant knowledge; check must stay")
	}
}

func TestPreconditionSurvivesIntoLoop(t *testing.T) {
	// The body never writes b, so the whole-function fact about it is
	// genuinely loop-invariant.
	fn := divideFunction()
	fn.Body = &cir.Body{Kind: cir.BodyWhile,
		Cond: cir.CmpExpr{L: cir.Var{Name: "n"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
		Loop: &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{
			Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "b"},
		}},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil || div.Discharge == nil {
		t.Fatalf("whole-function precondition should survive into the loop:\n%s", f.Dump())
	}
}

func TestLoopBodyWriteKillsEntryFacts(t *testing.T) {
	// pre: i >= 0 && i < len(a); while n > 0 { a[i]; i = i + 1 }
	// The bounds hold on entry but not on iteration two, so the index site
	// before the increment must keep its check.
	a := cir.Var{Name: "a"}
	i := cir.Var{Name: "i"}
	fn := &cir.Function{
		Module: "m", Name: "scan",
		Requires: []cir.NamedProposition{
			{Prop: cir.Compare{L: i, Op: cir.Ge, R: cir.IntLit{Value: 0}}},
			{Prop: cir.Compare{L: i, Op: cir.Lt, R: cir.LengthOf{E: a}}},
		},
		Body: &cir.Body{Kind: cir.BodyWhile,
			Cond: cir.CmpExpr{L: cir.Var{Name: "n"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
			Loop: &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
				{Kind: cir.BodyExpr, Pure: cir.IndexOf{Array: a, Index: i}},
				{Kind: cir.BodyAssign, Name: "i", Init: cir.Binary{Op: cir.Add, L: i, R: cir.IntLit{Value: 1}}},
			}},
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	idx := findNode(f, NodeIndex)
	if idx == nil {
		t.Fatalf("no index site")
	}
	if idx.Discharge != nil {
		t.Errorf("i is written later in the body; entry bounds must not discharge the check:\n%s", f.Dump())
	}
}

func TestNestedWriteAlsoKillsLoopFacts(t *testing.T) {
	// The write to b sits inside a branch of the loop body; the division
	// before it must still keep its check.
	fn := divideFunction()
	fn.Body = &cir.Body{Kind: cir.BodyWhile,
		Cond: cir.CmpExpr{L: cir.Var{Name: "n"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
		Loop: &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
			{Kind: cir.BodyExpr, Pure: cir.Binary{Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "b"}}},
			{Kind: cir.BodyIf,
				Cond: cir.CmpExpr{L: cir.Var{Name: "a"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
				Then: &cir.Body{Kind: cir.BodyAssign, Name: "b", Init: cir.IntLit{Value: 0}},
			},
		}},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil {
		t.Fatalf("no division site")
	}
	if div.Discharge != nil {
		t.Errorf("b != 0 does not hold past the first iteration; check must stay")
	}
}

func TestForRangeBoundWrittenInBodyDropsUpperFact(t *testing.T) {
	// for j in 0..n { n = 0 }: j < n is stale once n is written, but the
	// untouched lower bound stays.
	fn := &cir.Function{
		Module: "m", Name: "shrink",
		Body: &cir.Body{Kind: cir.BodyForRange, Name: "j",
			From: cir.IntLit{Value: 0},
			To:   cir.Var{Name: "n"},
			Loop: &cir.Body{Kind: cir.BodyAssign, Name: "n", Init: cir.IntLit{Value: 0}},
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	asg := findNode(f, NodeAssign)
	if asg == nil {
		t.Fatalf("no assign node")
	}
	var lower bool
	for _, fact := range asg.ProvenAtEntry {
		if cir.MentionsVar(fact.Prop, "n") {
			t.Errorf("stale bound fact in loop body: %s", fact.Prop)
		}
		if fact.Prop.String() == "j >= 0" {
			lower = true
		}
	}
	if !lower {
		t.Errorf("untouched lower bound should stay:\n%s", f.Dump())
	}
}

func TestExplicitInvariantHoldsInLoop(t *testing.T) {
	inv := cir.Compare{L: cir.Var{Name: "d"}, Op: cir.Ne, R: cir.IntLit{Value: 0}}
	fn := &cir.Function{
		Module: "m", Name: "inv_loop",
		Body: &cir.Body{Kind: cir.BodyWhile,
			Cond:      cir.CmpExpr{L: cir.Var{Name: "n"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
			Invariant: inv,
			Loop: &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{
				Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "d"},
			}},
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil || div.Discharge == nil {
		t.Fatalf("declared invariant should discharge the check:\n%s", f.Dump())
	}
	if div.Discharge.Evidence.Kind != cir.EvidenceLoopInvariant {
		t.Errorf("evidence = %+v", div.Discharge.Evidence)
	}
}

func TestForRangeIteratorFactsDischargeBounds(t *testing.T) {
	xs := cir.Var{Name: "xs"}
	fn := &cir.Function{
		Module: "m", Name: "sum",
		Body: &cir.Body{Kind: cir.BodyForRange, Name: "i",
			From: cir.IntLit{Value: 0},
			To:   cir.LengthOf{E: xs},
			Loop: &cir.Body{Kind: cir.BodyExpr, Pure: cir.IndexOf{
				Array: xs, Index: cir.Var{Name: "i"},
			}},
		},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	idx := findNode(f, NodeIndex)
	if idx == nil {
		t.Fatalf("no index site")
	}
	if idx.Discharge == nil {
		t.Fatalf("0 <= i < len(xs) should discharge the bounds check:\n%s", f.Dump())
	}
}

func TestBoundsNeedsLowerAndUpper(t *testing.T) {
	// Only i < len(xs) is known; without i >= 0 the check stays.
	xs := cir.Var{Name: "xs"}
	fn := &cir.Function{
		Module: "m", Name: "partial",
		Requires: []cir.NamedProposition{{
			Prop: cir.Compare{L: cir.Var{Name: "i"}, Op: cir.Lt, R: cir.LengthOf{E: xs}},
		}},
		Body: &cir.Body{Kind: cir.BodyExpr, Pure: cir.IndexOf{
			Array: xs, Index: cir.Var{Name: "i"},
		}},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	idx := findNode(f, NodeIndex)
	if idx == nil {
		t.Fatalf("no index site")
	}
	if idx.Discharge != nil {
		t.Errorf("an upper bound alone must not discharge a bounds check")
	}
}

func TestExactInBoundsFactDischarges(t *testing.T) {
	xs := cir.Var{Name: "xs"}
	fn := &cir.Function{
		Module: "m", Name: "exact",
		Requires: []cir.NamedProposition{{
			Prop: cir.InBounds{Index: cir.Var{Name: "i"}, Array: xs},
		}},
		Body: &cir.Body{Kind: cir.BodyExpr, Pure: cir.IndexOf{
			Array: xs, Index: cir.Var{Name: "i"},
		}},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	idx := findNode(f, NodeIndex)
	if idx == nil || idx.Discharge == nil {
		t.Fatalf("in_bounds precondition should discharge the check:\n%s", f.Dump())
	}
}

func TestNonNullFactDischargesDeref(t *testing.T) {
	fn := &cir.Function{
		Module: "m", Name: "load",
		Requires: []cir.NamedProposition{{
			Prop: cir.NonNull{E: cir.Var{Name: "p"}},
		}},
		Body: &cir.Body{Kind: cir.BodyExpr, Pure: cir.DerefOf{E: cir.Var{Name: "p"}}},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	ref := findNode(f, NodeDeref)
	if ref == nil || ref.Discharge == nil {
		t.Fatalf("non_null precondition should discharge the deref check:\n%s", f.Dump())
	}
}

func TestLetBindingInheritsCalleePostcondition(t *testing.T) {
	verified := map[string][]cir.NamedProposition{
		"positive_of": {{
			Prop: cir.Compare{L: cir.ResultVar{}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
		}},
	}
	fn := &cir.Function{
		Module: "m", Name: "chained",
		Body: &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
			{Kind: cir.BodyLet, Name: "y", Init: cir.CallOf{Name: "positive_of", Args: []cir.Expr{cir.Var{Name: "x"}}}},
			{Kind: cir.BodyExpr, Pure: cir.Binary{Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "y"}}},
		}},
	}
	f := NewPropagator(verified).PropagateFunction(fn)

	let := findNode(f, NodeLet)
	if let == nil || len(let.ResultFacts) != 1 {
		t.Fatalf("let should inherit the callee postcondition:\n%s", f.Dump())
	}
	if got := let.ResultFacts[0].Prop.String(); got != "y > 0" {
		t.Errorf("inherited fact = %q, want result substituted with the binding", got)
	}
	if let.ResultFacts[0].Evidence != cir.FromCalleePostcondition("positive_of") {
		t.Errorf("evidence = %+v", let.ResultFacts[0].Evidence)
	}
	div := findNode(f, NodeDiv)
	if div == nil || div.Discharge == nil {
		t.Fatalf("y > 0 should discharge the division check:\n%s", f.Dump())
	}
}

func TestUnverifiedCalleeContributesNothing(t *testing.T) {
	fn := &cir.Function{
		Module: "m", Name: "chained",
		Body: &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
			{Kind: cir.BodyLet, Name: "y", Init: cir.CallOf{Name: "unknown_fn"}},
			{Kind: cir.BodyExpr, Pure: cir.Binary{Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "y"}}},
		}},
	}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil {
		t.Fatalf("no division site")
	}
	if div.Discharge != nil {
		t.Errorf("unverified callee must not justify lifting a check")
	}
}

func TestAssignmentKillsFacts(t *testing.T) {
	fn := divideFunction()
	fn.Body = &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
		{Kind: cir.BodyAssign, Name: "b", Init: cir.Var{Name: "c"}},
		{Kind: cir.BodyExpr, Pure: cir.Binary{Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "b"}}},
	}}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil {
		t.Fatalf("no division site")
	}
	if div.Discharge != nil {
		t.Errorf("b != 0 spoke about the old value; assignment must kill it")
	}
}

func TestPropagationIsDeterministic(t *testing.T) {
	fn := divideFunction()
	fn.Body = &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
		{Kind: cir.BodyLet, Name: "t", Init: cir.IntLit{Value: 3}},
		{Kind: cir.BodyIf,
			Cond: cir.CmpExpr{L: cir.Var{Name: "a"}, Op: cir.Gt, R: cir.IntLit{Value: 0}},
			Then: &cir.Body{Kind: cir.BodyExpr, Pure: cir.Binary{Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "b"}}},
		},
	}}
	p := NewPropagator(nil)
	first := p.PropagateFunction(fn).Dump()
	for i := 0; i < 5; i++ {
		if got := p.PropagateFunction(fn).Dump(); got != first {
			t.Fatalf("run %d differs:\n%s\n---\n%s", i, first, got)
		}
	}
}

func TestPointNamesAreStable(t *testing.T) {
	fn := divideFunction()
	fn.Body = &cir.Body{Kind: cir.BodyBlock, Seq: []*cir.Body{
		{Kind: cir.BodyLet, Name: "t", Init: cir.IntLit{Value: 3}},
		{Kind: cir.BodyExpr, Pure: cir.Binary{Op: cir.Div, L: cir.Var{Name: "a"}, R: cir.Var{Name: "b"}}},
	}}
	f := NewPropagator(nil).PropagateFunction(fn)
	div := findNode(f, NodeDiv)
	if div == nil {
		t.Fatalf("no division site")
	}
	if div.Point != "b.1/div0" {
		t.Errorf("division point = %q", div.Point)
	}
}

func TestBridgeFactsCarryDischargedChecks(t *testing.T) {
	fn := divideFunction()
	f := NewPropagator(nil).PropagateFunction(fn)
	facts := BridgeFacts(fn, f)

	var wholeFn, atSite bool
	for _, fact := range facts {
		if fact.Kind == mir.FactNonZero && fact.Var == "b" {
			if fact.Point == "" {
				wholeFn = true
			}
			if fact.Point == "b/div0" && fact.Check == mir.CheckKindDivision {
				atSite = true
			}
		}
	}
	if !wholeFn {
		t.Errorf("missing whole-function non-zero fact: %v", facts)
	}
	if !atSite {
		t.Errorf("missing point-tagged division fact: %v", facts)
	}
}

func TestBridgeFactsWithoutAnnotations(t *testing.T) {
	fn := divideFunction()
	facts := BridgeFacts(fn, nil)
	if len(facts) != 2 {
		t.Fatalf("precondition facts = %v", facts)
	}
	for _, fact := range facts {
		if fact.Point != "" {
			t.Errorf("precondition fact should hold function-wide: %+v", fact)
		}
	}
}
