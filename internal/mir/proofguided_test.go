package mir

import (
	"strings"
	"testing"
)

func countChecks(fn *Function) (bounds, null, div int) {
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instr {
			switch in.(type) {
			case CheckBounds:
				bounds++
			case CheckNonNull:
				null++
			case CheckDiv:
				div++
			}
		}
	}
	return
}

func divideFunction(facts []ContractFact) *Function {
	return &Function{
		Name:       "divide",
		Parameters: []Value{Ref("a"), Ref("b")},
		Facts:      facts,
		Blocks: []*BasicBlock{{
			Name: "entry",
			Instr: []Instr{
				CheckDiv{Divisor: Ref("b"), Point: "b/div0"},
				BinOp{Dst: "q", Op: OpDiv, LHS: Ref("a"), RHS: Ref("b")},
				Ret{Val: &Value{Kind: ValRef, Ref: "q"}},
			},
		}},
	}
}

func TestDivisionCheckEliminatedByPointFact(t *testing.T) {
	fn := divideFunction([]ContractFact{{
		Kind: FactNonZero, Check: CheckKindDivision, Point: "b/div0", Var: "b",
	}})
	st := RunProofGuided(fn)
	if st.DivRemoved != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if _, _, div := countChecks(fn); div != 0 {
		t.Errorf("check.div survived:\n%s", fn)
	}
	if len(st.Eliminations) != 1 {
		t.Fatalf("eliminations = %v", st.Eliminations)
	}
	e := st.Eliminations[0]
	if e.Point != "b/div0" || e.Check != CheckKindDivision || e.Fact.Var != "b" {
		t.Errorf("elimination = %+v", e)
	}
}

func TestDivisionCheckEliminatedByWholeFunctionFact(t *testing.T) {
	fn := divideFunction([]ContractFact{{
		Kind: FactNonZero, Check: CheckKindDivision, Var: "b",
	}})
	if st := RunProofGuided(fn); st.DivRemoved != 1 {
		t.Errorf("function-wide non-zero fact should cover the divisor: %+v", st)
	}
}

func TestConstantDivisorNeedsNoFact(t *testing.T) {
	fn := &Function{
		Name: "halve",
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckDiv{Divisor: ConstInt(2), Point: "b/div0"},
			BinOp{Dst: "h", Op: OpDiv, LHS: Ref("a"), RHS: ConstInt(2)},
			Ret{Val: &Value{Kind: ValRef, Ref: "h"}},
		}}},
	}
	if st := RunProofGuided(fn); st.DivRemoved != 1 {
		t.Errorf("nonzero constant divisor is trivially safe: %+v", st)
	}

	zero := &Function{
		Name: "broken",
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckDiv{Divisor: ConstInt(0), Point: "b/div0"},
		}}},
	}
	if st := RunProofGuided(zero); st.DivRemoved != 0 {
		t.Errorf("zero divisor check must stay: %+v", st)
	}
}

func TestChecksStayWithoutFacts(t *testing.T) {
	fn := &Function{
		Name: "unproven",
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckBounds{Index: Ref("i"), Length: Ref("n"), Array: "xs", Point: "p0"},
			CheckNonNull{Ptr: Ref("p"), Point: "p1"},
			CheckDiv{Divisor: Ref("d"), Point: "p2"},
			Ret{},
		}}},
	}
	st := RunProofGuided(fn)
	if st.Total() != 0 {
		t.Fatalf("no facts, no changes: %+v", st)
	}
	bounds, null, div := countChecks(fn)
	if bounds != 1 || null != 1 || div != 1 {
		t.Errorf("checks = %d/%d/%d, all must survive", bounds, null, div)
	}
}

func TestBoundsCheckEliminatedByRangePair(t *testing.T) {
	fn := &Function{
		Name: "sum",
		Facts: []ContractFact{
			{Kind: FactVarCmp, Var: "i", Op: CmpGE, Const: 0},
			{Kind: FactVarVarCmp, Var: "i", Op: CmpLT, Other: "len(xs)"},
		},
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckBounds{Index: Ref("i"), Length: Ref("n"), Array: "xs"},
			Ret{},
		}}},
	}
	if st := RunProofGuided(fn); st.BoundsRemoved != 1 {
		t.Errorf("0 <= i < len(xs) should lift the bounds check: %+v", st)
	}
}

func TestBoundsCheckNeedsLowerBound(t *testing.T) {
	fn := &Function{
		Name: "partial",
		Facts: []ContractFact{
			{Kind: FactVarVarCmp, Var: "i", Op: CmpLT, Other: "len(xs)"},
		},
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckBounds{Index: Ref("i"), Length: Ref("n"), Array: "xs"},
			Ret{},
		}}},
	}
	if st := RunProofGuided(fn); st.BoundsRemoved != 0 {
		t.Errorf("upper bound alone must not lift the check: %+v", st)
	}
}

func TestBoundsCheckExactPair(t *testing.T) {
	fn := &Function{
		Name: "exact",
		Facts: []ContractFact{
			{Kind: FactArrayBounds, Check: CheckKindBounds, Index: "i", Array: "xs"},
		},
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckBounds{Index: Ref("i"), Length: Ref("n"), Array: "xs"},
			CheckBounds{Index: Ref("i"), Length: Ref("m"), Array: "ys"},
			Ret{},
		}}},
	}
	st := RunProofGuided(fn)
	if st.BoundsRemoved != 1 {
		t.Fatalf("stats = %+v", st)
	}
	bounds, _, _ := countChecks(fn)
	if bounds != 1 {
		t.Errorf("the ys check has no fact and must survive")
	}
}

func TestNullCheckElimination(t *testing.T) {
	fn := &Function{
		Name: "load",
		Facts: []ContractFact{
			{Kind: FactNonNull, Check: CheckKindNull, Var: "p"},
		},
		Blocks: []*BasicBlock{{Name: "entry", Instr: []Instr{
			CheckNonNull{Ptr: Ref("p")},
			CheckNonNull{Ptr: Ref("q")},
			Load{Dst: "v", Addr: Ref("p")},
			Ret{Val: &Value{Kind: ValRef, Ref: "v"}},
		}}},
	}
	st := RunProofGuided(fn)
	if st.NullRemoved != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if _, null, _ := countChecks(fn); null != 1 {
		t.Errorf("q has no fact, its check must survive:\n%s", fn)
	}
}

// Guarded panic: pre x > 0 makes the x <= 0 branch unreachable.
func guardedFunction() *Function {
	return &Function{
		Name: "guarded",
		Facts: []ContractFact{
			{Kind: FactVarCmp, Var: "x", Op: CmpGT, Const: 0},
		},
		Blocks: []*BasicBlock{
			{Name: "entry", Instr: []Instr{
				Cmp{Dst: "c", Pred: CmpLE, LHS: Ref("x"), RHS: ConstInt(0)},
				CondBr{Cond: Ref("c"), True: "panic", False: "body",
					Guard: &Cmp{Dst: "c", Pred: CmpLE, LHS: Ref("x"), RHS: ConstInt(0)}},
			}},
			{Name: "panic", Instr: []Instr{Panic{Msg: "x must be positive"}}},
			{Name: "body", Instr: []Instr{Ret{Val: &Value{Kind: ValRef, Ref: "x"}}}},
		},
	}
}

func TestContradictionBranchPruning(t *testing.T) {
	fn := guardedFunction()
	st := RunProofGuided(fn)
	if st.BranchesSimplified != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.BlocksRemoved != 1 {
		t.Errorf("the panic block is unreachable and should be swept: %+v", st)
	}
	if fn.Block("panic") != nil {
		t.Errorf("panic block survived:\n%s", fn)
	}
	entry := fn.Block("entry")
	last := entry.Instr[len(entry.Instr)-1]
	br, ok := last.(Br)
	if !ok || br.Target != "body" {
		t.Errorf("terminator = %v, want br body", last)
	}
}

func TestUndecidedGuardIsKept(t *testing.T) {
	fn := guardedFunction()
	fn.Facts = nil
	st := RunProofGuided(fn)
	if st.BranchesSimplified != 0 || st.BlocksRemoved != 0 {
		t.Fatalf("no facts, no pruning: %+v", st)
	}
	if fn.Block("panic") == nil {
		t.Errorf("panic block must survive without facts")
	}
}

func TestGuardNormalizesConstOnLeft(t *testing.T) {
	// 0 >= x with x > 0 known evaluates false.
	fn := guardedFunction()
	entry := fn.Block("entry")
	entry.Instr[1] = CondBr{Cond: Ref("c"), True: "panic", False: "body",
		Guard: &Cmp{Dst: "c", Pred: CmpGE, LHS: ConstInt(0), RHS: Ref("x")}}
	st := RunProofGuided(fn)
	if st.BranchesSimplified != 1 {
		t.Fatalf("const-left guard not normalized: %+v", st)
	}
	last := entry.Instr[len(entry.Instr)-1]
	if br, ok := last.(Br); !ok || br.Target != "body" {
		t.Errorf("terminator = %v, want br body", last)
	}
}

func TestVarVarGuard(t *testing.T) {
	fn := &Function{
		Name: "ordered",
		Facts: []ContractFact{
			{Kind: FactVarVarCmp, Var: "i", Op: CmpLT, Other: "n"},
		},
		Blocks: []*BasicBlock{
			{Name: "entry", Instr: []Instr{
				CondBr{Cond: Ref("c"), True: "in", False: "out",
					Guard: &Cmp{Dst: "c", Pred: CmpLT, LHS: Ref("i"), RHS: Ref("n")}},
			}},
			{Name: "in", Instr: []Instr{Ret{}}},
			{Name: "out", Instr: []Instr{Panic{Msg: "out of range"}}},
		},
	}
	st := RunProofGuided(fn)
	if st.BranchesSimplified != 1 || st.BlocksRemoved != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if fn.Block("out") != nil {
		t.Errorf("out block should be swept")
	}
}

func TestPassesAreIdempotent(t *testing.T) {
	fn := guardedFunction()
	fn.Blocks[0].Instr = append([]Instr{
		CheckDiv{Divisor: Ref("x"), Point: "b/div0"},
	}, fn.Blocks[0].Instr...)

	first := RunProofGuided(fn)
	if first.Total() == 0 {
		t.Fatalf("first run should change something: %+v", first)
	}
	after := fn.String()

	second := RunProofGuided(fn)
	if second.Total() != 0 || second.BlocksRemoved != 0 {
		t.Errorf("second run must be a no-op: %+v", second)
	}
	if fn.String() != after {
		t.Errorf("second run changed the function:\n%s\n---\n%s", after, fn.String())
	}
}

func TestRunProofGuidedModule(t *testing.T) {
	m := &Module{
		Name: "m",
		Functions: []*Function{
			divideFunction([]ContractFact{{Kind: FactNonZero, Check: CheckKindDivision, Point: "b/div0", Var: "b"}}),
			guardedFunction(),
		},
	}
	st := RunProofGuidedModule(m)
	if st.DivRemoved != 1 || st.BranchesSimplified != 1 {
		t.Errorf("module stats = %+v", st)
	}
	rep := st.Report()
	if !strings.Contains(rep, "divide: eliminated division check at b/div0") {
		t.Errorf("report missing the division line:\n%s", rep)
	}
}

func TestFactSetQueries(t *testing.T) {
	s := NewProvenFactSet([]ContractFact{
		{Kind: FactVarCmp, Var: "x", Op: CmpGT, Const: 0},
		{Kind: FactVarCmp, Var: "y", Op: CmpLE, Const: -1},
		{Kind: FactVarCmp, Var: "k", Op: CmpEQ, Const: 7},
		{Kind: FactNonZero, Var: "d"},
	})
	if !s.ImpliesNonZero("x") {
		t.Errorf("x > 0 implies x != 0")
	}
	if !s.ImpliesNonZero("y") {
		t.Errorf("y <= -1 implies y != 0")
	}
	if !s.ImpliesNonZero("d") {
		t.Errorf("direct non-zero fact")
	}
	if s.ImpliesNonZero("z") {
		t.Errorf("nothing is known about z")
	}
	if v, ok := s.EvalVarCmp("k", CmpEQ, 7); !ok || !v {
		t.Errorf("k == 7 should evaluate true")
	}
	if v, ok := s.EvalVarCmp("k", CmpNE, 7); !ok || v {
		t.Errorf("k != 7 should evaluate false")
	}
	if v, ok := s.EvalVarCmp("x", CmpGE, 1); !ok || !v {
		t.Errorf("x > 0 forces x >= 1")
	}
	if _, ok := s.EvalVarCmp("x", CmpLT, 100); ok {
		t.Errorf("x has no upper bound; x < 100 is undecided")
	}
}
