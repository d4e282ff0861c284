package mir

import (
	"fmt"
	"sort"
	"strings"
)

// Proof-guided optimization: four pure, idempotent passes that delete runtime
// checks covered by contract facts. Every pass fails closed: no matching
// fact, no change.

// ProvenFactSet indexes a function's contract facts for O(1) queries.
type ProvenFactSet struct {
	// bounds holds per-variable inclusive constant bounds.
	bounds map[string]varBounds
	// ltVar records strict var < var relations, keyed lhs -> rhs set.
	ltVar map[string]map[string]bool
	// inBounds records exact (index, array) pairs proven in range.
	inBounds map[string]bool
	nonNull  map[string]bool
	nonZero  map[string]bool
	// points records which check points have a discharging fact.
	points map[string]bool
	// byPoint keeps the fact justifying each discharged point.
	byPoint map[string]ContractFact
}

type varBounds struct {
	lower, upper *int64
}

// NewProvenFactSet builds the index from a fact list.
func NewProvenFactSet(facts []ContractFact) *ProvenFactSet {
	s := &ProvenFactSet{
		bounds:   make(map[string]varBounds),
		ltVar:    make(map[string]map[string]bool),
		inBounds: make(map[string]bool),
		nonNull:  make(map[string]bool),
		nonZero:  make(map[string]bool),
		points:   make(map[string]bool),
		byPoint:  make(map[string]ContractFact),
	}
	for _, f := range facts {
		s.add(f)
	}
	return s
}

func (s *ProvenFactSet) add(f ContractFact) {
	if f.Point != "" {
		s.points[f.Point] = true
		if _, ok := s.byPoint[f.Point]; !ok {
			s.byPoint[f.Point] = f
		}
	}
	switch f.Kind {
	case FactVarCmp:
		b := s.bounds[f.Var]
		switch f.Op {
		case CmpEQ:
			v := f.Const
			b.lower, b.upper = &v, &v
		case CmpNE:
			if f.Const == 0 {
				s.nonZero[f.Var] = true
			}
		case CmpGT:
			v := f.Const + 1
			b.lower = maxBound(b.lower, v)
		case CmpGE:
			v := f.Const
			b.lower = maxBound(b.lower, v)
		case CmpLT:
			v := f.Const - 1
			b.upper = minBound(b.upper, v)
		case CmpLE:
			v := f.Const
			b.upper = minBound(b.upper, v)
		}
		s.bounds[f.Var] = b
	case FactVarVarCmp:
		switch f.Op {
		case CmpLT:
			s.addLT(f.Var, f.Other)
		case CmpGT:
			s.addLT(f.Other, f.Var)
		}
	case FactArrayBounds:
		s.inBounds[f.Index+"\x00"+f.Array] = true
	case FactNonNull:
		s.nonNull[f.Var] = true
	case FactNonZero:
		s.nonZero[f.Var] = true
	}
}

func (s *ProvenFactSet) addLT(lhs, rhs string) {
	m := s.ltVar[lhs]
	if m == nil {
		m = make(map[string]bool)
		s.ltVar[lhs] = m
	}
	m[rhs] = true
}

func maxBound(cur *int64, v int64) *int64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

func minBound(cur *int64, v int64) *int64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

// HasPoint reports whether a fact discharges the given check point.
func (s *ProvenFactSet) HasPoint(point string) bool { return s.points[point] }

// FactAt returns the fact recorded for a discharged point.
func (s *ProvenFactSet) FactAt(point string) (ContractFact, bool) {
	f, ok := s.byPoint[point]
	return f, ok
}

// ImpliesInBounds reports whether index is proven a valid index of array.
// Matching is by exact variable identity; no aliasing approximation.
func (s *ProvenFactSet) ImpliesInBounds(index, array string) bool {
	if s.inBounds[index+"\x00"+array] {
		return true
	}
	b := s.bounds[index]
	if b.lower == nil || *b.lower < 0 {
		return false
	}
	return s.ltVar[index]["len("+array+")"]
}

// ImpliesNonNull reports whether v is proven non-null.
func (s *ProvenFactSet) ImpliesNonNull(v string) bool { return s.nonNull[v] }

// ImpliesNonZero reports whether v is proven nonzero.
func (s *ProvenFactSet) ImpliesNonZero(v string) bool {
	if s.nonZero[v] {
		return true
	}
	b := s.bounds[v]
	if b.lower != nil && *b.lower > 0 {
		return true
	}
	if b.upper != nil && *b.upper < 0 {
		return true
	}
	return false
}

// ImpliesLT reports whether a < b is proven, directly or through constant
// bounds (upper(a) < lower(b)).
func (s *ProvenFactSet) ImpliesLT(a, b string) bool {
	if s.ltVar[a][b] {
		return true
	}
	ba, bb := s.bounds[a], s.bounds[b]
	return ba.upper != nil && bb.lower != nil && *ba.upper < *bb.lower
}

// EvalVarCmp evaluates "v pred c" against the fact set. known is false when
// the facts do not decide it.
func (s *ProvenFactSet) EvalVarCmp(v string, pred CmpPred, c int64) (value, known bool) {
	b := s.bounds[v]
	switch pred {
	case CmpLT:
		if b.upper != nil && *b.upper < c {
			return true, true
		}
		if b.lower != nil && *b.lower >= c {
			return false, true
		}
	case CmpLE:
		if b.upper != nil && *b.upper <= c {
			return true, true
		}
		if b.lower != nil && *b.lower > c {
			return false, true
		}
	case CmpGT:
		if b.lower != nil && *b.lower > c {
			return true, true
		}
		if b.upper != nil && *b.upper <= c {
			return false, true
		}
	case CmpGE:
		if b.lower != nil && *b.lower >= c {
			return true, true
		}
		if b.upper != nil && *b.upper < c {
			return false, true
		}
	case CmpEQ:
		if b.lower != nil && b.upper != nil && *b.lower == c && *b.upper == c {
			return true, true
		}
		if b.lower != nil && *b.lower > c {
			return false, true
		}
		if b.upper != nil && *b.upper < c {
			return false, true
		}
		if c == 0 && s.nonZero[v] {
			return false, true
		}
	case CmpNE:
		val, ok := s.EvalVarCmp(v, CmpEQ, c)
		if ok {
			return !val, true
		}
	}
	return false, false
}

// Elimination records one removed check and its justifying fact.
type Elimination struct {
	Function string
	Point    string
	Check    CheckKind
	Fact     ContractFact
}

func (e Elimination) String() string {
	return fmt.Sprintf("%s: eliminated %s check at %s (fact: %s)", e.Function, e.Check, e.Point, e.Fact)
}

// Stats aggregates what the passes changed.
type Stats struct {
	BoundsRemoved      int
	NullRemoved        int
	DivRemoved         int
	BranchesSimplified int
	BlocksRemoved      int
	Eliminations       []Elimination
}

// Merge folds other into s.
func (s *Stats) Merge(other Stats) {
	s.BoundsRemoved += other.BoundsRemoved
	s.NullRemoved += other.NullRemoved
	s.DivRemoved += other.DivRemoved
	s.BranchesSimplified += other.BranchesSimplified
	s.BlocksRemoved += other.BlocksRemoved
	s.Eliminations = append(s.Eliminations, other.Eliminations...)
}

// Total is the number of checks and branches removed.
func (s Stats) Total() int {
	return s.BoundsRemoved + s.NullRemoved + s.DivRemoved + s.BranchesSimplified
}

func (s Stats) String() string {
	return fmt.Sprintf("bounds=%d null=%d div=%d branches=%d blocks=%d",
		s.BoundsRemoved, s.NullRemoved, s.DivRemoved, s.BranchesSimplified, s.BlocksRemoved)
}

// Pass is a proof-guided rewrite over one function.
type Pass interface {
	Name() string
	Run(fn *Function, facts *ProvenFactSet) Stats
}

// BoundsCheckElimination removes CheckBounds instructions whose index is
// proven in range for that exact collection.
type BoundsCheckElimination struct{}

func (BoundsCheckElimination) Name() string { return "bounds_check_elimination" }

func (BoundsCheckElimination) Run(fn *Function, facts *ProvenFactSet) Stats {
	var st Stats
	for _, bb := range fn.Blocks {
		kept := bb.Instr[:0]
		for _, in := range bb.Instr {
			chk, ok := in.(CheckBounds)
			if ok && boundsCovered(chk, facts) {
				st.BoundsRemoved++
				st.Eliminations = append(st.Eliminations, elimFor(fn, chk.Point, CheckKindBounds, facts))
				continue
			}
			kept = append(kept, in)
		}
		bb.Instr = kept
	}
	return st
}

func boundsCovered(chk CheckBounds, facts *ProvenFactSet) bool {
	if chk.Point != "" {
		if f, ok := facts.FactAt(chk.Point); ok && f.Check == CheckKindBounds {
			return true
		}
	}
	if chk.Index.Kind == ValRef && chk.Array != "" {
		return facts.ImpliesInBounds(chk.Index.Ref, chk.Array)
	}
	return false
}

// NullCheckElimination removes CheckNonNull instructions for proven-non-null
// references.
type NullCheckElimination struct{}

func (NullCheckElimination) Name() string { return "null_check_elimination" }

func (NullCheckElimination) Run(fn *Function, facts *ProvenFactSet) Stats {
	var st Stats
	for _, bb := range fn.Blocks {
		kept := bb.Instr[:0]
		for _, in := range bb.Instr {
			chk, ok := in.(CheckNonNull)
			if ok && nullCovered(chk, facts) {
				st.NullRemoved++
				st.Eliminations = append(st.Eliminations, elimFor(fn, chk.Point, CheckKindNull, facts))
				continue
			}
			kept = append(kept, in)
		}
		bb.Instr = kept
	}
	return st
}

func nullCovered(chk CheckNonNull, facts *ProvenFactSet) bool {
	if chk.Point != "" {
		if f, ok := facts.FactAt(chk.Point); ok && f.Check == CheckKindNull {
			return true
		}
	}
	return chk.Ptr.Kind == ValRef && facts.ImpliesNonNull(chk.Ptr.Ref)
}

// DivisionCheckElimination removes CheckDiv instructions whose divisor is
// proven nonzero.
type DivisionCheckElimination struct{}

func (DivisionCheckElimination) Name() string { return "division_check_elimination" }

func (DivisionCheckElimination) Run(fn *Function, facts *ProvenFactSet) Stats {
	var st Stats
	for _, bb := range fn.Blocks {
		kept := bb.Instr[:0]
		for _, in := range bb.Instr {
			chk, ok := in.(CheckDiv)
			if ok && divCovered(chk, facts) {
				st.DivRemoved++
				st.Eliminations = append(st.Eliminations, elimFor(fn, chk.Point, CheckKindDivision, facts))
				continue
			}
			kept = append(kept, in)
		}
		bb.Instr = kept
	}
	return st
}

func divCovered(chk CheckDiv, facts *ProvenFactSet) bool {
	if chk.Divisor.Kind == ValConstInt {
		return chk.Divisor.Int64 != 0
	}
	if chk.Point != "" {
		if f, ok := facts.FactAt(chk.Point); ok && f.Check == CheckKindDivision {
			return true
		}
	}
	return chk.Divisor.Kind == ValRef && facts.ImpliesNonZero(chk.Divisor.Ref)
}

// ContradictionBranchPruning rewrites conditional branches whose guard the
// facts decide, then removes blocks no longer reachable from entry. The
// guard evaluation is purely syntactic over the fact set; no solver call.
type ContradictionBranchPruning struct{}

func (ContradictionBranchPruning) Name() string { return "contradiction_branch_pruning" }

func (ContradictionBranchPruning) Run(fn *Function, facts *ProvenFactSet) Stats {
	var st Stats
	for _, bb := range fn.Blocks {
		n := len(bb.Instr)
		if n == 0 {
			continue
		}
		br, ok := bb.Instr[n-1].(CondBr)
		if !ok || br.Guard == nil {
			continue
		}
		val, known := evalGuard(*br.Guard, facts)
		if !known {
			continue
		}
		target := br.True
		if !val {
			target = br.False
		}
		bb.Instr[n-1] = Br{Target: target}
		st.BranchesSimplified++
		st.Eliminations = append(st.Eliminations, Elimination{
			Function: fn.Name, Point: bb.Name, Check: CheckKindBranch,
		})
	}
	st.BlocksRemoved = sweepUnreachable(fn)
	return st
}

func evalGuard(g Cmp, facts *ProvenFactSet) (value, known bool) {
	l, r := g.LHS, g.RHS
	pred := g.Pred
	if l.Kind == ValConstInt && r.Kind == ValRef {
		// Normalize to var-on-left.
		l, r = r, l
		pred = flipPred(pred)
	}
	switch {
	case l.Kind == ValConstInt && r.Kind == ValConstInt:
		return evalConstCmp(l.Int64, pred, r.Int64), true
	case l.Kind == ValRef && r.Kind == ValConstInt:
		return facts.EvalVarCmp(l.Ref, pred, r.Int64)
	case l.Kind == ValRef && r.Kind == ValRef:
		switch pred {
		case CmpLT:
			if facts.ImpliesLT(l.Ref, r.Ref) {
				return true, true
			}
		case CmpGE:
			if facts.ImpliesLT(l.Ref, r.Ref) {
				return false, true
			}
		case CmpGT:
			if facts.ImpliesLT(r.Ref, l.Ref) {
				return true, true
			}
		case CmpLE:
			if facts.ImpliesLT(r.Ref, l.Ref) {
				return false, true
			}
		}
	}
	return false, false
}

func flipPred(p CmpPred) CmpPred {
	switch p {
	case CmpLT:
		return CmpGT
	case CmpLE:
		return CmpGE
	case CmpGT:
		return CmpLT
	case CmpGE:
		return CmpLE
	}
	return p
}

func evalConstCmp(a int64, pred CmpPred, b int64) bool {
	switch pred {
	case CmpEQ:
		return a == b
	case CmpNE:
		return a != b
	case CmpLT:
		return a < b
	case CmpLE:
		return a <= b
	case CmpGT:
		return a > b
	default:
		return a >= b
	}
}

// sweepUnreachable removes blocks not reachable from the first block and
// returns how many were dropped.
func sweepUnreachable(fn *Function) int {
	if len(fn.Blocks) == 0 {
		return 0
	}
	reach := map[string]bool{fn.Blocks[0].Name: true}
	work := []string{fn.Blocks[0].Name}
	for len(work) > 0 {
		name := work[len(work)-1]
		work = work[:len(work)-1]
		bb := fn.Block(name)
		if bb == nil {
			continue
		}
		for _, in := range bb.Instr {
			var succs []string
			switch t := in.(type) {
			case Br:
				succs = []string{t.Target}
			case CondBr:
				succs = []string{t.True, t.False}
			}
			for _, s := range succs {
				if !reach[s] {
					reach[s] = true
					work = append(work, s)
				}
			}
		}
	}
	kept := fn.Blocks[:0]
	removed := 0
	for _, bb := range fn.Blocks {
		if reach[bb.Name] {
			kept = append(kept, bb)
		} else {
			removed++
		}
	}
	fn.Blocks = kept
	return removed
}

func elimFor(fn *Function, point string, check CheckKind, facts *ProvenFactSet) Elimination {
	e := Elimination{Function: fn.Name, Point: point, Check: check}
	if f, ok := facts.FactAt(point); ok {
		e.Fact = f
	}
	return e
}

// Passes returns the proof-guided passes in their fixed execution order.
func Passes() []Pass {
	return []Pass{
		BoundsCheckElimination{},
		NullCheckElimination{},
		DivisionCheckElimination{},
		ContradictionBranchPruning{},
	}
}

// RunProofGuided runs all passes over one function using its own facts.
func RunProofGuided(fn *Function) Stats {
	facts := NewProvenFactSet(fn.Facts)
	var st Stats
	for _, p := range Passes() {
		s := p.Run(fn, facts)
		st.Merge(s)
	}
	return st
}

// RunProofGuidedModule runs the passes over every function, deterministically
// in function order, and merges the stats.
func RunProofGuidedModule(m *Module) Stats {
	var st Stats
	for _, fn := range m.Functions {
		s := RunProofGuided(fn)
		st.Merge(s)
	}
	return st
}

// Report renders every elimination with its justifying fact, sorted for
// stable output.
func (s Stats) Report() string {
	if len(s.Eliminations) == 0 {
		return "no checks eliminated\n"
	}
	lines := make([]string, len(s.Eliminations))
	for i, e := range s.Eliminations {
		lines[i] = e.String()
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}
