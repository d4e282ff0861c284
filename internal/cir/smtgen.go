package cir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// EncodingError reports a construct with no solver mapping. Verification for
// the affected function is skipped with a warning; it is never fatal.
type EncodingError struct {
	Function  string
	Construct string
	Msg       string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: cannot encode %s: %s", e.Function, e.Construct, e.Msg)
}

// Generator produces SMT-LIB2 scripts for one function at a time. The
// operator mapping is fixed and total over the supported constructs; anything
// outside it yields an *EncodingError.
type Generator struct {
	// UnrollBound is the number of loop iterations encoded for loops without
	// an explicit invariant. Zero means loops are not encoded at all.
	UnrollBound int

	effects    map[string]EffectSet
	decls      []string
	asserts    []string
	funs       map[string]int // uninterpreted function name -> arity
	usesArrays bool
	usesQuant  bool
}

// NewGenerator returns a Generator with the default unrolling bound of zero.
func NewGenerator() *Generator {
	return &Generator{funs: make(map[string]int)}
}

// WithEffects records callee effect classifications. A call to a callee not
// classified pure has no solver mapping: an uninterpreted function returns
// equal values on equal arguments, which an effectful callee need not.
// Callees absent from the map are taken as pure externs.
func (g *Generator) WithEffects(effects map[string]EffectSet) *Generator {
	g.effects = effects
	return g
}

func (g *Generator) reset() {
	g.decls = g.decls[:0]
	g.asserts = g.asserts[:0]
	g.funs = make(map[string]int)
	g.usesArrays = false
	g.usesQuant = false
}

// Logic returns the SMT logic the current script requires.
func (g *Generator) Logic() string {
	if g.usesQuant || g.usesArrays {
		return "AUFLIA"
	}
	return "QF_LIA"
}

// PreconditionQuery builds a satisfiability script for the function's
// preconditions alone. unsat means the function is vacuously callable.
func (g *Generator) PreconditionQuery(fn *Function, invariants map[string][]NamedProposition) (string, error) {
	g.reset()
	if err := g.declareParams(fn); err != nil {
		return "", err
	}
	if err := g.assumeContractEnv(fn, invariants); err != nil {
		return "", err
	}
	return g.script(false), nil
}

// VerificationQuery builds the refutation script: preconditions and the body
// equation are assumed, the conjunction of postconditions is negated. unsat
// means every postcondition holds on every input satisfying the
// preconditions.
func (g *Generator) VerificationQuery(fn *Function, invariants map[string][]NamedProposition) (string, error) {
	g.reset()
	if len(fn.Ensures) == 0 {
		return "", &EncodingError{Function: fn.Name, Construct: "contract", Msg: "no postconditions to verify"}
	}
	if err := g.declareParams(fn); err != nil {
		return "", err
	}
	g.decls = append(g.decls, fmt.Sprintf("(declare-const %s %s)", sanitizeName("result"), g.sortOf(fn.Return)))
	if err := g.assumeContractEnv(fn, invariants); err != nil {
		return "", err
	}

	if fn.Body != nil {
		bodyExpr, err := g.bodyToExpr(fn.Name, fn.Body)
		if err != nil {
			return "", err
		}
		if bodyExpr != nil {
			s, err := g.translateExpr(fn.Name, bodyExpr)
			if err != nil {
				return "", err
			}
			g.asserts = append(g.asserts, fmt.Sprintf("(assert (= %s %s))", sanitizeName("result"), s))
		}
	}

	goal := make([]string, 0, len(fn.Ensures))
	for _, post := range fn.Ensures {
		s, err := g.translateProp(fn.Name, post.Prop)
		if err != nil {
			return "", err
		}
		goal = append(goal, s)
	}
	g.asserts = append(g.asserts, fmt.Sprintf("(assert (not %s))", conjoin(goal)))
	return g.script(true), nil
}

// assumeContractEnv asserts preconditions and the invariants of struct-typed
// parameters (with the invariant's `self` renamed to the parameter).
func (g *Generator) assumeContractEnv(fn *Function, invariants map[string][]NamedProposition) error {
	for _, pre := range fn.Requires {
		s, err := g.translateProp(fn.Name, pre.Prop)
		if err != nil {
			return err
		}
		g.asserts = append(g.asserts, "(assert "+s+")")
	}
	if invariants == nil {
		return nil
	}
	for _, p := range fn.Params {
		if p.Type.Kind != TypeStruct {
			continue
		}
		for _, inv := range invariants[p.Type.Name] {
			bound := SubstituteVar(inv.Prop, "self", p.Name)
			s, err := g.translateProp(fn.Name, bound)
			if err != nil {
				return err
			}
			g.asserts = append(g.asserts, "(assert "+s+")")
		}
	}
	return nil
}

func (g *Generator) declareParams(fn *Function) error {
	for _, p := range fn.Params {
		g.decls = append(g.decls, fmt.Sprintf("(declare-const %s %s)", sanitizeName(p.Name), g.sortOf(p.Type)))
	}
	return nil
}

func (g *Generator) script(withModel bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(set-logic %s)\n", g.Logic())
	if g.usesArrays {
		b.WriteString("(declare-fun len ((Array Int Int)) Int)\n")
	}
	funNames := make([]string, 0, len(g.funs))
	for name := range g.funs {
		funNames = append(funNames, name)
	}
	sort.Strings(funNames)
	for _, name := range funNames {
		args := strings.TrimSpace(strings.Repeat("Int ", g.funs[name]))
		fmt.Fprintf(&b, "(declare-fun %s (%s) Int)\n", name, args)
	}
	for _, d := range g.decls {
		b.WriteString(d)
		b.WriteByte('\n')
	}
	for _, a := range g.asserts {
		b.WriteString(a)
		b.WriteByte('\n')
	}
	b.WriteString("(check-sat)\n")
	if withModel {
		b.WriteString("(get-model)\n")
	}
	return b.String()
}

func (g *Generator) sortOf(t Type) string {
	switch t.Kind {
	case TypeBool:
		return "Bool"
	case TypeArray:
		g.usesArrays = true
		return "(Array Int Int)"
	default:
		// Ints, references (addresses), struct handles, unit.
		return "Int"
	}
}

func (g *Generator) translateProp(fnName string, p Proposition) (string, error) {
	switch q := p.(type) {
	case True:
		return "true", nil
	case False:
		return "false", nil
	case Compare:
		l, err := g.translateExpr(fnName, q.L)
		if err != nil {
			return "", err
		}
		r, err := g.translateExpr(fnName, q.R)
		if err != nil {
			return "", err
		}
		return compareSMT(q.Op, l, r), nil
	case Not:
		inner, err := g.translateProp(fnName, q.P)
		if err != nil {
			return "", err
		}
		return "(not " + inner + ")", nil
	case And:
		parts, err := g.translateProps(fnName, q.Ps)
		if err != nil {
			return "", err
		}
		return conjoin(parts), nil
	case Or:
		parts, err := g.translateProps(fnName, q.Ps)
		if err != nil {
			return "", err
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(or " + strings.Join(parts, " ") + ")", nil
	case Implies:
		l, err := g.translateProp(fnName, q.P)
		if err != nil {
			return "", err
		}
		r, err := g.translateProp(fnName, q.Q)
		if err != nil {
			return "", err
		}
		return "(=> " + l + " " + r + ")", nil
	case Forall:
		g.usesQuant = true
		body, err := g.translateProp(fnName, q.Body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(forall ((%s %s)) %s)", sanitizeName(q.Var), g.sortOf(q.Domain), body), nil
	case Exists:
		g.usesQuant = true
		body, err := g.translateProp(fnName, q.Body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(exists ((%s %s)) %s)", sanitizeName(q.Var), g.sortOf(q.Domain), body), nil
	case InBounds:
		idx, err := g.translateExpr(fnName, q.Index)
		if err != nil {
			return "", err
		}
		g.usesArrays = true
		arr, err := g.translateExpr(fnName, q.Array)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(and (>= %s 0) (< %s (len %s)))", idx, idx, arr), nil
	case NonNull:
		e, err := g.translateExpr(fnName, q.E)
		if err != nil {
			return "", err
		}
		return "(not (= " + e + " 0))", nil
	case Pred:
		return g.translateCall(fnName, q.Name, q.Args)
	case nil:
		return "", &EncodingError{Function: fnName, Construct: "proposition", Msg: "nil proposition"}
	}
	return "", &EncodingError{Function: fnName, Construct: "proposition", Msg: fmt.Sprintf("unsupported form %T", p)}
}

func (g *Generator) translateProps(fnName string, ps []Proposition) ([]string, error) {
	out := make([]string, len(ps))
	for i, p := range ps {
		s, err := g.translateProp(fnName, p)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (g *Generator) translateExpr(fnName string, e Expr) (string, error) {
	switch v := e.(type) {
	case Var:
		return sanitizeName(v.Name), nil
	case IntLit:
		if v.Value < 0 {
			return fmt.Sprintf("(- %d)", -v.Value), nil
		}
		return fmt.Sprintf("%d", v.Value), nil
	case BoolLit:
		if v.Value {
			return "true", nil
		}
		return "false", nil
	case ResultVar:
		return sanitizeName("result"), nil
	case OldOf:
		// Encodable bodies never mutate parameters, so an entry-time value
		// is the current value.
		return g.translateExpr(fnName, v.E)
	case Binary:
		l, err := g.translateExpr(fnName, v.L)
		if err != nil {
			return "", err
		}
		r, err := g.translateExpr(fnName, v.R)
		if err != nil {
			return "", err
		}
		return "(" + binopSMT(v.Op) + " " + l + " " + r + ")", nil
	case CmpExpr:
		l, err := g.translateExpr(fnName, v.L)
		if err != nil {
			return "", err
		}
		r, err := g.translateExpr(fnName, v.R)
		if err != nil {
			return "", err
		}
		return compareSMT(v.Op, l, r), nil
	case Ite:
		c, err := g.translateExpr(fnName, v.Cond)
		if err != nil {
			return "", err
		}
		t, err := g.translateExpr(fnName, v.Then)
		if err != nil {
			return "", err
		}
		f, err := g.translateExpr(fnName, v.Else)
		if err != nil {
			return "", err
		}
		return "(ite " + c + " " + t + " " + f + ")", nil
	case LetIn:
		init, err := g.translateExpr(fnName, v.Init)
		if err != nil {
			return "", err
		}
		body, err := g.translateExpr(fnName, v.Body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(let ((%s %s)) %s)", sanitizeName(v.Name), init, body), nil
	case CallOf:
		return g.translateCall(fnName, v.Name, v.Args)
	case IndexOf:
		g.usesArrays = true
		arr, err := g.translateExpr(fnName, v.Array)
		if err != nil {
			return "", err
		}
		idx, err := g.translateExpr(fnName, v.Index)
		if err != nil {
			return "", err
		}
		return "(select " + arr + " " + idx + ")", nil
	case LengthOf:
		g.usesArrays = true
		inner, err := g.translateExpr(fnName, v.E)
		if err != nil {
			return "", err
		}
		return "(len " + inner + ")", nil
	case DerefOf:
		return "", &EncodingError{Function: fnName, Construct: "deref", Msg: "reference loads have no solver mapping"}
	case FieldOf:
		base, err := g.translateExpr(fnName, v.Base)
		if err != nil {
			return "", err
		}
		// Field projection is an uninterpreted function per field name.
		fun := sanitizeName("field_" + v.Field)
		g.funs[fun] = 1
		return "(" + fun + " " + base + ")", nil
	case nil:
		return "", &EncodingError{Function: fnName, Construct: "expression", Msg: "nil expression"}
	}
	return "", &EncodingError{Function: fnName, Construct: "expression", Msg: fmt.Sprintf("unsupported form %T", e)}
}

func (g *Generator) translateCall(fnName, callee string, args []Expr) (string, error) {
	if callee == fnName {
		return "", &EncodingError{Function: fnName, Construct: "call",
			Msg: "recursive call has no solver mapping without unrolling"}
	}
	if eff, ok := g.effects[callee]; ok && !eff.Pure() {
		return "", &EncodingError{Function: fnName, Construct: "call",
			Msg: fmt.Sprintf("callee %s is %s; only pure functions appear in solver terms", callee, eff)}
	}
	fun := sanitizeName(callee)
	g.funs[fun] = len(args)
	if len(args) == 0 {
		return fun, nil
	}
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := g.translateExpr(fnName, a)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + fun + " " + strings.Join(parts, " ") + ")", nil
}

// bodyToExpr flattens the executable tree into a single pure expression the
// solver can equate with the result symbol. Statement forms without a pure
// reading produce an *EncodingError; a nil, nil return means the body
// contributes no result equation (unit-typed tails).
func (g *Generator) bodyToExpr(fnName string, b *Body) (Expr, error) {
	switch b.Kind {
	case BodyExpr:
		return b.Pure, nil
	case BodyIf:
		if b.Else == nil {
			if b.Type.Kind == TypeUnit {
				return nil, nil
			}
			return nil, &EncodingError{Function: fnName, Construct: "if", Msg: "value-producing if without else"}
		}
		then, err := g.bodyToExpr(fnName, b.Then)
		if err != nil {
			return nil, err
		}
		els, err := g.bodyToExpr(fnName, b.Else)
		if err != nil {
			return nil, err
		}
		if then == nil || els == nil {
			return nil, nil
		}
		return Ite{Cond: b.Cond, Then: then, Else: els}, nil
	case BodyBlock:
		return g.blockToExpr(fnName, b.Seq)
	case BodyCall:
		return CallOf{Name: b.Callee, Args: b.Args}, nil
	case BodyWhile, BodyForRange:
		if g.UnrollBound == 0 {
			return nil, &EncodingError{Function: fnName, Construct: "loop", Msg: "loops are not encoded without an unrolling bound"}
		}
		return nil, &EncodingError{Function: fnName, Construct: "loop", Msg: "loop unrolling not supported for value-producing loops"}
	case BodyPanic:
		return nil, &EncodingError{Function: fnName, Construct: "panic", Msg: "divergent statement in value position"}
	case BodyAssign:
		return nil, &EncodingError{Function: fnName, Construct: "assignment", Msg: "mutation has no solver mapping"}
	case BodyLet:
		return nil, nil
	}
	return nil, &EncodingError{Function: fnName, Construct: "body", Msg: fmt.Sprintf("unsupported kind %d", b.Kind)}
}

// blockToExpr folds a statement sequence into nested lets around the final
// value expression.
func (g *Generator) blockToExpr(fnName string, seq []*Body) (Expr, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	head := seq[0]
	if len(seq) == 1 {
		return g.bodyToExpr(fnName, head)
	}
	rest, err := g.blockToExpr(fnName, seq[1:])
	if err != nil {
		return nil, err
	}
	switch head.Kind {
	case BodyLet:
		if rest == nil {
			return nil, nil
		}
		return LetIn{Name: head.Name, Init: head.Init, Body: rest}, nil
	default:
		// A non-binding statement before the tail either has no solver
		// meaning (rejected) or no bearing on the result (skipped).
		switch head.Kind {
		case BodyExpr, BodyCall:
			return rest, nil
		}
		if _, err := g.bodyToExpr(fnName, head); err != nil {
			return nil, err
		}
		return rest, nil
	}
}

// NeedsQuantifiers reports whether any contract clause of fn uses
// quantification, forcing a quantified logic.
func NeedsQuantifiers(fn *Function) bool {
	for _, np := range fn.Requires {
		if propHasQuantifier(np.Prop) {
			return true
		}
	}
	for _, np := range fn.Ensures {
		if propHasQuantifier(np.Prop) {
			return true
		}
	}
	return false
}

func propHasQuantifier(p Proposition) bool {
	switch q := p.(type) {
	case Forall, Exists:
		return true
	case Not:
		return propHasQuantifier(q.P)
	case And:
		for _, c := range q.Ps {
			if propHasQuantifier(c) {
				return true
			}
		}
	case Or:
		for _, c := range q.Ps {
			if propHasQuantifier(c) {
				return true
			}
		}
	case Implies:
		return propHasQuantifier(q.P) || propHasQuantifier(q.Q)
	}
	return false
}

// SubstituteVar returns p with every free occurrence of the variable named
// from replaced by the variable named to. Quantifiers shadowing from stop the
// substitution.
func SubstituteVar(p Proposition, from, to string) Proposition {
	sub := func(e Expr) Expr { return substExpr(e, from, to) }
	switch q := p.(type) {
	case Compare:
		return Compare{L: sub(q.L), Op: q.Op, R: sub(q.R)}
	case Not:
		return Not{P: SubstituteVar(q.P, from, to)}
	case And:
		ps := make([]Proposition, len(q.Ps))
		for i, c := range q.Ps {
			ps[i] = SubstituteVar(c, from, to)
		}
		return And{Ps: ps}
	case Or:
		ps := make([]Proposition, len(q.Ps))
		for i, c := range q.Ps {
			ps[i] = SubstituteVar(c, from, to)
		}
		return Or{Ps: ps}
	case Implies:
		return Implies{P: SubstituteVar(q.P, from, to), Q: SubstituteVar(q.Q, from, to)}
	case Forall:
		if q.Var == from {
			return q
		}
		return Forall{Var: q.Var, Domain: q.Domain, Body: SubstituteVar(q.Body, from, to)}
	case Exists:
		if q.Var == from {
			return q
		}
		return Exists{Var: q.Var, Domain: q.Domain, Body: SubstituteVar(q.Body, from, to)}
	case InBounds:
		return InBounds{Index: sub(q.Index), Array: sub(q.Array)}
	case NonNull:
		return NonNull{E: sub(q.E)}
	case Pred:
		args := make([]Expr, len(q.Args))
		for i, a := range q.Args {
			args[i] = sub(a)
		}
		return Pred{Name: q.Name, Args: args}
	}
	return p
}

func substExpr(e Expr, from, to string) Expr {
	switch v := e.(type) {
	case Var:
		if v.Name == from {
			return Var{Name: to}
		}
		return v
	case OldOf:
		return OldOf{E: substExpr(v.E, from, to)}
	case Binary:
		return Binary{Op: v.Op, L: substExpr(v.L, from, to), R: substExpr(v.R, from, to)}
	case CmpExpr:
		return CmpExpr{L: substExpr(v.L, from, to), Op: v.Op, R: substExpr(v.R, from, to)}
	case Ite:
		return Ite{Cond: substExpr(v.Cond, from, to), Then: substExpr(v.Then, from, to), Else: substExpr(v.Else, from, to)}
	case LetIn:
		if v.Name == from {
			return LetIn{Name: v.Name, Init: substExpr(v.Init, from, to), Body: v.Body}
		}
		return LetIn{Name: v.Name, Init: substExpr(v.Init, from, to), Body: substExpr(v.Body, from, to)}
	case CallOf:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = substExpr(a, from, to)
		}
		return CallOf{Name: v.Name, Args: args}
	case IndexOf:
		return IndexOf{Array: substExpr(v.Array, from, to), Index: substExpr(v.Index, from, to)}
	case LengthOf:
		return LengthOf{E: substExpr(v.E, from, to)}
	case DerefOf:
		return DerefOf{E: substExpr(v.E, from, to)}
	case FieldOf:
		return FieldOf{Base: substExpr(v.Base, from, to), Field: v.Field}
	}
	return e
}

func compareSMT(op CompareOp, l, r string) string {
	switch op {
	case Eq:
		return "(= " + l + " " + r + ")"
	case Ne:
		return "(not (= " + l + " " + r + "))"
	case Lt:
		return "(< " + l + " " + r + ")"
	case Le:
		return "(<= " + l + " " + r + ")"
	case Gt:
		return "(> " + l + " " + r + ")"
	default:
		return "(>= " + l + " " + r + ")"
	}
}

func binopSMT(op BinOp) string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "div"
	default:
		return "mod"
	}
}

func conjoin(parts []string) string {
	switch len(parts) {
	case 0:
		return "true"
	case 1:
		return parts[0]
	}
	return "(and " + strings.Join(parts, " ") + ")"
}

// sanitizeName maps a source identifier to a legal SMT symbol.
func sanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			b.WriteByte('_')
			continue
		}
		if i == 0 && r >= '0' && r <= '9' {
			b.WriteByte('n')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QueryHash is the stable identity of a solver script, recorded in
// FromSolver evidence.
func QueryHash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}
