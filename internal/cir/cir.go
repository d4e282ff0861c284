// Package cir defines the Contract IR: the logical vocabulary shared by
// contract lowering, SMT encoding, verification, and proof propagation.
// Propositions and expressions are immutable trees built bottom-up; no node
// ever references an ancestor.
package cir

import (
	"fmt"
	"strings"
)

// CompareOp enumerates the six comparison operators.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

func (op CompareOp) String() string {
	switch op {
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "cmp?"
	}
}

// Negate returns the operator satisfied exactly when op is not.
func (op CompareOp) Negate() CompareOp {
	switch op {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	case Ge:
		return Lt
	}
	return op
}

// Flip returns the operator for swapped operands: a op b == b op.Flip() a.
func (op CompareOp) Flip() CompareOp {
	switch op {
	case Lt:
		return Gt
	case Le:
		return Ge
	case Gt:
		return Lt
	case Ge:
		return Le
	}
	return op
}

// Proposition is a logical formula over program values.
type Proposition interface {
	isProp()
	String() string
}

type (
	// True is the trivially valid proposition.
	True struct{}
	// False is the trivially invalid proposition.
	False struct{}
	// Compare relates two integer-valued expressions.
	Compare struct {
		L  Expr
		Op CompareOp
		R  Expr
	}
	// Not negates a proposition.
	Not struct{ P Proposition }
	// And is an n-ary conjunction.
	And struct{ Ps []Proposition }
	// Or is an n-ary disjunction.
	Or struct{ Ps []Proposition }
	// Implies is material implication.
	Implies struct{ P, Q Proposition }
	// Forall quantifies Body over Var ranging across Domain.
	Forall struct {
		Var    string
		Domain Type
		Body   Proposition
	}
	// Exists is the existential dual of Forall.
	Exists struct {
		Var    string
		Domain Type
		Body   Proposition
	}
	// InBounds states that Index is a valid index into Array.
	InBounds struct {
		Index Expr
		Array Expr
	}
	// NonNull states that E is not a null reference.
	NonNull struct{ E Expr }
	// Pred applies a side-effect-free predicate function.
	Pred struct {
		Name string
		Args []Expr
	}
)

func (True) isProp()     {}
func (False) isProp()    {}
func (Compare) isProp()  {}
func (Not) isProp()      {}
func (And) isProp()      {}
func (Or) isProp()       {}
func (Implies) isProp()  {}
func (Forall) isProp()   {}
func (Exists) isProp()   {}
func (InBounds) isProp() {}
func (NonNull) isProp()  {}
func (Pred) isProp()     {}

func (True) String() string  { return "true" }
func (False) String() string { return "false" }
func (p Compare) String() string {
	return fmt.Sprintf("%s %s %s", p.L, p.Op, p.R)
}
func (p Not) String() string { return "!(" + p.P.String() + ")" }
func (p And) String() string { return joinProps(p.Ps, " && ") }
func (p Or) String() string  { return joinProps(p.Ps, " || ") }
func (p Implies) String() string {
	return "(" + p.P.String() + " => " + p.Q.String() + ")"
}
func (p Forall) String() string {
	return fmt.Sprintf("forall %s: %s. %s", p.Var, p.Domain, p.Body)
}
func (p Exists) String() string {
	return fmt.Sprintf("exists %s: %s. %s", p.Var, p.Domain, p.Body)
}
func (p InBounds) String() string {
	return fmt.Sprintf("in_bounds(%s, %s)", p.Index, p.Array)
}
func (p NonNull) String() string { return fmt.Sprintf("non_null(%s)", p.E) }
func (p Pred) String() string {
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = a.String()
	}
	return p.Name + "(" + strings.Join(args, ", ") + ")"
}

func joinProps(ps []Proposition, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = "(" + p.String() + ")"
	}
	return strings.Join(parts, sep)
}

// Conj builds a conjunction, flattening nested Ands and dropping True.
// Returns True for zero conjuncts and the sole conjunct for one.
func Conj(ps ...Proposition) Proposition {
	var out []Proposition
	for _, p := range ps {
		switch q := p.(type) {
		case True:
		case And:
			out = append(out, q.Ps...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return True{}
	case 1:
		return out[0]
	}
	return And{Ps: out}
}

// Disj builds a disjunction, flattening nested Ors and dropping False.
func Disj(ps ...Proposition) Proposition {
	var out []Proposition
	for _, p := range ps {
		switch q := p.(type) {
		case False:
		case Or:
			out = append(out, q.Ps...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return False{}
	case 1:
		return out[0]
	}
	return Or{Ps: out}
}

// Negate pushes one level of negation: comparisons flip their operator,
// double negation cancels, everything else wraps in Not.
func Negate(p Proposition) Proposition {
	switch q := p.(type) {
	case True:
		return False{}
	case False:
		return True{}
	case Compare:
		return Compare{L: q.L, Op: q.Op.Negate(), R: q.R}
	case Not:
		return q.P
	}
	return Not{P: p}
}

// NamedProposition attaches an optional clause name for diagnostics.
type NamedProposition struct {
	Name string
	Prop Proposition
}

func (n NamedProposition) String() string {
	if n.Name == "" {
		return n.Prop.String()
	}
	return n.Name + ": " + n.Prop.String()
}

// Expr is a pure value expression usable inside propositions and as the
// lowered function body.
type Expr interface {
	isExpr()
	String() string
}

type (
	// Var references a parameter or local binding by resolved name.
	Var struct{ Name string }
	// IntLit is an integer constant.
	IntLit struct{ Value int64 }
	// BoolLit is a boolean constant.
	BoolLit struct{ Value bool }
	// ResultVar is the designated postcondition result identifier.
	ResultVar struct{}
	// OldOf is the entry-time value of E, legal only in postconditions.
	OldOf struct{ E Expr }
	// Binary applies an arithmetic operator.
	Binary struct {
		Op BinOp
		L  Expr
		R  Expr
	}
	// CmpExpr is a comparison used in value position (boolean result).
	CmpExpr struct {
		L  Expr
		Op CompareOp
		R  Expr
	}
	// Ite is a pure conditional expression.
	Ite struct {
		Cond Expr
		Then Expr
		Else Expr
	}
	// LetIn binds Name to Init within Body.
	LetIn struct {
		Name string
		Init Expr
		Body Expr
	}
	// CallOf applies a named pure function.
	CallOf struct {
		Name string
		Args []Expr
	}
	// IndexOf reads Array at Index.
	IndexOf struct {
		Array Expr
		Index Expr
	}
	// LengthOf is the element count of an array expression.
	LengthOf struct{ E Expr }
	// DerefOf reads through a reference.
	DerefOf struct{ E Expr }
	// FieldOf projects a struct field.
	FieldOf struct {
		Base  Expr
		Field string
	}
)

func (Var) isExpr()       {}
func (IntLit) isExpr()    {}
func (BoolLit) isExpr()   {}
func (ResultVar) isExpr() {}
func (OldOf) isExpr()     {}
func (Binary) isExpr()    {}
func (CmpExpr) isExpr()   {}
func (Ite) isExpr()       {}
func (LetIn) isExpr()     {}
func (CallOf) isExpr()    {}
func (IndexOf) isExpr()   {}
func (LengthOf) isExpr()  {}
func (DerefOf) isExpr()   {}
func (FieldOf) isExpr()   {}

func (e Var) String() string    { return e.Name }
func (e IntLit) String() string { return fmt.Sprintf("%d", e.Value) }
func (e BoolLit) String() string {
	if e.Value {
		return "true"
	}
	return "false"
}
func (ResultVar) String() string { return "result" }
func (e OldOf) String() string   { return "old(" + e.E.String() + ")" }
func (e Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", e.L, e.Op, e.R)
}
func (e CmpExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.L, e.Op, e.R)
}
func (e Ite) String() string {
	return fmt.Sprintf("if %s then %s else %s", e.Cond, e.Then, e.Else)
}
func (e LetIn) String() string {
	return fmt.Sprintf("let %s = %s in %s", e.Name, e.Init, e.Body)
}
func (e CallOf) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Name + "(" + strings.Join(args, ", ") + ")"
}
func (e IndexOf) String() string  { return fmt.Sprintf("%s[%s]", e.Array, e.Index) }
func (e LengthOf) String() string { return fmt.Sprintf("len(%s)", e.E) }
func (e DerefOf) String() string  { return "*" + e.E.String() }
func (e FieldOf) String() string  { return e.Base.String() + "." + e.Field }

// BinOp enumerates arithmetic operators with a solver encoding.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
)

func (op BinOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	default:
		return "op?"
	}
}

// Type is the small type universe the solver encoding understands.
type Type struct {
	Kind TypeKind
	Elem *Type
	Name string
}

type TypeKind int

const (
	TypeUnit TypeKind = iota
	TypeInt
	TypeBool
	TypeArray
	TypeRef
	TypeStruct
)

func (t Type) String() string {
	switch t.Kind {
	case TypeUnit:
		return "unit"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeArray:
		if t.Elem != nil {
			return "[" + t.Elem.String() + "]"
		}
		return "[?]"
	case TypeRef:
		if t.Elem != nil {
			return "&" + t.Elem.String()
		}
		return "&?"
	case TypeStruct:
		return t.Name
	default:
		return "type?"
	}
}

func IntType() Type  { return Type{Kind: TypeInt} }
func BoolType() Type { return Type{Kind: TypeBool} }
func UnitType() Type { return Type{Kind: TypeUnit} }

// EffectSet classifies a function's side effects. Only Pure functions may be
// referenced from propositions.
type EffectSet struct {
	Kind    EffectKind
	Regions []string
}

type EffectKind int

const (
	EffectPure EffectKind = iota
	EffectReads
	EffectWrites
	EffectIO
	EffectMayDiverge
)

func (e EffectSet) Pure() bool { return e.Kind == EffectPure }

func (e EffectSet) String() string {
	switch e.Kind {
	case EffectPure:
		return "pure"
	case EffectReads:
		return "reads(" + strings.Join(e.Regions, ",") + ")"
	case EffectWrites:
		return "writes(" + strings.Join(e.Regions, ",") + ")"
	case EffectIO:
		return "io"
	case EffectMayDiverge:
		return "diverge"
	default:
		return "effect?"
	}
}

// Param is a lowered formal parameter.
type Param struct {
	Name string
	Type Type
}

// Body is the lowered executable tree of a function. Unlike Expr it may
// contain statements with effects; the encoder rejects the parts it cannot
// translate, the propagator handles all of them.
type Body struct {
	Kind BodyKind

	// Pure carries the expression for BodyExpr nodes.
	Pure Expr

	// Control-flow payloads.
	Cond      Expr    // BodyIf, BodyWhile
	Then      *Body   // BodyIf
	Else      *Body   // BodyIf, may be nil
	Loop      *Body   // BodyWhile, BodyForRange
	Invariant Proposition // BodyWhile, BodyForRange; nil without annotation

	// Bindings and sequencing.
	Name string  // BodyLet target, BodyForRange loop var, BodyPanic message
	Init Expr    // BodyLet initializer
	From Expr    // BodyForRange
	To   Expr    // BodyForRange (exclusive)
	Seq  []*Body // BodyBlock

	// BodyCall payload; calls in statement position may be impure.
	Callee string
	Args   []Expr

	Type Type
}

type BodyKind int

const (
	BodyExpr BodyKind = iota
	BodyIf
	BodyWhile
	BodyForRange
	BodyLet
	BodyAssign // Name = Init
	BodyBlock
	BodyCall
	BodyPanic
)

// Function is a contracted function: the unit of verification.
// Immutable once lowering returns it.
type Function struct {
	Module   string
	Name     string
	File     string
	Params   []Param
	Return   Type
	Requires []NamedProposition
	Ensures  []NamedProposition
	Effect   EffectSet
	// TrustReason is non-empty when the programmer asserted the contract
	// holds without proof. It short-circuits the solver.
	TrustReason string
	Body        *Body
}

// ID returns the database identity "module::name".
func (f *Function) ID() string { return f.Module + "::" + f.Name }

// Program is a lowered compilation unit.
type Program struct {
	Module    string
	Functions []*Function
	// Invariants maps struct type names to their lowered invariants.
	Invariants map[string][]NamedProposition
}

// FunctionByName returns the function with the given unqualified name.
func (p *Program) FunctionByName(name string) *Function {
	for _, f := range p.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
