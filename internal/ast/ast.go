// Package ast defines the typed function tree handed to contract lowering.
// It is the boundary with the type checker: every name is resolved and every
// type is concrete before a Program reaches this package's consumers.
package ast

// Program is one type-checked compilation unit.
type Program struct {
	Module    string      `json:"module"`
	Functions []*Function `json:"functions"`
	// Invariants maps a struct type name to the invariant clauses declared on it.
	Invariants map[string][]Clause `json:"invariants,omitempty"`
}

// Function is a type-checked function together with its raw contract clauses.
type Function struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Params   []Param  `json:"params"`
	Return   Type     `json:"return"`
	Requires []Clause `json:"requires,omitempty"`
	Ensures  []Clause `json:"ensures,omitempty"`
	// Trust is non-nil when the function carries a trust annotation.
	Trust  *Trust `json:"trust,omitempty"`
	Effect Effect `json:"effect"`
	Body   *Expr  `json:"body,omitempty"`
}

// Clause is a single named contract clause. Name may be empty.
type Clause struct {
	Name string `json:"name,omitempty"`
	Expr *Expr  `json:"expr"`
}

// Trust substitutes a human assertion for solver proof.
// Reason is mandatory at the surface syntax level; lowering rejects an empty one.
type Trust struct {
	Reason string `json:"reason"`
}

// Param is a formal parameter, optionally refined by a constraint clause
// (e.g. `n: Int where n > 0`).
type Param struct {
	Name       string  `json:"name"`
	Type       Type    `json:"type"`
	Constraint *Clause `json:"constraint,omitempty"`
}

// Effect classifies what a function may do besides computing its result.
type Effect struct {
	Kind    EffectKind `json:"kind"`
	Regions []string   `json:"regions,omitempty"`
}

type EffectKind int

const (
	EffectPure EffectKind = iota
	EffectReads
	EffectWrites
	EffectIO
	EffectMayDiverge
)

func (k EffectKind) String() string {
	switch k {
	case EffectPure:
		return "pure"
	case EffectReads:
		return "reads"
	case EffectWrites:
		return "writes"
	case EffectIO:
		return "io"
	case EffectMayDiverge:
		return "diverge"
	default:
		return "effect?"
	}
}

// Type is a concrete, already-checked type.
type Type struct {
	Kind TypeKind `json:"kind"`
	// Elem is set for arrays and references.
	Elem *Type `json:"elem,omitempty"`
	// Name is set for named struct types.
	Name string `json:"name,omitempty"`
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

// Expr is a typed expression node. Kind discriminates which fields are live.
// A flat struct keeps the tree trivially JSON round-trippable at the tool
// boundary.
type Expr struct {
	Kind ExprKind `json:"kind"`

	// Literals.
	Int  int64 `json:"int,omitempty"`
	Bool bool  `json:"bool,omitempty"`

	// Names: variable references, let bindings, callees, field names.
	Name string `json:"name,omitempty"`

	// Operators.
	Op BinOp `json:"op,omitempty"`

	// Children. Meaning depends on Kind; see the kind constants.
	X    *Expr   `json:"x,omitempty"`
	Y    *Expr   `json:"y,omitempty"`
	Z    *Expr   `json:"z,omitempty"`
	List []*Expr `json:"list,omitempty"`

	// Invariant is the explicit loop invariant on While/ForRange, if any.
	Invariant *Clause `json:"invariant,omitempty"`

	// Type of this expression's value.
	Type Type `json:"type"`
}

type ExprKind int

const (
	ExprInvalid  ExprKind = iota
	ExprIntLit            // Int
	ExprBoolLit           // Bool
	ExprVar               // Name
	ExprResult            // the designated postcondition result identifier
	ExprOld               // X: value of X at function entry (postconditions only)
	ExprBinary            // Op, X, Y
	ExprNot               // X
	ExprNeg               // X
	ExprIf                // X=cond, Y=then, Z=else (Z may be nil)
	ExprLet               // Name, X=initializer; scope runs to end of enclosing block
	ExprBlock             // List
	ExprWhile             // X=cond, Y=body, Invariant
	ExprForRange          // Name=loop var, X=from, Y=to (exclusive), Z=body, Invariant
	ExprCall              // Name=callee, List=args
	ExprIndex             // X=array, Y=index
	ExprDeref             // X=reference
	ExprField             // X=base, Name=field
	ExprAssign            // Name=target variable, X=value
	ExprPanic             // Name=message
	ExprForallQ           // Name=bound var, X=domain hint, Y=body (annotation syntax only)
	ExprExistsQ           // Name=bound var, X=domain hint, Y=body
)

// BinOp enumerates binary operators as the type checker resolves them.
type BinOp int

const (
	OpInvalid BinOp = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

func (op BinOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	default:
		return "op?"
	}
}

// IsComparison reports whether op yields a boolean from two operands.
func (op BinOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}
