// Package mir defines the Mid-level IR consumed by proof-guided optimization
// and code emission. It is SSA-lite: values are named references or constants,
// blocks end in a terminator, and runtime safety checks are explicit
// instructions so the optimizer can delete the ones a proof covers.
package mir

import (
	"fmt"
	"strings"
)

// Module is a compilation unit of MIR.
type Module struct {
	Name      string
	Functions []*Function
}

// Function is a collection of basic blocks plus the contract facts proven
// for it. Facts arrive from the bridge and are read-only here.
type Function struct {
	Name       string
	Parameters []Value
	Blocks     []*BasicBlock
	Facts      []ContractFact
}

// BasicBlock is a sequence of instructions ending with a terminator.
type BasicBlock struct {
	Name  string
	Instr []Instr
}

// Value represents an SSA-like value produced by an instruction or parameter.
type Value struct {
	Kind ValueKind
	// For constants.
	Int64 int64
	// For instruction results and parameters.
	Ref string
}

// ValueKind classifies the value category.
type ValueKind int

const (
	ValInvalid ValueKind = iota
	ValConstInt
	ValRef
)

// ConstInt builds an integer constant value.
func ConstInt(v int64) Value { return Value{Kind: ValConstInt, Int64: v} }

// Ref builds a reference value.
func Ref(name string) Value { return Value{Kind: ValRef, Ref: name} }

// Instr is implemented by all MIR instructions.
type Instr interface{ isInstr() }

// BinOp represents a binary arithmetic operation.
type BinOp struct {
	Dst string
	Op  BinOpKind
	LHS Value
	RHS Value
}

// Ret returns from the current function with an optional value.
type Ret struct{ Val *Value }

// Call represents a function call.
type Call struct {
	Dst    string
	Callee string
	Args   []Value
}

// Load loads from an address into a destination value.
type Load struct {
	Dst  string
	Addr Value
}

// Store stores a value into an address.
type Store struct {
	Addr Value
	Val  Value
}

// Cmp represents a comparison producing a boolean-like value (0/1).
type Cmp struct {
	Dst  string
	Pred CmpPred
	LHS  Value
	RHS  Value
}

// Br is an unconditional branch to a target basic block label.
type Br struct{ Target string }

// CondBr branches on a value treated as boolean (0=false, nonzero=true).
// Guard optionally records the comparison that produced Cond, letting the
// optimizer reason about the branch without chasing definitions.
type CondBr struct {
	Cond  Value
	True  string
	False string
	Guard *Cmp
}

// Panic aborts execution with a message.
type Panic struct{ Msg string }

// CheckBounds traps unless 0 <= Index < Length at runtime. Point ties the
// check to its contract facts.
type CheckBounds struct {
	Index  Value
	Length Value
	// Array is the source-level collection name, used for fact matching.
	Array string
	Point string
}

// CheckNonNull traps when Ptr is null.
type CheckNonNull struct {
	Ptr   Value
	Point string
}

// CheckDiv traps when Divisor is zero.
type CheckDiv struct {
	Divisor Value
	Point   string
}

func (BinOp) isInstr()        {}
func (Ret) isInstr()          {}
func (Call) isInstr()         {}
func (Load) isInstr()         {}
func (Store) isInstr()        {}
func (Cmp) isInstr()          {}
func (Br) isInstr()           {}
func (CondBr) isInstr()       {}
func (Panic) isInstr()        {}
func (CheckBounds) isInstr()  {}
func (CheckNonNull) isInstr() {}
func (CheckDiv) isInstr()     {}

// BinOpKind enumerates supported binary operations at MIR level.
type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

func (k BinOpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMod:
		return "mod"
	default:
		return "binop?"
	}
}

// CmpPred enumerates compare predicates.
type CmpPred int

const (
	CmpEQ CmpPred = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

func (p CmpPred) String() string {
	switch p {
	case CmpEQ:
		return "eq"
	case CmpNE:
		return "ne"
	case CmpLT:
		return "lt"
	case CmpLE:
		return "le"
	case CmpGT:
		return "gt"
	case CmpGE:
		return "ge"
	default:
		return "cmp?"
	}
}

// Negate returns the predicate satisfied exactly when p is not.
func (p CmpPred) Negate() CmpPred {
	switch p {
	case CmpEQ:
		return CmpNE
	case CmpNE:
		return CmpEQ
	case CmpLT:
		return CmpGE
	case CmpLE:
		return CmpGT
	case CmpGT:
		return CmpLE
	default:
		return CmpLT
	}
}

func (m *Module) String() string {
	if m == nil {
		return "<nil-mir-module>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)
	for _, f := range m.Functions {
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (f *Function) String() string {
	if f == nil {
		return "<nil-func>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(", f.Name)
	for i := range f.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Parameters[i].String())
	}
	b.WriteString(") {\n")
	for _, bb := range f.Blocks {
		b.WriteString(bb.String())
	}
	b.WriteString("}\n")
	return b.String()
}

// Block returns the basic block with the given label, or nil.
func (f *Function) Block(name string) *BasicBlock {
	for _, bb := range f.Blocks {
		if bb.Name == name {
			return bb
		}
	}
	return nil
}

func (bb *BasicBlock) String() string {
	if bb == nil {
		return ""
	}
	var b strings.Builder
	if bb.Name != "" {
		fmt.Fprintf(&b, "%s:\n", bb.Name)
	}
	for _, in := range bb.Instr {
		b.WriteString("  ")
		if s, ok := any(in).(fmt.Stringer); ok {
			b.WriteString(s.String())
		} else {
			b.WriteString("<instr>")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (v Value) String() string {
	switch v.Kind {
	case ValConstInt:
		return fmt.Sprintf("%d", v.Int64)
	case ValRef:
		if v.Ref == "" {
			return "%ref?"
		}
		return "%" + v.Ref
	default:
		return "<invalid>"
	}
}

func (i BinOp) String() string {
	return fmt.Sprintf("%%%s = %s %s, %s", i.Dst, i.Op, i.LHS, i.RHS)
}

func (i Ret) String() string {
	if i.Val == nil {
		return "ret"
	}
	return fmt.Sprintf("ret %s", i.Val.String())
}

func (i Call) String() string {
	var b strings.Builder
	if i.Dst != "" {
		fmt.Fprintf(&b, "%%%s = ", i.Dst)
	}
	fmt.Fprintf(&b, "call %s(", i.Callee)
	for idx, a := range i.Args {
		if idx > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteString(")")
	return b.String()
}

func (i Load) String() string {
	return fmt.Sprintf("%%%s = load %s", i.Dst, i.Addr.String())
}

func (i Store) String() string {
	return fmt.Sprintf("store %s, %s", i.Addr.String(), i.Val.String())
}

func (i Cmp) String() string {
	return fmt.Sprintf("%%%s = cmp.%s %s, %s", i.Dst, i.Pred, i.LHS, i.RHS)
}

func (i Br) String() string { return fmt.Sprintf("br %s", i.Target) }

func (i CondBr) String() string {
	return fmt.Sprintf("brcond %s, %s, %s", i.Cond.String(), i.True, i.False)
}

func (i Panic) String() string { return fmt.Sprintf("panic %q", i.Msg) }

func (i CheckBounds) String() string {
	return fmt.Sprintf("check.bounds %s, %s ; %s", i.Index.String(), i.Length.String(), i.Point)
}

func (i CheckNonNull) String() string {
	return fmt.Sprintf("check.nonnull %s ; %s", i.Ptr.String(), i.Point)
}

func (i CheckDiv) String() string {
	return fmt.Sprintf("check.div %s ; %s", i.Divisor.String(), i.Point)
}
