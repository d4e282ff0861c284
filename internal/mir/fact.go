package mir

import "fmt"

// ContractFact is the optimizer-facing form of a proven proposition. Each
// fact is tagged with the runtime check kind it can discharge and the program
// point it applies to; an empty Point means the fact holds function-wide.
type ContractFact struct {
	Kind  FactKind
	Check CheckKind
	Point string

	// FactVarCmp: Var Op Const. FactVarVarCmp: Var Op Other.
	Var   string
	Op    CmpPred
	Const int64
	Other string

	// FactArrayBounds: Index is a valid index into Array.
	Index string
	Array string

	// FactNonNull and FactNonZero use Var alone.
}

// FactKind discriminates the fact payload.
type FactKind int

const (
	FactVarCmp FactKind = iota
	FactVarVarCmp
	FactArrayBounds
	FactNonNull
	FactNonZero
)

// CheckKind names the runtime check a fact can discharge.
type CheckKind int

const (
	CheckKindBounds CheckKind = iota
	CheckKindNull
	CheckKindDivision
	CheckKindBranch
)

func (k CheckKind) String() string {
	switch k {
	case CheckKindBounds:
		return "bounds"
	case CheckKindNull:
		return "null"
	case CheckKindDivision:
		return "division"
	case CheckKindBranch:
		return "branch"
	default:
		return "check?"
	}
}

func (f ContractFact) String() string {
	var body string
	switch f.Kind {
	case FactVarCmp:
		body = fmt.Sprintf("%s %s %d", f.Var, f.Op, f.Const)
	case FactVarVarCmp:
		body = fmt.Sprintf("%s %s %s", f.Var, f.Op, f.Other)
	case FactArrayBounds:
		body = fmt.Sprintf("in_bounds(%s, %s)", f.Index, f.Array)
	case FactNonNull:
		body = fmt.Sprintf("non_null(%s)", f.Var)
	case FactNonZero:
		body = fmt.Sprintf("%s != 0", f.Var)
	default:
		body = "fact?"
	}
	if f.Point != "" {
		return fmt.Sprintf("%s @%s [%s]", body, f.Point, f.Check)
	}
	return fmt.Sprintf("%s [%s]", body, f.Check)
}
