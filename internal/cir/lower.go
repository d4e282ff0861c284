package cir

import (
	"fmt"

	"github.com/calyx-lang/calyx/internal/ast"
)

// LoweringError reports contract syntax the verifier cannot represent.
// It is a hard compile error.
type LoweringError struct {
	Function string
	Clause   string
	Msg      string
}

func (e *LoweringError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("%s: contract clause %q: %s", e.Function, e.Clause, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Msg)
}

// LowerResult is the output of lowering one program: the contract IR plus
// non-fatal diagnostics (duplicate clauses, tautologies).
type LowerResult struct {
	Program  *Program
	Warnings []string
}

// Lower converts a type-checked program into contract IR. Contract clauses
// that cannot be expressed as propositions abort with a *LoweringError;
// duplicate and trivially-true clauses only warn.
func Lower(prog *ast.Program) (*LowerResult, error) {
	res := &LowerResult{
		Program: &Program{
			Module:     prog.Module,
			Invariants: make(map[string][]NamedProposition),
		},
	}
	for typeName, clauses := range prog.Invariants {
		for _, cl := range clauses {
			p, err := lowerClause("invariant "+typeName, cl)
			if err != nil {
				return nil, err
			}
			res.Program.Invariants[typeName] = append(res.Program.Invariants[typeName], p)
		}
	}
	for _, fn := range prog.Functions {
		lf, err := lowerFunction(prog.Module, fn, res)
		if err != nil {
			return nil, err
		}
		res.Program.Functions = append(res.Program.Functions, lf)
	}
	return res, nil
}

func lowerFunction(module string, fn *ast.Function, res *LowerResult) (*Function, error) {
	out := &Function{
		Module: module,
		Name:   fn.Name,
		File:   fn.File,
		Return: lowerType(fn.Return),
		Effect: lowerEffect(fn.Effect),
	}
	if fn.Trust != nil {
		if fn.Trust.Reason == "" {
			return nil, &LoweringError{Function: fn.Name, Msg: "trust annotation requires a justification"}
		}
		out.TrustReason = fn.Trust.Reason
	}
	for _, p := range fn.Params {
		out.Params = append(out.Params, Param{Name: p.Name, Type: lowerType(p.Type)})
	}

	// Parameter refinement constraints fold into the precondition set, first.
	for _, p := range fn.Params {
		if p.Constraint == nil {
			continue
		}
		np, err := lowerClause(fn.Name, *p.Constraint)
		if err != nil {
			return nil, err
		}
		if np.Name == "" {
			np.Name = p.Name + "_constraint"
		}
		out.Requires = appendClause(out.Requires, np, fn.Name, res)
	}
	for _, cl := range fn.Requires {
		np, err := lowerClause(fn.Name, cl)
		if err != nil {
			return nil, err
		}
		out.Requires = appendClause(out.Requires, np, fn.Name, res)
	}
	for _, cl := range fn.Ensures {
		np, err := lowerClause(fn.Name, cl)
		if err != nil {
			return nil, err
		}
		out.Ensures = appendClause(out.Ensures, np, fn.Name, res)
	}

	if fn.Body != nil {
		b, err := lowerBody(fn.Name, fn.Body)
		if err != nil {
			return nil, err
		}
		out.Body = b
	}
	return out, nil
}

// appendClause drops duplicates and warns on them and on tautologies.
func appendClause(dst []NamedProposition, np NamedProposition, fnName string, res *LowerResult) []NamedProposition {
	if _, ok := np.Prop.(True); ok {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%s: clause %s is trivially true", fnName, np))
	}
	key := np.Prop.String()
	for _, prev := range dst {
		if prev.Prop.String() == key {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("%s: duplicate clause %s", fnName, np))
			return dst
		}
	}
	return append(dst, np)
}

func lowerClause(fnName string, cl ast.Clause) (NamedProposition, error) {
	p, err := lowerProp(fnName, cl.Name, cl.Expr)
	if err != nil {
		return NamedProposition{}, err
	}
	return NamedProposition{Name: cl.Name, Prop: p}, nil
}

// lowerProp converts a boolean-typed annotation expression to a Proposition.
func lowerProp(fnName, clause string, e *ast.Expr) (Proposition, error) {
	if e == nil {
		return nil, &LoweringError{Function: fnName, Clause: clause, Msg: "empty clause"}
	}
	switch e.Kind {
	case ast.ExprBoolLit:
		if e.Bool {
			return True{}, nil
		}
		return False{}, nil
	case ast.ExprNot:
		inner, err := lowerProp(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		return Negate(inner), nil
	case ast.ExprBinary:
		switch e.Op {
		case ast.OpAnd:
			l, err := lowerProp(fnName, clause, e.X)
			if err != nil {
				return nil, err
			}
			r, err := lowerProp(fnName, clause, e.Y)
			if err != nil {
				return nil, err
			}
			return Conj(l, r), nil
		case ast.OpOr:
			l, err := lowerProp(fnName, clause, e.X)
			if err != nil {
				return nil, err
			}
			r, err := lowerProp(fnName, clause, e.Y)
			if err != nil {
				return nil, err
			}
			return Disj(l, r), nil
		case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
			l, err := lowerExpr(fnName, clause, e.X)
			if err != nil {
				return nil, err
			}
			r, err := lowerExpr(fnName, clause, e.Y)
			if err != nil {
				return nil, err
			}
			return Compare{L: l, Op: compareOp(e.Op), R: r}, nil
		}
		return nil, &LoweringError{Function: fnName, Clause: clause,
			Msg: fmt.Sprintf("operator %s is not a proposition", e.Op)}
	case ast.ExprForallQ, ast.ExprExistsQ:
		body, err := lowerProp(fnName, clause, e.Y)
		if err != nil {
			return nil, err
		}
		if e.Kind == ast.ExprForallQ {
			return Forall{Var: e.Name, Domain: IntType(), Body: body}, nil
		}
		return Exists{Var: e.Name, Domain: IntType(), Body: body}, nil
	case ast.ExprCall:
		switch e.Name {
		case "in_bounds":
			if len(e.List) != 2 {
				return nil, &LoweringError{Function: fnName, Clause: clause, Msg: "in_bounds expects (index, array)"}
			}
			idx, err := lowerExpr(fnName, clause, e.List[0])
			if err != nil {
				return nil, err
			}
			arr, err := lowerExpr(fnName, clause, e.List[1])
			if err != nil {
				return nil, err
			}
			return InBounds{Index: idx, Array: arr}, nil
		case "non_null":
			if len(e.List) != 1 {
				return nil, &LoweringError{Function: fnName, Clause: clause, Msg: "non_null expects one argument"}
			}
			arg, err := lowerExpr(fnName, clause, e.List[0])
			if err != nil {
				return nil, err
			}
			return NonNull{E: arg}, nil
		}
		args := make([]Expr, len(e.List))
		for i, a := range e.List {
			la, err := lowerExpr(fnName, clause, a)
			if err != nil {
				return nil, err
			}
			args[i] = la
		}
		return Pred{Name: e.Name, Args: args}, nil
	}
	return nil, &LoweringError{Function: fnName, Clause: clause,
		Msg: fmt.Sprintf("expression kind %d has no propositional form", e.Kind)}
}

// lowerExpr converts a value expression inside an annotation.
func lowerExpr(fnName, clause string, e *ast.Expr) (Expr, error) {
	if e == nil {
		return nil, &LoweringError{Function: fnName, Clause: clause, Msg: "empty expression"}
	}
	switch e.Kind {
	case ast.ExprIntLit:
		return IntLit{Value: e.Int}, nil
	case ast.ExprBoolLit:
		return BoolLit{Value: e.Bool}, nil
	case ast.ExprVar:
		return Var{Name: e.Name}, nil
	case ast.ExprResult:
		return ResultVar{}, nil
	case ast.ExprOld:
		inner, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		return OldOf{E: inner}, nil
	case ast.ExprNeg:
		inner, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		return Binary{Op: Sub, L: IntLit{Value: 0}, R: inner}, nil
	case ast.ExprBinary:
		l, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		r, err := lowerExpr(fnName, clause, e.Y)
		if err != nil {
			return nil, err
		}
		if e.Op.IsComparison() {
			return CmpExpr{L: l, Op: compareOp(e.Op), R: r}, nil
		}
		op, ok := arithOp(e.Op)
		if !ok {
			return nil, &LoweringError{Function: fnName, Clause: clause,
				Msg: fmt.Sprintf("operator %s not allowed in contract expressions", e.Op)}
		}
		return Binary{Op: op, L: l, R: r}, nil
	case ast.ExprIf:
		cond, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		then, err := lowerExpr(fnName, clause, e.Y)
		if err != nil {
			return nil, err
		}
		els, err := lowerExpr(fnName, clause, e.Z)
		if err != nil {
			return nil, err
		}
		return Ite{Cond: cond, Then: then, Else: els}, nil
	case ast.ExprCall:
		if e.Name == "len" && len(e.List) == 1 {
			arg, err := lowerExpr(fnName, clause, e.List[0])
			if err != nil {
				return nil, err
			}
			return LengthOf{E: arg}, nil
		}
		args := make([]Expr, len(e.List))
		for i, a := range e.List {
			la, err := lowerExpr(fnName, clause, a)
			if err != nil {
				return nil, err
			}
			args[i] = la
		}
		return CallOf{Name: e.Name, Args: args}, nil
	case ast.ExprIndex:
		arr, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		idx, err := lowerExpr(fnName, clause, e.Y)
		if err != nil {
			return nil, err
		}
		return IndexOf{Array: arr, Index: idx}, nil
	case ast.ExprDeref:
		inner, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		return DerefOf{E: inner}, nil
	case ast.ExprField:
		base, err := lowerExpr(fnName, clause, e.X)
		if err != nil {
			return nil, err
		}
		return FieldOf{Base: base, Field: e.Name}, nil
	}
	return nil, &LoweringError{Function: fnName, Clause: clause,
		Msg: fmt.Sprintf("expression kind %d not allowed in contracts", e.Kind)}
}

// lowerBody converts the executable tree. Unlike annotations this accepts
// statements; encoding decides later what the solver can see.
func lowerBody(fnName string, e *ast.Expr) (*Body, error) {
	switch e.Kind {
	case ast.ExprBlock:
		b := &Body{Kind: BodyBlock, Type: lowerType(e.Type)}
		for _, s := range e.List {
			sb, err := lowerBody(fnName, s)
			if err != nil {
				return nil, err
			}
			b.Seq = append(b.Seq, sb)
		}
		return b, nil
	case ast.ExprIf:
		cond, err := lowerExpr(fnName, "", e.X)
		if err != nil {
			return nil, err
		}
		then, err := lowerBody(fnName, e.Y)
		if err != nil {
			return nil, err
		}
		b := &Body{Kind: BodyIf, Cond: cond, Then: then, Type: lowerType(e.Type)}
		if e.Z != nil {
			els, err := lowerBody(fnName, e.Z)
			if err != nil {
				return nil, err
			}
			b.Else = els
		}
		return b, nil
	case ast.ExprWhile:
		cond, err := lowerExpr(fnName, "", e.X)
		if err != nil {
			return nil, err
		}
		loop, err := lowerBody(fnName, e.Y)
		if err != nil {
			return nil, err
		}
		b := &Body{Kind: BodyWhile, Cond: cond, Loop: loop, Type: UnitType()}
		if e.Invariant != nil {
			inv, err := lowerProp(fnName, e.Invariant.Name, e.Invariant.Expr)
			if err != nil {
				return nil, err
			}
			b.Invariant = inv
		}
		return b, nil
	case ast.ExprForRange:
		from, err := lowerExpr(fnName, "", e.X)
		if err != nil {
			return nil, err
		}
		to, err := lowerExpr(fnName, "", e.Y)
		if err != nil {
			return nil, err
		}
		loop, err := lowerBody(fnName, e.Z)
		if err != nil {
			return nil, err
		}
		b := &Body{Kind: BodyForRange, Name: e.Name, From: from, To: to, Loop: loop, Type: UnitType()}
		if e.Invariant != nil {
			inv, err := lowerProp(fnName, e.Invariant.Name, e.Invariant.Expr)
			if err != nil {
				return nil, err
			}
			b.Invariant = inv
		}
		return b, nil
	case ast.ExprLet:
		init, err := lowerExpr(fnName, "", e.X)
		if err != nil {
			return nil, err
		}
		return &Body{Kind: BodyLet, Name: e.Name, Init: init, Type: UnitType()}, nil
	case ast.ExprAssign:
		val, err := lowerExpr(fnName, "", e.X)
		if err != nil {
			return nil, err
		}
		return &Body{Kind: BodyAssign, Name: e.Name, Init: val, Type: UnitType()}, nil
	case ast.ExprPanic:
		return &Body{Kind: BodyPanic, Name: e.Name, Type: UnitType()}, nil
	case ast.ExprCall:
		args := make([]Expr, len(e.List))
		for i, a := range e.List {
			la, err := lowerExpr(fnName, "", a)
			if err != nil {
				return nil, err
			}
			args[i] = la
		}
		return &Body{Kind: BodyCall, Callee: e.Name, Args: args, Type: lowerType(e.Type)}, nil
	default:
		pure, err := lowerExpr(fnName, "", e)
		if err != nil {
			return nil, err
		}
		return &Body{Kind: BodyExpr, Pure: pure, Type: lowerType(e.Type)}, nil
	}
}

func compareOp(op ast.BinOp) CompareOp {
	switch op {
	case ast.OpEq:
		return Eq
	case ast.OpNe:
		return Ne
	case ast.OpLt:
		return Lt
	case ast.OpLe:
		return Le
	case ast.OpGt:
		return Gt
	default:
		return Ge
	}
}

func arithOp(op ast.BinOp) (BinOp, bool) {
	switch op {
	case ast.OpAdd:
		return Add, true
	case ast.OpSub:
		return Sub, true
	case ast.OpMul:
		return Mul, true
	case ast.OpDiv:
		return Div, true
	case ast.OpMod:
		return Mod, true
	}
	return 0, false
}

func lowerType(t ast.Type) Type {
	out := Type{Name: t.Name}
	switch t.Kind {
	case ast.TypeUnit:
		out.Kind = TypeUnit
	case ast.TypeInt:
		out.Kind = TypeInt
	case ast.TypeBool:
		out.Kind = TypeBool
	case ast.TypeArray:
		out.Kind = TypeArray
	case ast.TypeRef:
		out.Kind = TypeRef
	case ast.TypeStruct:
		out.Kind = TypeStruct
	}
	if t.Elem != nil {
		elem := lowerType(*t.Elem)
		out.Elem = &elem
	}
	return out
}

func lowerEffect(e ast.Effect) EffectSet {
	out := EffectSet{Regions: e.Regions}
	switch e.Kind {
	case ast.EffectPure:
		out.Kind = EffectPure
	case ast.EffectReads:
		out.Kind = EffectReads
	case ast.EffectWrites:
		out.Kind = EffectWrites
	case ast.EffectIO:
		out.Kind = EffectIO
	case ast.EffectMayDiverge:
		out.Kind = EffectMayDiverge
	}
	return out
}
