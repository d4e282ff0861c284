package ast

// Tree-building helpers. Used by tests and by tools that synthesize programs;
// the production front end constructs Expr values directly.

func IntType() Type               { return Type{Kind: TypeInt} }
func BoolType() Type              { return Type{Kind: TypeBool} }
func UnitType() Type              { return Type{Kind: TypeUnit} }
func ArrayType(elem Type) Type    { return Type{Kind: TypeArray, Elem: &elem} }
func RefType(elem Type) Type      { return Type{Kind: TypeRef, Elem: &elem} }
func StructType(name string) Type { return Type{Kind: TypeStruct, Name: name} }

func IntLit(v int64) *Expr { return &Expr{Kind: ExprIntLit, Int: v, Type: IntType()} }
func BoolLit(v bool) *Expr { return &Expr{Kind: ExprBoolLit, Bool: v, Type: BoolType()} }

func Var(name string, t Type) *Expr { return &Expr{Kind: ExprVar, Name: name, Type: t} }
func IntVar(name string) *Expr      { return Var(name, IntType()) }

func Result(t Type) *Expr { return &Expr{Kind: ExprResult, Type: t} }

func Old(x *Expr) *Expr { return &Expr{Kind: ExprOld, X: x, Type: x.Type} }

func Bin(op BinOp, x, y *Expr) *Expr {
	t := x.Type
	if op.IsComparison() || op == OpAnd || op == OpOr {
		t = BoolType()
	}
	return &Expr{Kind: ExprBinary, Op: op, X: x, Y: y, Type: t}
}

func Not(x *Expr) *Expr { return &Expr{Kind: ExprNot, X: x, Type: BoolType()} }
func Neg(x *Expr) *Expr { return &Expr{Kind: ExprNeg, X: x, Type: x.Type} }

func If(cond, then, els *Expr) *Expr {
	t := then.Type
	if els == nil {
		t = UnitType()
	}
	return &Expr{Kind: ExprIf, X: cond, Y: then, Z: els, Type: t}
}

func Let(name string, init *Expr) *Expr {
	return &Expr{Kind: ExprLet, Name: name, X: init, Type: UnitType()}
}

func Block(exprs ...*Expr) *Expr {
	t := UnitType()
	if n := len(exprs); n > 0 {
		t = exprs[n-1].Type
	}
	return &Expr{Kind: ExprBlock, List: exprs, Type: t}
}

func While(cond, body *Expr, inv *Clause) *Expr {
	return &Expr{Kind: ExprWhile, X: cond, Y: body, Invariant: inv, Type: UnitType()}
}

func ForRange(v string, from, to, body *Expr, inv *Clause) *Expr {
	return &Expr{Kind: ExprForRange, Name: v, X: from, Y: to, Z: body, Invariant: inv, Type: UnitType()}
}

func CallExpr(callee string, ret Type, args ...*Expr) *Expr {
	return &Expr{Kind: ExprCall, Name: callee, List: args, Type: ret}
}

func Index(arr, idx *Expr) *Expr {
	t := IntType()
	if arr.Type.Kind == TypeArray && arr.Type.Elem != nil {
		t = *arr.Type.Elem
	}
	return &Expr{Kind: ExprIndex, X: arr, Y: idx, Type: t}
}

func Deref(x *Expr) *Expr {
	t := IntType()
	if x.Type.Kind == TypeRef && x.Type.Elem != nil {
		t = *x.Type.Elem
	}
	return &Expr{Kind: ExprDeref, X: x, Type: t}
}

func Field(base *Expr, name string, t Type) *Expr {
	return &Expr{Kind: ExprField, X: base, Name: name, Type: t}
}

func Assign(target string, val *Expr) *Expr {
	return &Expr{Kind: ExprAssign, Name: target, X: val, Type: UnitType()}
}

func Panic(msg string) *Expr { return &Expr{Kind: ExprPanic, Name: msg, Type: UnitType()} }

func Forall(v string, domain, body *Expr) *Expr {
	return &Expr{Kind: ExprForallQ, Name: v, X: domain, Y: body, Type: BoolType()}
}

func Exists(v string, domain, body *Expr) *Expr {
	return &Expr{Kind: ExprExistsQ, Name: v, X: domain, Y: body, Type: BoolType()}
}
