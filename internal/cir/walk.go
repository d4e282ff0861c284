package cir

// MentionsVar reports whether the proposition references the variable by
// name outside a shadowing quantifier.
func MentionsVar(p Proposition, name string) bool {
	switch q := p.(type) {
	case Compare:
		return exprMentions(q.L, name) || exprMentions(q.R, name)
	case Not:
		return MentionsVar(q.P, name)
	case And:
		for _, c := range q.Ps {
			if MentionsVar(c, name) {
				return true
			}
		}
	case Or:
		for _, c := range q.Ps {
			if MentionsVar(c, name) {
				return true
			}
		}
	case Implies:
		return MentionsVar(q.P, name) || MentionsVar(q.Q, name)
	case Forall:
		if q.Var == name {
			return false
		}
		return MentionsVar(q.Body, name)
	case Exists:
		if q.Var == name {
			return false
		}
		return MentionsVar(q.Body, name)
	case InBounds:
		return exprMentions(q.Index, name) || exprMentions(q.Array, name)
	case NonNull:
		return exprMentions(q.E, name)
	case Pred:
		for _, a := range q.Args {
			if exprMentions(a, name) {
				return true
			}
		}
	}
	return false
}

// ExprMentionsVar reports whether the expression references the variable by
// name outside a shadowing let binding.
func ExprMentionsVar(e Expr, name string) bool { return exprMentions(e, name) }

func exprMentions(e Expr, name string) bool {
	switch v := e.(type) {
	case Var:
		return v.Name == name
	case OldOf:
		return exprMentions(v.E, name)
	case Binary:
		return exprMentions(v.L, name) || exprMentions(v.R, name)
	case CmpExpr:
		return exprMentions(v.L, name) || exprMentions(v.R, name)
	case Ite:
		return exprMentions(v.Cond, name) || exprMentions(v.Then, name) || exprMentions(v.Else, name)
	case LetIn:
		if exprMentions(v.Init, name) {
			return true
		}
		if v.Name == name {
			return false
		}
		return exprMentions(v.Body, name)
	case CallOf:
		for _, a := range v.Args {
			if exprMentions(a, name) {
				return true
			}
		}
	case IndexOf:
		return exprMentions(v.Array, name) || exprMentions(v.Index, name)
	case LengthOf:
		return exprMentions(v.E, name)
	case DerefOf:
		return exprMentions(v.E, name)
	case FieldOf:
		return exprMentions(v.Base, name)
	}
	return false
}

// SubstituteResult replaces the designated result identifier with a named
// variable. Used when a callee postcondition becomes a fact about a binding.
func SubstituteResult(p Proposition, name string) Proposition {
	sub := func(e Expr) Expr { return substResult(e, name) }
	switch q := p.(type) {
	case Compare:
		return Compare{L: sub(q.L), Op: q.Op, R: sub(q.R)}
	case Not:
		return Not{P: SubstituteResult(q.P, name)}
	case And:
		ps := make([]Proposition, len(q.Ps))
		for i, c := range q.Ps {
			ps[i] = SubstituteResult(c, name)
		}
		return And{Ps: ps}
	case Or:
		ps := make([]Proposition, len(q.Ps))
		for i, c := range q.Ps {
			ps[i] = SubstituteResult(c, name)
		}
		return Or{Ps: ps}
	case Implies:
		return Implies{P: SubstituteResult(q.P, name), Q: SubstituteResult(q.Q, name)}
	case Forall:
		return Forall{Var: q.Var, Domain: q.Domain, Body: SubstituteResult(q.Body, name)}
	case Exists:
		return Exists{Var: q.Var, Domain: q.Domain, Body: SubstituteResult(q.Body, name)}
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

func substResult(e Expr, name string) Expr {
	switch v := e.(type) {
	case ResultVar:
		return Var{Name: name}
	case OldOf:
		return OldOf{E: substResult(v.E, name)}
	case Binary:
		return Binary{Op: v.Op, L: substResult(v.L, name), R: substResult(v.R, name)}
	case CmpExpr:
		return CmpExpr{L: substResult(v.L, name), Op: v.Op, R: substResult(v.R, name)}
	case Ite:
		return Ite{Cond: substResult(v.Cond, name), Then: substResult(v.Then, name), Else: substResult(v.Else, name)}
	case LetIn:
		return LetIn{Name: v.Name, Init: substResult(v.Init, name), Body: substResult(v.Body, name)}
	case CallOf:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = substResult(a, name)
		}
		return CallOf{Name: v.Name, Args: args}
	case IndexOf:
		return IndexOf{Array: substResult(v.Array, name), Index: substResult(v.Index, name)}
	case LengthOf:
		return LengthOf{E: substResult(v.E, name)}
	case DerefOf:
		return DerefOf{E: substResult(v.E, name)}
	case FieldOf:
		return FieldOf{Base: substResult(v.Base, name), Field: v.Field}
	}
	return e
}

// PropEqual compares two propositions structurally. Rendering is injective
// over the tree shape, so string comparison decides equality.
func PropEqual(a, b Proposition) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// ExprEqual compares two expressions structurally.
func ExprEqual(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
