package pir

import (
	"fmt"

	"github.com/calyx-lang/calyx/internal/cir"
)

// The propagator threads scoped facts through the function body in a single
// top-down, left-to-right pass. Five rules apply, in this precedence when
// several match a node:
//
//  1. every precondition is a whole-function fact at entry
//  2. a branch condition holds inside its then arm, its negation in the else
//  3. an explicit loop invariant holds at the top of every iteration;
//     without one, only whole-function facts over variables the body never
//     writes survive into the loop
//  4. a let binding inherits the result facts of its initializer
//  5. a call to a function with verified postconditions yields facts about
//     the call's result for the rest of the caller
//
// The walk never revisits a node: linear time, and the same input tree
// always produces the identical fact set.

// Propagator builds proof-annotated trees. verified maps a callee name to
// its proven postconditions; unverified callees contribute nothing.
type Propagator struct {
	verified map[string][]cir.NamedProposition
}

// NewPropagator returns a propagator drawing callee postconditions from
// verified.
func NewPropagator(verified map[string][]cir.NamedProposition) *Propagator {
	if verified == nil {
		verified = make(map[string][]cir.NamedProposition)
	}
	return &Propagator{verified: verified}
}

// VerifiedPostconditions builds the callee map from verification results:
// only functions whose status allows fact consumption appear.
func VerifiedPostconditions(prog *cir.Program, isVerified func(id string) bool) map[string][]cir.NamedProposition {
	out := make(map[string][]cir.NamedProposition)
	for _, fn := range prog.Functions {
		if len(fn.Ensures) == 0 {
			continue
		}
		if isVerified(fn.ID()) {
			out[fn.Name] = fn.Ensures
		}
	}
	return out
}

// pctx is the ordered set of facts in force at a program point. Contexts are
// extended copy-on-write so a branch-local fact never leaks to a sibling.
type pctx struct {
	facts []cir.ProofFact
}

func (c pctx) with(extra ...cir.ProofFact) pctx {
	out := make([]cir.ProofFact, 0, len(c.facts)+len(extra))
	out = append(out, c.facts...)
	out = append(out, extra...)
	return pctx{facts: out}
}

// without drops every fact mentioning the variable; assignment invalidates
// what was known about the old value.
func (c pctx) without(name string) pctx {
	out := make([]cir.ProofFact, 0, len(c.facts))
	for _, f := range c.facts {
		if !cir.MentionsVar(f.Prop, name) {
			out = append(out, f)
		}
	}
	return pctx{facts: out}
}

// wholeFunctionOnly keeps just the facts scoped to the whole function.
// Entering a loop without an invariant discards everything narrower.
func (c pctx) wholeFunctionOnly() pctx {
	out := make([]cir.ProofFact, 0, len(c.facts))
	for _, f := range c.facts {
		if f.Scope.Kind == cir.ScopeWholeFunction {
			out = append(out, f)
		}
	}
	return pctx{facts: out}
}

// withoutMentioning drops every fact mentioning any of the named variables.
func (c pctx) withoutMentioning(names map[string]bool) pctx {
	if len(names) == 0 {
		return c
	}
	out := make([]cir.ProofFact, 0, len(c.facts))
	for _, f := range c.facts {
		if !mentionsAny(f.Prop, names) {
			out = append(out, f)
		}
	}
	return pctx{facts: out}
}

// PropagateFunction annotates fn's body. The input function is not modified.
func (p *Propagator) PropagateFunction(fn *cir.Function) *Function {
	out := &Function{Name: fn.Name}
	for _, pre := range fn.Requires {
		out.Entry = append(out.Entry, cir.ProofFact{
			Prop:     pre.Prop,
			Scope:    cir.WholeFunction(),
			Evidence: cir.FromPrecondition(),
		})
	}
	if fn.Body != nil {
		root, _ := p.walkStmt(fn.Body, pctx{facts: out.Entry}, "b")
		out.Root = root
	}
	return out
}

// walkStmt annotates one statement and returns the context for the
// statements after it.
func (p *Propagator) walkStmt(b *cir.Body, ctx pctx, point string) (*Node, pctx) {
	switch b.Kind {
	case cir.BodyBlock:
		n := p.node(NodeBlock, b, nil, ctx, point)
		cur := ctx
		for i, s := range b.Seq {
			child, next := p.walkStmt(s, cur, fmt.Sprintf("%s.%d", point, i))
			n.Children = append(n.Children, child)
			cur = next
		}
		// Block-local bindings end with the block.
		return n, ctx

	case cir.BodyIf:
		n := p.node(NodeIf, b, nil, ctx, point)
		n.Children = append(n.Children, p.walkExpr(b.Cond, ctx, point+".cond")...)
		condProp, hasProp := exprToProp(b.Cond)
		thenCtx, elseCtx := ctx, ctx
		if hasProp {
			thenCtx = ctx.with(controlFact(condProp))
			elseCtx = ctx.with(controlFact(cir.Negate(condProp)))
		}
		thenNode, _ := p.walkStmt(b.Then, thenCtx, point+".then")
		n.Children = append(n.Children, thenNode)
		if b.Else != nil {
			elseNode, _ := p.walkStmt(b.Else, elseCtx, point+".else")
			n.Children = append(n.Children, elseNode)
		}
		return n, ctx

	case cir.BodyWhile:
		n := p.node(NodeWhile, b, nil, ctx, point)
		n.Children = append(n.Children, p.walkExpr(b.Cond, ctx, point+".cond")...)
		// A fact carried into the body must hold at the top of every
		// iteration, not just the first: anything about a variable the body
		// writes is gone by iteration two, even at sites before the write.
		loopCtx := ctx.wholeFunctionOnly().withoutMentioning(assignedIn(b.Loop))
		if b.Invariant != nil {
			loopCtx = loopCtx.with(cir.ProofFact{
				Prop:     b.Invariant,
				Scope:    cir.AtPoint(point),
				Evidence: cir.FromLoopInvariant(),
			})
		}
		// The guard itself holds whenever the body runs, invariant or not.
		if condProp, ok := exprToProp(b.Cond); ok {
			loopCtx = loopCtx.with(controlFact(condProp))
		}
		bodyNode, _ := p.walkStmt(b.Loop, loopCtx, point+".body")
		n.Children = append(n.Children, bodyNode)
		return n, ctx

	case cir.BodyForRange:
		n := p.node(NodeForRange, b, nil, ctx, point)
		n.Children = append(n.Children, p.walkExpr(b.From, ctx, point+".from")...)
		n.Children = append(n.Children, p.walkExpr(b.To, ctx, point+".to")...)
		loopVar := cir.Var{Name: b.Name}
		assigned := assignedIn(b.Loop)
		loopCtx := ctx.wholeFunctionOnly().withoutMentioning(assigned).without(b.Name)
		// Range bounds are evaluated once at entry; an iterator fact is only
		// stated against a bound the body leaves untouched.
		if !exprMentionsAny(b.From, assigned) {
			loopCtx = loopCtx.with(controlFact(cir.Compare{L: loopVar, Op: cir.Ge, R: b.From}))
		}
		if !exprMentionsAny(b.To, assigned) {
			loopCtx = loopCtx.with(controlFact(cir.Compare{L: loopVar, Op: cir.Lt, R: b.To}))
		}
		if b.Invariant != nil {
			loopCtx = loopCtx.with(cir.ProofFact{
				Prop:     b.Invariant,
				Scope:    cir.AtPoint(point),
				Evidence: cir.FromLoopInvariant(),
			})
		}
		bodyNode, _ := p.walkStmt(b.Loop, loopCtx, point+".body")
		n.Children = append(n.Children, bodyNode)
		return n, ctx

	case cir.BodyLet:
		n := p.node(NodeLet, b, nil, ctx, point)
		n.Children = append(n.Children, p.walkExpr(b.Init, ctx, point+".init")...)
		n.ResultFacts = p.resultFactsOf(b.Init, b.Name, point)
		next := ctx.without(b.Name).with(n.ResultFacts...)
		return n, next

	case cir.BodyAssign:
		n := p.node(NodeAssign, b, nil, ctx, point)
		n.Children = append(n.Children, p.walkExpr(b.Init, ctx, point+".value")...)
		n.ResultFacts = p.resultFactsOf(b.Init, b.Name, point)
		next := ctx.without(b.Name).with(n.ResultFacts...)
		return n, next

	case cir.BodyCall:
		n := p.node(NodeCall, b, nil, ctx, point)
		for i, a := range b.Args {
			n.Children = append(n.Children, p.walkExpr(a, ctx, fmt.Sprintf("%s.arg%d", point, i))...)
		}
		// The result is unnamed in statement position; its facts annotate
		// the node but enter no variable context.
		for _, post := range p.verified[b.Callee] {
			n.ResultFacts = append(n.ResultFacts, cir.ProofFact{
				Prop:     post.Prop,
				Scope:    cir.AtPoint(point),
				Evidence: cir.FromCalleePostcondition(b.Callee),
			})
		}
		return n, ctx

	case cir.BodyPanic:
		return p.node(NodePanic, b, nil, ctx, point), ctx

	default: // BodyExpr
		n := p.node(NodeExpr, b, b.Pure, ctx, point)
		n.Children = append(n.Children, p.walkExpr(b.Pure, ctx, point)...)
		if call, ok := b.Pure.(cir.CallOf); ok {
			for _, post := range p.verified[call.Name] {
				n.ResultFacts = append(n.ResultFacts, cir.ProofFact{
					Prop:     post.Prop,
					Scope:    cir.AtPoint(point),
					Evidence: cir.FromCalleePostcondition(call.Name),
				})
			}
		}
		return n, ctx
	}
}

// resultFactsOf derives the facts a binding inherits from its initializer.
func (p *Propagator) resultFactsOf(init cir.Expr, name, point string) []cir.ProofFact {
	var out []cir.ProofFact
	switch v := init.(type) {
	case cir.CallOf:
		for _, post := range p.verified[v.Name] {
			out = append(out, cir.ProofFact{
				Prop:     cir.SubstituteResult(post.Prop, name),
				Scope:    cir.AtPoint(point),
				Evidence: cir.FromCalleePostcondition(v.Name),
			})
		}
	case cir.IntLit:
		out = append(out, cir.ProofFact{
			Prop:     cir.Compare{L: cir.Var{Name: name}, Op: cir.Eq, R: v},
			Scope:    cir.AtPoint(point),
			Evidence: cir.FromControlFlow(),
		})
	}
	return out
}

// walkExpr returns annotated nodes for every check-bearing site inside e, in
// evaluation order.
func (p *Propagator) walkExpr(e cir.Expr, ctx pctx, point string) []*Node {
	var out []*Node
	idx := 0
	var visit func(e cir.Expr)
	visit = func(e cir.Expr) {
		switch v := e.(type) {
		case cir.Binary:
			visit(v.L)
			visit(v.R)
			if v.Op == cir.Div || v.Op == cir.Mod {
				n := p.node(NodeDiv, nil, e, ctx, fmt.Sprintf("%s/div%d", point, idx))
				idx++
				n.Discharge = findNonzeroProof(ctx, v.R)
				out = append(out, n)
			}
		case cir.CmpExpr:
			visit(v.L)
			visit(v.R)
		case cir.Ite:
			visit(v.Cond)
			visit(v.Then)
			visit(v.Else)
		case cir.LetIn:
			visit(v.Init)
			visit(v.Body)
		case cir.CallOf:
			for _, a := range v.Args {
				visit(a)
			}
		case cir.IndexOf:
			visit(v.Array)
			visit(v.Index)
			n := p.node(NodeIndex, nil, e, ctx, fmt.Sprintf("%s/idx%d", point, idx))
			idx++
			n.Discharge = findBoundsProof(ctx, v.Index, v.Array)
			out = append(out, n)
		case cir.LengthOf:
			visit(v.E)
		case cir.DerefOf:
			visit(v.E)
			n := p.node(NodeDeref, nil, e, ctx, fmt.Sprintf("%s/ref%d", point, idx))
			idx++
			n.Discharge = findNullProof(ctx, v.E)
			out = append(out, n)
		case cir.FieldOf:
			visit(v.Base)
		case cir.OldOf:
			visit(v.E)
		}
	}
	visit(e)
	return out
}

func (p *Propagator) node(kind NodeKind, stmt *cir.Body, expr cir.Expr, ctx pctx, point string) *Node {
	proven := make([]cir.ProofFact, len(ctx.facts))
	copy(proven, ctx.facts)
	return &Node{Kind: kind, Stmt: stmt, Expr: expr, Point: point, ProvenAtEntry: proven}
}

func controlFact(p cir.Proposition) cir.ProofFact {
	return cir.ProofFact{
		Prop:     p,
		Scope:    cir.ConditionalOn(p, cir.WholeFunction()),
		Evidence: cir.FromControlFlow(),
	}
}

// assignedIn collects every name written anywhere under b, nested control
// flow included. Let and iterator bindings count too: they shadow an outer
// variable of the same name.
func assignedIn(b *cir.Body) map[string]bool {
	set := make(map[string]bool)
	var walk func(b *cir.Body)
	walk = func(b *cir.Body) {
		if b == nil {
			return
		}
		switch b.Kind {
		case cir.BodyAssign, cir.BodyLet, cir.BodyForRange:
			set[b.Name] = true
		}
		for _, s := range b.Seq {
			walk(s)
		}
		walk(b.Then)
		walk(b.Else)
		walk(b.Loop)
	}
	walk(b)
	return set
}

func mentionsAny(p cir.Proposition, names map[string]bool) bool {
	for name := range names {
		if cir.MentionsVar(p, name) {
			return true
		}
	}
	return false
}

func exprMentionsAny(e cir.Expr, names map[string]bool) bool {
	for name := range names {
		if cir.ExprMentionsVar(e, name) {
			return true
		}
	}
	return false
}

// exprToProp reads a boolean-valued expression as a proposition when it has
// one, which is what makes branch conditions usable as facts.
func exprToProp(e cir.Expr) (cir.Proposition, bool) {
	switch v := e.(type) {
	case cir.CmpExpr:
		return cir.Compare{L: v.L, Op: v.Op, R: v.R}, true
	case cir.BoolLit:
		if v.Value {
			return cir.True{}, true
		}
		return cir.False{}, true
	case cir.CallOf:
		return cir.Pred{Name: v.Name, Args: v.Args}, true
	}
	return nil, false
}

// findNonzeroProof looks for a fact forcing e away from zero: e != 0,
// e > 0, or e < 0, in either operand order.
func findNonzeroProof(ctx pctx, e cir.Expr) *cir.ProofFact {
	for i := range ctx.facts {
		cmp, ok := ctx.facts[i].Prop.(cir.Compare)
		if !ok {
			continue
		}
		l, op, r := cmp.L, cmp.Op, cmp.R
		if !cir.ExprEqual(l, e) {
			if !cir.ExprEqual(r, e) {
				continue
			}
			l, r = r, l
			op = op.Flip()
		}
		if lit, isLit := r.(cir.IntLit); isLit && lit.Value == 0 {
			if op == cir.Ne || op == cir.Gt || op == cir.Lt {
				return &ctx.facts[i]
			}
		}
	}
	return nil
}

// findBoundsProof looks for an exact InBounds fact, or the pair of facts
// index >= 0 and index < len(array). Variable identity is exact; no
// aliasing guesses.
func findBoundsProof(ctx pctx, index, array cir.Expr) *cir.ProofFact {
	var lower, upper *cir.ProofFact
	for i := range ctx.facts {
		switch prop := ctx.facts[i].Prop.(type) {
		case cir.InBounds:
			if cir.ExprEqual(prop.Index, index) && cir.ExprEqual(prop.Array, array) {
				return &ctx.facts[i]
			}
		case cir.Compare:
			l, op, r := prop.L, prop.Op, prop.R
			if !cir.ExprEqual(l, index) {
				if !cir.ExprEqual(r, index) {
					continue
				}
				l, r = r, l
				op = op.Flip()
			}
			if lit, isLit := r.(cir.IntLit); isLit {
				if (op == cir.Ge && lit.Value >= 0) || (op == cir.Gt && lit.Value >= -1) {
					lower = &ctx.facts[i]
				}
			}
			if ln, isLen := r.(cir.LengthOf); isLen && cir.ExprEqual(ln.E, array) && op == cir.Lt {
				upper = &ctx.facts[i]
			}
		}
	}
	if lower != nil && upper != nil {
		return upper
	}
	return nil
}

// findNullProof looks for a non-null fact about e.
func findNullProof(ctx pctx, e cir.Expr) *cir.ProofFact {
	for i := range ctx.facts {
		switch prop := ctx.facts[i].Prop.(type) {
		case cir.NonNull:
			if cir.ExprEqual(prop.E, e) {
				return &ctx.facts[i]
			}
		case cir.Compare:
			if prop.Op == cir.Ne && cir.ExprEqual(prop.L, e) {
				if lit, ok := prop.R.(cir.IntLit); ok && lit.Value == 0 {
					return &ctx.facts[i]
				}
			}
		}
	}
	return nil
}
