package cir

import (
	"encoding/json"
	"fmt"
)

// JSON encoding for propositions, expressions, and proof facts. The persisted
// proof cache requires an exact round-trip: decode(encode(f)) must rebuild an
// identical tree. Interfaces are encoded as tagged nodes.

type propNode struct {
	Kind string `json:"kind"`

	Op    string      `json:"op,omitempty"`
	L     *exprNode   `json:"l,omitempty"`
	R     *exprNode   `json:"r,omitempty"`
	P     *propNode   `json:"p,omitempty"`
	Q     *propNode   `json:"q,omitempty"`
	Ps    []*propNode `json:"ps,omitempty"`
	Var   string      `json:"var,omitempty"`
	Dom   *Type       `json:"dom,omitempty"`
	Index *exprNode   `json:"index,omitempty"`
	Array *exprNode   `json:"array,omitempty"`
	E     *exprNode   `json:"e,omitempty"`
	Name  string      `json:"name,omitempty"`
	Args  []*exprNode `json:"args,omitempty"`
}

type exprNode struct {
	Kind string `json:"kind"`

	Name  string      `json:"name,omitempty"`
	Int   int64       `json:"int,omitempty"`
	Bool  bool        `json:"bool,omitempty"`
	Op    string      `json:"op,omitempty"`
	L     *exprNode   `json:"l,omitempty"`
	R     *exprNode   `json:"r,omitempty"`
	Cond  *exprNode   `json:"cond,omitempty"`
	Then  *exprNode   `json:"then,omitempty"`
	Else  *exprNode   `json:"else,omitempty"`
	E     *exprNode   `json:"e,omitempty"`
	Base  *exprNode   `json:"base,omitempty"`
	Array *exprNode   `json:"array,omitempty"`
	Index *exprNode   `json:"index,omitempty"`
	Init  *exprNode   `json:"init,omitempty"`
	Body  *exprNode   `json:"body,omitempty"`
	Field string      `json:"field,omitempty"`
	Args  []*exprNode `json:"args,omitempty"`
}

func encodeProp(p Proposition) *propNode {
	if p == nil {
		return nil
	}
	switch q := p.(type) {
	case True:
		return &propNode{Kind: "true"}
	case False:
		return &propNode{Kind: "false"}
	case Compare:
		return &propNode{Kind: "compare", Op: q.Op.String(), L: encodeExpr(q.L), R: encodeExpr(q.R)}
	case Not:
		return &propNode{Kind: "not", P: encodeProp(q.P)}
	case And:
		return &propNode{Kind: "and", Ps: encodeProps(q.Ps)}
	case Or:
		return &propNode{Kind: "or", Ps: encodeProps(q.Ps)}
	case Implies:
		return &propNode{Kind: "implies", P: encodeProp(q.P), Q: encodeProp(q.Q)}
	case Forall:
		d := q.Domain
		return &propNode{Kind: "forall", Var: q.Var, Dom: &d, P: encodeProp(q.Body)}
	case Exists:
		d := q.Domain
		return &propNode{Kind: "exists", Var: q.Var, Dom: &d, P: encodeProp(q.Body)}
	case InBounds:
		return &propNode{Kind: "in_bounds", Index: encodeExpr(q.Index), Array: encodeExpr(q.Array)}
	case NonNull:
		return &propNode{Kind: "non_null", E: encodeExpr(q.E)}
	case Pred:
		return &propNode{Kind: "pred", Name: q.Name, Args: encodeExprs(q.Args)}
	}
	return &propNode{Kind: "unknown"}
}

func encodeProps(ps []Proposition) []*propNode {
	out := make([]*propNode, len(ps))
	for i, p := range ps {
		out[i] = encodeProp(p)
	}
	return out
}

func decodeProp(n *propNode) (Proposition, error) {
	if n == nil {
		return nil, fmt.Errorf("missing proposition node")
	}
	switch n.Kind {
	case "true":
		return True{}, nil
	case "false":
		return False{}, nil
	case "compare":
		op, err := parseCompareOp(n.Op)
		if err != nil {
			return nil, err
		}
		l, err := decodeExpr(n.L)
		if err != nil {
			return nil, err
		}
		r, err := decodeExpr(n.R)
		if err != nil {
			return nil, err
		}
		return Compare{L: l, Op: op, R: r}, nil
	case "not":
		p, err := decodeProp(n.P)
		if err != nil {
			return nil, err
		}
		return Not{P: p}, nil
	case "and":
		ps, err := decodeProps(n.Ps)
		if err != nil {
			return nil, err
		}
		return And{Ps: ps}, nil
	case "or":
		ps, err := decodeProps(n.Ps)
		if err != nil {
			return nil, err
		}
		return Or{Ps: ps}, nil
	case "implies":
		p, err := decodeProp(n.P)
		if err != nil {
			return nil, err
		}
		q, err := decodeProp(n.Q)
		if err != nil {
			return nil, err
		}
		return Implies{P: p, Q: q}, nil
	case "forall", "exists":
		body, err := decodeProp(n.P)
		if err != nil {
			return nil, err
		}
		dom := IntType()
		if n.Dom != nil {
			dom = *n.Dom
		}
		if n.Kind == "forall" {
			return Forall{Var: n.Var, Domain: dom, Body: body}, nil
		}
		return Exists{Var: n.Var, Domain: dom, Body: body}, nil
	case "in_bounds":
		idx, err := decodeExpr(n.Index)
		if err != nil {
			return nil, err
		}
		arr, err := decodeExpr(n.Array)
		if err != nil {
			return nil, err
		}
		return InBounds{Index: idx, Array: arr}, nil
	case "non_null":
		e, err := decodeExpr(n.E)
		if err != nil {
			return nil, err
		}
		return NonNull{E: e}, nil
	case "pred":
		args, err := decodeExprs(n.Args)
		if err != nil {
			return nil, err
		}
		return Pred{Name: n.Name, Args: args}, nil
	}
	return nil, fmt.Errorf("unknown proposition kind %q", n.Kind)
}

func decodeProps(ns []*propNode) ([]Proposition, error) {
	out := make([]Proposition, len(ns))
	for i, n := range ns {
		p, err := decodeProp(n)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func encodeExpr(e Expr) *exprNode {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case Var:
		return &exprNode{Kind: "var", Name: v.Name}
	case IntLit:
		return &exprNode{Kind: "int", Int: v.Value}
	case BoolLit:
		return &exprNode{Kind: "bool", Bool: v.Value}
	case ResultVar:
		return &exprNode{Kind: "result"}
	case OldOf:
		return &exprNode{Kind: "old", E: encodeExpr(v.E)}
	case Binary:
		return &exprNode{Kind: "binary", Op: v.Op.String(), L: encodeExpr(v.L), R: encodeExpr(v.R)}
	case CmpExpr:
		return &exprNode{Kind: "cmp", Op: v.Op.String(), L: encodeExpr(v.L), R: encodeExpr(v.R)}
	case Ite:
		return &exprNode{Kind: "ite", Cond: encodeExpr(v.Cond), Then: encodeExpr(v.Then), Else: encodeExpr(v.Else)}
	case LetIn:
		return &exprNode{Kind: "let", Name: v.Name, Init: encodeExpr(v.Init), Body: encodeExpr(v.Body)}
	case CallOf:
		return &exprNode{Kind: "call", Name: v.Name, Args: encodeExprs(v.Args)}
	case IndexOf:
		return &exprNode{Kind: "index", Array: encodeExpr(v.Array), Index: encodeExpr(v.Index)}
	case LengthOf:
		return &exprNode{Kind: "len", E: encodeExpr(v.E)}
	case DerefOf:
		return &exprNode{Kind: "deref", E: encodeExpr(v.E)}
	case FieldOf:
		return &exprNode{Kind: "field", Base: encodeExpr(v.Base), Field: v.Field}
	}
	return &exprNode{Kind: "unknown"}
}

func encodeExprs(es []Expr) []*exprNode {
	out := make([]*exprNode, len(es))
	for i, e := range es {
		out[i] = encodeExpr(e)
	}
	return out
}

func decodeExpr(n *exprNode) (Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("missing expression node")
	}
	switch n.Kind {
	case "var":
		return Var{Name: n.Name}, nil
	case "int":
		return IntLit{Value: n.Int}, nil
	case "bool":
		return BoolLit{Value: n.Bool}, nil
	case "result":
		return ResultVar{}, nil
	case "old":
		e, err := decodeExpr(n.E)
		if err != nil {
			return nil, err
		}
		return OldOf{E: e}, nil
	case "binary":
		op, err := parseBinOp(n.Op)
		if err != nil {
			return nil, err
		}
		l, err := decodeExpr(n.L)
		if err != nil {
			return nil, err
		}
		r, err := decodeExpr(n.R)
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, L: l, R: r}, nil
	case "cmp":
		op, err := parseCompareOp(n.Op)
		if err != nil {
			return nil, err
		}
		l, err := decodeExpr(n.L)
		if err != nil {
			return nil, err
		}
		r, err := decodeExpr(n.R)
		if err != nil {
			return nil, err
		}
		return CmpExpr{L: l, Op: op, R: r}, nil
	case "ite":
		c, err := decodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		t, err := decodeExpr(n.Then)
		if err != nil {
			return nil, err
		}
		f, err := decodeExpr(n.Else)
		if err != nil {
			return nil, err
		}
		return Ite{Cond: c, Then: t, Else: f}, nil
	case "let":
		init, err := decodeExpr(n.Init)
		if err != nil {
			return nil, err
		}
		body, err := decodeExpr(n.Body)
		if err != nil {
			return nil, err
		}
		return LetIn{Name: n.Name, Init: init, Body: body}, nil
	case "call":
		args, err := decodeExprs(n.Args)
		if err != nil {
			return nil, err
		}
		return CallOf{Name: n.Name, Args: args}, nil
	case "index":
		arr, err := decodeExpr(n.Array)
		if err != nil {
			return nil, err
		}
		idx, err := decodeExpr(n.Index)
		if err != nil {
			return nil, err
		}
		return IndexOf{Array: arr, Index: idx}, nil
	case "len":
		e, err := decodeExpr(n.E)
		if err != nil {
			return nil, err
		}
		return LengthOf{E: e}, nil
	case "deref":
		e, err := decodeExpr(n.E)
		if err != nil {
			return nil, err
		}
		return DerefOf{E: e}, nil
	case "field":
		base, err := decodeExpr(n.Base)
		if err != nil {
			return nil, err
		}
		return FieldOf{Base: base, Field: n.Field}, nil
	}
	return nil, fmt.Errorf("unknown expression kind %q", n.Kind)
}

func decodeExprs(ns []*exprNode) ([]Expr, error) {
	out := make([]Expr, len(ns))
	for i, n := range ns {
		e, err := decodeExpr(n)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func parseCompareOp(s string) (CompareOp, error) {
	switch s {
	case "==":
		return Eq, nil
	case "!=":
		return Ne, nil
	case "<":
		return Lt, nil
	case "<=":
		return Le, nil
	case ">":
		return Gt, nil
	case ">=":
		return Ge, nil
	}
	return 0, fmt.Errorf("unknown comparison %q", s)
}

func parseBinOp(s string) (BinOp, error) {
	switch s {
	case "+":
		return Add, nil
	case "-":
		return Sub, nil
	case "*":
		return Mul, nil
	case "/":
		return Div, nil
	case "%":
		return Mod, nil
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

type scopeNode struct {
	Kind  string     `json:"kind"`
	Point string     `json:"point,omitempty"`
	Cond  *propNode  `json:"cond,omitempty"`
	Inner *scopeNode `json:"inner,omitempty"`
}

func encodeScope(s ProofScope) *scopeNode {
	switch s.Kind {
	case ScopeAtPoint:
		return &scopeNode{Kind: "at_point", Point: s.Point}
	case ScopeConditional:
		n := &scopeNode{Kind: "conditional", Cond: encodeProp(s.Cond)}
		if s.Inner != nil {
			n.Inner = encodeScope(*s.Inner)
		}
		return n
	default:
		return &scopeNode{Kind: "whole_function"}
	}
}

func decodeScope(n *scopeNode) (ProofScope, error) {
	if n == nil {
		return WholeFunction(), nil
	}
	switch n.Kind {
	case "whole_function":
		return WholeFunction(), nil
	case "at_point":
		return AtPoint(n.Point), nil
	case "conditional":
		cond, err := decodeProp(n.Cond)
		if err != nil {
			return ProofScope{}, err
		}
		inner, err := decodeScope(n.Inner)
		if err != nil {
			return ProofScope{}, err
		}
		return ConditionalOn(cond, inner), nil
	}
	return ProofScope{}, fmt.Errorf("unknown scope kind %q", n.Kind)
}

type evidenceNode struct {
	Kind      string `json:"kind"`
	QueryHash string `json:"query_hash,omitempty"`
	Callee    string `json:"callee,omitempty"`
}

func encodeEvidence(e ProofEvidence) evidenceNode {
	switch e.Kind {
	case EvidenceSolver:
		return evidenceNode{Kind: "solver", QueryHash: e.QueryHash}
	case EvidenceControlFlow:
		return evidenceNode{Kind: "control_flow"}
	case EvidenceLoopInvariant:
		return evidenceNode{Kind: "loop_invariant"}
	case EvidenceCalleePostcondition:
		return evidenceNode{Kind: "callee_postcondition", Callee: e.Callee}
	default:
		return evidenceNode{Kind: "precondition"}
	}
}

func decodeEvidence(n evidenceNode) (ProofEvidence, error) {
	switch n.Kind {
	case "precondition":
		return FromPrecondition(), nil
	case "solver":
		return FromSolver(n.QueryHash), nil
	case "control_flow":
		return FromControlFlow(), nil
	case "loop_invariant":
		return FromLoopInvariant(), nil
	case "callee_postcondition":
		return FromCalleePostcondition(n.Callee), nil
	}
	return ProofEvidence{}, fmt.Errorf("unknown evidence kind %q", n.Kind)
}

type factNode struct {
	Prop     *propNode    `json:"prop"`
	Scope    *scopeNode   `json:"scope"`
	Evidence evidenceNode `json:"evidence"`
}

// MarshalJSON encodes the fact as a tagged tree.
func (f ProofFact) MarshalJSON() ([]byte, error) {
	return json.Marshal(factNode{
		Prop:     encodeProp(f.Prop),
		Scope:    encodeScope(f.Scope),
		Evidence: encodeEvidence(f.Evidence),
	})
}

// UnmarshalJSON rebuilds the fact; any unknown tag fails the whole decode so
// a corrupt cache is discarded rather than partially trusted.
func (f *ProofFact) UnmarshalJSON(data []byte) error {
	var n factNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	prop, err := decodeProp(n.Prop)
	if err != nil {
		return err
	}
	scope, err := decodeScope(n.Scope)
	if err != nil {
		return err
	}
	ev, err := decodeEvidence(n.Evidence)
	if err != nil {
		return err
	}
	f.Prop = prop
	f.Scope = scope
	f.Evidence = ev
	return nil
}
