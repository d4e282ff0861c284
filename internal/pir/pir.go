// Package pir defines the Proof IR: the function body annotated, node by
// node, with the facts known true when control reaches it and the facts true
// of its result. Built once by the propagator, read-only afterward.
package pir

import (
	"fmt"
	"strings"

	"github.com/calyx-lang/calyx/internal/cir"
)

// NodeKind classifies an annotated node. Statement kinds mirror the lowered
// body; expression kinds mark the sites that carry runtime checks.
type NodeKind int

const (
	NodeBlock NodeKind = iota
	NodeIf
	NodeWhile
	NodeForRange
	NodeLet
	NodeAssign
	NodeCall
	NodePanic
	NodeExpr
	// Expression sites with a runtime check.
	NodeDiv
	NodeIndex
	NodeDeref
)

func (k NodeKind) String() string {
	switch k {
	case NodeBlock:
		return "block"
	case NodeIf:
		return "if"
	case NodeWhile:
		return "while"
	case NodeForRange:
		return "for"
	case NodeLet:
		return "let"
	case NodeAssign:
		return "assign"
	case NodeCall:
		return "call"
	case NodePanic:
		return "panic"
	case NodeExpr:
		return "expr"
	case NodeDiv:
		return "div"
	case NodeIndex:
		return "index"
	case NodeDeref:
		return "deref"
	default:
		return "node?"
	}
}

// Node wraps one executable node with its fact annotations.
type Node struct {
	Kind  NodeKind
	Point string

	// Stmt is the underlying statement for statement nodes.
	Stmt *cir.Body
	// Expr is the underlying expression for check-site nodes.
	Expr cir.Expr

	// ProvenAtEntry holds the facts guaranteed when control reaches here.
	ProvenAtEntry []cir.ProofFact
	// ResultFacts holds the facts guaranteed about this node's result value.
	ResultFacts []cir.ProofFact
	// Discharge is the fact proving this node's runtime check unnecessary,
	// when the propagator found one. Nil means the check stays.
	Discharge *cir.ProofFact

	Children []*Node
}

// Function is one function's fully annotated tree.
type Function struct {
	Name string
	// Entry holds the whole-function facts established at entry.
	Entry []cir.ProofFact
	Root  *Node
}

// Walk visits every node top-down, left to right, in the order the
// propagator created them.
func (f *Function) Walk(visit func(*Node)) {
	if f.Root != nil {
		walkNode(f.Root, visit)
	}
}

func walkNode(n *Node, visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		walkNode(c, visit)
	}
}

// Dump renders the annotated tree for the fact-dump tooling surface.
func (f *Function) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fn %s\n", f.Name)
	for _, fact := range f.Entry {
		fmt.Fprintf(&b, "  entry: %s\n", fact)
	}
	if f.Root != nil {
		dumpNode(&b, f.Root, 1)
	}
	return b.String()
}

func dumpNode(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	label := n.Kind.String()
	if n.Expr != nil {
		label += " " + n.Expr.String()
	}
	fmt.Fprintf(b, "%s%s @%s\n", indent, label, n.Point)
	for _, fact := range n.ProvenAtEntry {
		fmt.Fprintf(b, "%s  proven: %s\n", indent, fact)
	}
	for _, fact := range n.ResultFacts {
		fmt.Fprintf(b, "%s  result: %s\n", indent, fact)
	}
	if n.Discharge != nil {
		fmt.Fprintf(b, "%s  discharges check: %s\n", indent, *n.Discharge)
	}
	for _, c := range n.Children {
		dumpNode(b, c, depth+1)
	}
}
