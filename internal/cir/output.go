package cir

import (
	"fmt"
	"sort"
	"strings"
)

// Human-readable rendering of the contract IR for the dump tooling surface.

func (p *Program) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", p.Module)
	types := make([]string, 0, len(p.Invariants))
	for t := range p.Invariants {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		for _, inv := range p.Invariants[t] {
			fmt.Fprintf(&b, "invariant %s: %s\n", t, inv)
		}
	}
	for _, fn := range p.Functions {
		b.WriteString(fn.Dump())
	}
	return b.String()
}

func (f *Function) Dump() string {
	var b strings.Builder
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Name + ": " + p.Type.String()
	}
	fmt.Fprintf(&b, "fn %s(%s) -> %s [%s]\n", f.Name, strings.Join(params, ", "), f.Return, f.Effect)
	if f.TrustReason != "" {
		fmt.Fprintf(&b, "  trust %q\n", f.TrustReason)
	}
	for _, pre := range f.Requires {
		fmt.Fprintf(&b, "  requires %s\n", pre)
	}
	for _, post := range f.Ensures {
		fmt.Fprintf(&b, "  ensures %s\n", post)
	}
	if f.Body != nil {
		dumpBody(&b, f.Body, 1)
	}
	return b.String()
}

func dumpBody(b *strings.Builder, body *Body, depth int) {
	indent := strings.Repeat("  ", depth)
	switch body.Kind {
	case BodyExpr:
		fmt.Fprintf(b, "%s%s\n", indent, body.Pure)
	case BodyIf:
		fmt.Fprintf(b, "%sif %s\n", indent, body.Cond)
		dumpBody(b, body.Then, depth+1)
		if body.Else != nil {
			fmt.Fprintf(b, "%selse\n", indent)
			dumpBody(b, body.Else, depth+1)
		}
	case BodyWhile:
		fmt.Fprintf(b, "%swhile %s\n", indent, body.Cond)
		if body.Invariant != nil {
			fmt.Fprintf(b, "%s  invariant %s\n", indent, body.Invariant)
		}
		dumpBody(b, body.Loop, depth+1)
	case BodyForRange:
		fmt.Fprintf(b, "%sfor %s in %s..%s\n", indent, body.Name, body.From, body.To)
		if body.Invariant != nil {
			fmt.Fprintf(b, "%s  invariant %s\n", indent, body.Invariant)
		}
		dumpBody(b, body.Loop, depth+1)
	case BodyLet:
		fmt.Fprintf(b, "%slet %s = %s\n", indent, body.Name, body.Init)
	case BodyAssign:
		fmt.Fprintf(b, "%s%s = %s\n", indent, body.Name, body.Init)
	case BodyBlock:
		for _, s := range body.Seq {
			dumpBody(b, s, depth)
		}
	case BodyCall:
		args := make([]string, len(body.Args))
		for i, a := range body.Args {
			args[i] = a.String()
		}
		fmt.Fprintf(b, "%s%s(%s)\n", indent, body.Callee, strings.Join(args, ", "))
	case BodyPanic:
		fmt.Fprintf(b, "%spanic %q\n", indent, body.Name)
	}
}
