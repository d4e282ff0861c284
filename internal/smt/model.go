package smt

import (
	"fmt"
	"sort"
	"strings"
)

// Model is a counterexample: variable to value bindings extracted from a
// solver model block.
type Model map[string]string

// String renders the bindings as "x = -5, y = 2", sorted by name so the same
// model always prints the same way.
func (m Model) String() string {
	if len(m) == 0 {
		return "<empty model>"
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + " = " + m[n]
	}
	return strings.Join(parts, ", ")
}

// ParseModel extracts define-fun bindings from a model block such as
//
//	(
//	  (define-fun x () Int
//	    (- 5))
//	)
//
// Only zero-arity constants are kept; function definitions are skipped.
func ParseModel(block string) (Model, error) {
	toks := tokenize(block)
	model := make(Model)
	for i := 0; i < len(toks); i++ {
		if toks[i] != "define-fun" {
			continue
		}
		// define-fun NAME (args) SORT VALUE
		if i+2 >= len(toks) {
			return nil, fmt.Errorf("truncated define-fun")
		}
		name := toks[i+1]
		j := i + 2
		if toks[j] != "(" {
			return nil, fmt.Errorf("malformed define-fun for %s", name)
		}
		depth := 0
		for ; j < len(toks); j++ {
			if toks[j] == "(" {
				depth++
			} else if toks[j] == ")" {
				depth--
				if depth == 0 {
					j++
					break
				}
			}
		}
		if depth != 0 {
			// Non-constant binding: skip.
			continue
		}
		arity := j - (i + 2) - 2 // tokens between the arg parens
		// Skip the sort token(s); sorts may themselves be s-exprs.
		j = skipSexpr(toks, j)
		if j >= len(toks) {
			return nil, fmt.Errorf("define-fun %s missing value", name)
		}
		val, next := readValue(toks, j)
		if arity == 0 {
			model[name] = val
		}
		i = next - 1
	}
	return model, nil
}

// skipSexpr advances past one token or one balanced parenthesized group.
func skipSexpr(toks []string, i int) int {
	if i >= len(toks) {
		return i
	}
	if toks[i] != "(" {
		return i + 1
	}
	depth := 0
	for ; i < len(toks); i++ {
		if toks[i] == "(" {
			depth++
		} else if toks[i] == ")" {
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

// readValue renders the value s-expression at i as a flat string, collapsing
// unary minus: "(- 5)" becomes "-5".
func readValue(toks []string, i int) (string, int) {
	if i >= len(toks) {
		return "", i
	}
	if toks[i] != "(" {
		return toks[i], i + 1
	}
	end := skipSexpr(toks, i)
	inner := toks[i+1 : end-1]
	if len(inner) == 2 && inner[0] == "-" {
		return "-" + inner[1], end
	}
	return "(" + strings.Join(inner, " ") + ")", end
}

func tokenize(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '(', ')':
			flush()
			toks = append(toks, string(r))
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}
