// Package smt runs an external SMT solver process and parses its verdicts.
// The solver is treated as any other fallible, cancellable external call:
// callers pass a context, the per-query timeout lives on the Solver.
package smt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrUnavailable reports that the solver binary cannot be spawned. Nothing
// is silently trusted in that case.
var ErrUnavailable = errors.New("smt solver unavailable")

// Result is the solver's verdict on one query.
type Result int

const (
	Unknown Result = iota
	Sat
	Unsat
	Timeout
)

func (r Result) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is the verdict plus, for sat, the model found.
type Outcome struct {
	Result Result
	Model  Model
}

// Solver invokes a Z3-compatible binary reading SMT-LIB2 from stdin.
type Solver struct {
	path    string
	timeout time.Duration
	args    []string
}

// NewSolver returns a solver using "z3" from PATH with a 10s query timeout.
func NewSolver() *Solver {
	return &Solver{path: "z3", timeout: 10 * time.Second, args: []string{"-in", "-smt2"}}
}

// WithPath overrides the solver binary.
func (s *Solver) WithPath(path string) *Solver {
	if path != "" {
		s.path = path
	}
	return s
}

// WithTimeout overrides the per-query wall-clock timeout.
func (s *Solver) WithTimeout(d time.Duration) *Solver {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Timeout returns the per-query timeout.
func (s *Solver) Timeout() time.Duration { return s.timeout }

// Available checks that the solver binary can be found.
func (s *Solver) Available() error {
	if _, err := exec.LookPath(s.path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, s.path, err)
	}
	return nil
}

// Solve sends one script and waits for the verdict. A deadline hit, from the
// solver timeout or the caller's context, yields Outcome{Result: Timeout}
// with a nil error; spawn failures yield ErrUnavailable.
func (s *Solver) Solve(ctx context.Context, script string) (Outcome, error) {
	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(qctx, s.path, s.args...)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProc(cmd) }

	err := cmd.Run()
	if qctx.Err() != nil {
		return Outcome{Result: Timeout}, nil
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// Solvers exit nonzero on some inputs while still printing a
		// verdict; only fail when there is nothing to parse.
		if stdout.Len() == 0 {
			return Outcome{}, fmt.Errorf("solver failed: %v: %s", err, strings.TrimSpace(stderr.String()))
		}
	}
	return parseOutput(stdout.String())
}

func parseOutput(out string) (Outcome, error) {
	rest := out
	for {
		line, tail, _ := strings.Cut(rest, "\n")
		verdict := strings.TrimSpace(line)
		switch verdict {
		case "":
			if tail == "" {
				return Outcome{}, fmt.Errorf("empty solver output")
			}
			rest = tail
			continue
		case "sat":
			model, err := ParseModel(tail)
			if err != nil {
				// A sat verdict stands even when the model is garbled.
				return Outcome{Result: Sat}, nil
			}
			return Outcome{Result: Sat, Model: model}, nil
		case "unsat":
			return Outcome{Result: Unsat}, nil
		case "unknown", "timeout":
			return Outcome{Result: Unknown}, nil
		default:
			return Outcome{}, fmt.Errorf("unexpected solver verdict %q", verdict)
		}
	}
}
