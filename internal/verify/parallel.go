package verify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calyx-lang/calyx/internal/cir"
)

// VerifyProgram verifies every function of prog. Functions are independent,
// so they run on up to jobs workers; within a function the encode, query,
// propagate steps stay sequential. A contract failure in one function never
// cancels another; the returned error is reserved for infrastructure
// failures such as a missing solver.
func (v *Verifier) VerifyProgram(ctx context.Context, prog *cir.Program) (*Report, error) {
	if err := v.solver.Available(); err != nil {
		return nil, err
	}

	start := time.Now()
	// The program is the authority on callee effects; a stale map would let
	// an impure call slip into a solver term.
	effects := make(map[string]cir.EffectSet, len(prog.Functions))
	for _, fn := range prog.Functions {
		effects[fn.Name] = fn.Effect
	}
	v.effects = effects
	hashes := v.hashFiles(prog)
	results := make([]*FunctionResult, len(prog.Functions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.jobs)
	for i, fn := range prog.Functions {
		i, fn := i, fn
		g.Go(func() error {
			results[i] = v.VerifyFunction(gctx, fn, prog.Invariants, hashes[fn.File])
			// Contract failures stay in the result; returning them here
			// would cancel sibling verifications.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Report{Module: prog.Module, Results: results, Duration: time.Since(start)}, nil
}

// hashFiles hashes each distinct source file once. An unreadable file hashes
// to the empty string, which never matches a stored record, forcing
// re-verification rather than serving stale facts.
func (v *Verifier) hashFiles(prog *cir.Program) map[string]string {
	hashes := make(map[string]string)
	for _, fn := range prog.Functions {
		if fn.File == "" {
			continue
		}
		if _, ok := hashes[fn.File]; ok {
			continue
		}
		h, err := HashFile(fn.File)
		if err != nil {
			h = ""
		}
		hashes[fn.File] = h
	}
	return hashes
}
