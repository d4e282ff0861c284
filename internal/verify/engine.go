// Package verify drives the external solver over lowered contracts, caches
// the outcomes, and reports what was proved, refuted, trusted, or skipped.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/calyx-lang/calyx/internal/cir"
	"github.com/calyx-lang/calyx/internal/smt"
)

// VerificationError is a refuted contract: a concrete input violates a
// postcondition. Hard compile error.
type VerificationError struct {
	Function       string
	Clause         string
	Counterexample smt.Model
}

func (e *VerificationError) Error() string {
	clause := e.Clause
	if clause == "" {
		clause = "postcondition"
	}
	if len(e.Counterexample) == 0 {
		return fmt.Sprintf("%s: %s does not hold", e.Function, clause)
	}
	return fmt.Sprintf("%s: %s does not hold; counterexample: %s", e.Function, clause, e.Counterexample)
}

// TimeoutError reports a solver query that exceeded its wall-clock budget.
// Hard error unless the function carries a trust annotation.
type TimeoutError struct {
	Function string
	Clause   string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: verification of %s timed out after %s", e.Function, e.Clause, e.After)
}

// solverClient is what the engine needs from the solver. Tests substitute a
// scripted client.
type solverClient interface {
	Available() error
	Solve(ctx context.Context, script string) (smt.Outcome, error)
	Timeout() time.Duration
}

// FunctionResult is the engine's per-function outcome.
type FunctionResult struct {
	Function       string
	Status         Status
	Facts          []cir.ProofFact
	Counterexample smt.Model
	Err            error
	Warnings       []string
	Duration       time.Duration
	Queries        int
	CacheHit       bool
	TrustReason    string
	// Scripts holds the SMT text of each query when script retention is on.
	Scripts []string
}

// Verifier runs the two checks of the verification engine: precondition
// satisfiability and postcondition refutation.
type Verifier struct {
	solver      solverClient
	db          *ProofDatabase
	effects     map[string]cir.EffectSet
	jobs        int
	verbose     bool
	keepScripts bool
}

// NewVerifier builds a verifier around db using the default solver.
func NewVerifier(db *ProofDatabase) *Verifier {
	return &Verifier{solver: smt.NewSolver(), db: db, jobs: 1}
}

// WithSolverPath points at a specific solver binary.
func (v *Verifier) WithSolverPath(path string) *Verifier {
	if s, ok := v.solver.(*smt.Solver); ok {
		s.WithPath(path)
	}
	return v
}

// WithTimeout sets the per-function solver budget.
func (v *Verifier) WithTimeout(d time.Duration) *Verifier {
	if s, ok := v.solver.(*smt.Solver); ok {
		s.WithTimeout(d)
	}
	return v
}

// WithClient substitutes the solver client wholesale.
func (v *Verifier) WithClient(c solverClient) *Verifier {
	v.solver = c
	return v
}

// WithCalleeEffects supplies the effect classification of callees so that
// encoding rejects impure calls in contracts and bodies. Only needed when
// calling VerifyFunction directly; VerifyProgram derives the map from the
// program itself.
func (v *Verifier) WithCalleeEffects(effects map[string]cir.EffectSet) *Verifier {
	v.effects = effects
	return v
}

// WithJobs sets the verification concurrency across functions.
func (v *Verifier) WithJobs(n int) *Verifier {
	if n > 0 {
		v.jobs = n
	}
	return v
}

// WithVerbose enables progress output in reports.
func (v *Verifier) WithVerbose(on bool) *Verifier {
	v.verbose = on
	return v
}

// WithScriptRetention keeps the generated SMT scripts on each result.
func (v *Verifier) WithScriptRetention(on bool) *Verifier {
	v.keepScripts = on
	return v
}

// Database exposes the proof database the verifier reads and writes.
func (v *Verifier) Database() *ProofDatabase { return v.db }

// VerifyFunction runs the full per-function pipeline: cache lookup, trust
// short-circuit, precondition satisfiability, then per-clause postcondition
// refutation. The three steps are strictly ordered; parallelism lives one
// level up, across functions.
func (v *Verifier) VerifyFunction(ctx context.Context, fn *cir.Function, invariants map[string][]cir.NamedProposition, fileHash string) *FunctionResult {
	start := time.Now()
	res := &FunctionResult{Function: fn.ID(), Status: StatusVerifying}

	if rec, ok := v.db.Lookup(fn.ID(), fileHash); ok {
		res.Status = rec.Status
		res.Facts = rec.Facts
		res.TrustReason = rec.TrustReason
		res.CacheHit = true
		res.Duration = time.Since(start)
		return res
	}

	if fn.TrustReason != "" {
		v.finishTrusted(fn, fileHash, res)
		res.Duration = time.Since(start)
		v.store(fn, fileHash, res)
		return res
	}

	if len(fn.Requires) == 0 && len(fn.Ensures) == 0 {
		res.Status = StatusSkipped
		res.Duration = time.Since(start)
		return res
	}

	// A generator is stateful across one script; verification may run
	// concurrently across functions, so each function gets its own.
	gen := cir.NewGenerator().WithEffects(v.effects)

	if len(fn.Requires) > 0 {
		v.checkPreconditions(ctx, gen, fn, invariants, res)
		if res.Err != nil {
			res.Duration = time.Since(start)
			return res
		}
	}

	if len(fn.Ensures) > 0 {
		v.checkPostconditions(ctx, gen, fn, invariants, res)
	} else {
		res.Status = StatusProved
	}

	res.Duration = time.Since(start)
	if res.Status.Verified() {
		v.store(fn, fileHash, res)
	}
	return res
}

func (v *Verifier) finishTrusted(fn *cir.Function, fileHash string, res *FunctionResult) {
	res.Status = StatusTrusted
	res.TrustReason = fn.TrustReason
	// Trusted postconditions become facts without a solver query. They carry
	// precondition-style evidence, never FromSolver; the trusted status is
	// what audit tooling keys on.
	for _, post := range fn.Ensures {
		res.Facts = append(res.Facts, cir.ProofFact{
			Prop:     post.Prop,
			Scope:    cir.WholeFunction(),
			Evidence: cir.FromPrecondition(),
		})
	}
}

// checkPreconditions asserts the precondition set alone and asks for a
// model. unsat means no input can ever satisfy the contract: the function is
// dead but not wrong, so this only warns.
func (v *Verifier) checkPreconditions(ctx context.Context, gen *cir.Generator, fn *cir.Function, invariants map[string][]cir.NamedProposition, res *FunctionResult) {
	script, err := gen.PreconditionQuery(fn, invariants)
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		return
	}
	if v.keepScripts {
		res.Scripts = append(res.Scripts, script)
	}
	out, err := v.solver.Solve(ctx, script)
	res.Queries++
	if err != nil {
		res.Err = err
		return
	}
	if out.Result == smt.Unsat {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%s: preconditions are unsatisfiable; no valid input exists", fn.ID()))
	}
}

// checkPostconditions refutes each postcondition clause separately:
// preconditions and the body equation are assumed, the clause is negated.
// unsat proves the clause on every input allowed by the preconditions.
func (v *Verifier) checkPostconditions(ctx context.Context, gen *cir.Generator, fn *cir.Function, invariants map[string][]cir.NamedProposition, res *FunctionResult) {
	for _, post := range fn.Ensures {
		single := *fn
		single.Ensures = []cir.NamedProposition{post}
		script, err := gen.VerificationQuery(&single, invariants)
		if err != nil {
			// No solver mapping for this function: skip it, keep its checks.
			res.Status = StatusSkipped
			res.Facts = nil
			res.Warnings = append(res.Warnings, err.Error())
			return
		}
		if v.keepScripts {
			res.Scripts = append(res.Scripts, script)
		}
		out, err := v.solver.Solve(ctx, script)
		res.Queries++
		if err != nil {
			res.Status = StatusUnverified
			res.Facts = nil
			res.Err = err
			return
		}
		switch out.Result {
		case smt.Unsat:
			res.Facts = append(res.Facts, cir.ProofFact{
				Prop:     post.Prop,
				Scope:    cir.WholeFunction(),
				Evidence: cir.FromSolver(cir.QueryHash(script)),
			})
		case smt.Sat:
			res.Status = StatusDisproved
			res.Facts = nil
			res.Counterexample = out.Model
			res.Err = &VerificationError{Function: fn.ID(), Clause: clauseName(post), Counterexample: out.Model}
			return
		default:
			res.Status = StatusTimedOut
			res.Facts = nil
			res.Err = &TimeoutError{Function: fn.ID(), Clause: clauseName(post), After: v.solver.Timeout()}
			return
		}
	}
	res.Status = StatusProved
}

func clauseName(np cir.NamedProposition) string {
	if np.Name != "" {
		return "clause " + np.Name
	}
	return "clause " + np.Prop.String()
}

func (v *Verifier) store(fn *cir.Function, fileHash string, res *FunctionResult) {
	// A record without a source hash could never be validated on lookup.
	if fileHash == "" {
		return
	}
	v.db.Store(&Record{
		FunctionID:  fn.ID(),
		File:        fn.File,
		FileHash:    fileHash,
		Status:      res.Status,
		TrustReason: res.TrustReason,
		Facts:       res.Facts,
		DurationMs:  res.Duration.Milliseconds(),
		QueryCount:  res.Queries,
		VerifiedAt:  time.Now().UTC(),
	})
}

// HardError reports whether the result blocks a successful build.
func (r *FunctionResult) HardError() bool {
	return r.Err != nil
}

// Describe renders the one-line summary of this result.
func (r *FunctionResult) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %s", r.Status, r.Function)
	if r.CacheHit {
		b.WriteString(" (cached)")
	}
	if r.TrustReason != "" {
		fmt.Fprintf(&b, " (trusted: %s)", r.TrustReason)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, ": %v", r.Err)
	}
	return b.String()
}
