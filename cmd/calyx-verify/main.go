// Package main provides the contract verification driver for the Calyx
// compiler: it lowers a type-checked program dump to contract IR, proves what
// it can with the external solver, propagates the resulting facts, and emits
// the optimizer-facing fact list.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/calyx-lang/calyx/internal/ast"
	"github.com/calyx-lang/calyx/internal/cir"
	"github.com/calyx-lang/calyx/internal/pir"
	"github.com/calyx-lang/calyx/internal/verify"
)

var (
	version = "0.1.0-alpha"
	commit  = "dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		dumpCIR     = flag.Bool("dump-cir", false, "print the contract IR and exit before verification")
		dumpFacts   = flag.Bool("dump-facts", false, "print the fact-annotated tree per function")
		report      = flag.Bool("report", false, "print the optimization report: every check discharged, with evidence")
		solverPath  = flag.String("solver", "z3", "SMT solver binary")
		timeout     = flag.Duration("timeout", 10*time.Second, "per-function solver timeout")
		jobs        = flag.Int("jobs", runtime.NumCPU(), "parallel verification workers")
		cachePath   = flag.String("cache", verify.CachePathFor("."), "proof cache file")
		noCache     = flag.Bool("no-cache", false, "skip proof cache load and save")
		keepScripts = flag.Bool("keep-scripts", false, "retain generated SMT scripts in the report")
		verbose     = flag.Bool("verbose", false, "per-function progress output")
		watch       = flag.Bool("watch", false, "stay resident and re-verify when source files change")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("calyx-verify v%s (%s)\n", version, commit)
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: calyx-verify [flags] <program.json>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(args[0], options{
		dumpCIR:     *dumpCIR,
		dumpFacts:   *dumpFacts,
		report:      *report,
		solverPath:  *solverPath,
		timeout:     *timeout,
		jobs:        *jobs,
		cachePath:   *cachePath,
		noCache:     *noCache,
		keepScripts: *keepScripts,
		verbose:     *verbose,
		watch:       *watch,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "calyx-verify: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dumpCIR     bool
	dumpFacts   bool
	report      bool
	solverPath  string
	timeout     time.Duration
	jobs        int
	cachePath   string
	noCache     bool
	keepScripts bool
	verbose     bool
	watch       bool
}

func run(inputPath string, opts options) error {
	prog, err := loadProgram(inputPath)
	if err != nil {
		return err
	}

	if opts.dumpCIR {
		fmt.Print(prog.Dump())
		return nil
	}

	db := verify.NewProofDatabase()
	if !opts.noCache {
		db.LoadFrom(opts.cachePath)
	}

	v := verify.NewVerifier(db).
		WithSolverPath(opts.solverPath).
		WithTimeout(opts.timeout).
		WithJobs(opts.jobs).
		WithVerbose(opts.verbose).
		WithScriptRetention(opts.keepScripts)

	if !opts.watch {
		return verifyPass(prog, db, v, opts)
	}

	cw, err := verify.NewCacheWatcher(db)
	if err != nil {
		return err
	}
	defer cw.Close()
	for _, dir := range watchDirs(inputPath, prog) {
		if err := cw.Watch(dir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot watch %s: %v\n", dir, err)
		}
	}
	// In watch mode a refuted contract is reported, not fatal; the next
	// change gets another chance.
	if err := verifyPass(prog, db, v, opts); err != nil {
		fmt.Fprintf(os.Stderr, "calyx-verify: %v\n", err)
	}
	for path := range cw.Events() {
		fmt.Fprintf(os.Stderr, "%s changed; re-verifying\n", path)
		prog, err = loadProgram(inputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "calyx-verify: %v\n", err)
			continue
		}
		if err := verifyPass(prog, db, v, opts); err != nil {
			fmt.Fprintf(os.Stderr, "calyx-verify: %v\n", err)
		}
	}
	return nil
}

// loadProgram reads a type-checked program dump and lowers it to contract IR,
// printing lowering warnings as it goes.
func loadProgram(inputPath string) (*cir.Program, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, err
	}
	var prog ast.Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("parse %s: %w", inputPath, err)
	}
	lowered, err := cir.Lower(&prog)
	if err != nil {
		return nil, err
	}
	for _, w := range lowered.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return lowered.Program, nil
}

// watchDirs lists the directories worth watching: the dump's own directory
// plus every directory holding a source file the program references.
func watchDirs(inputPath string, prog *cir.Program) []string {
	seen := map[string]bool{}
	out := []string{filepath.Dir(inputPath)}
	seen[out[0]] = true
	for _, fn := range prog.Functions {
		if fn.File == "" {
			continue
		}
		dir := filepath.Dir(fn.File)
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}

func verifyPass(prog *cir.Program, db *verify.ProofDatabase, v *verify.Verifier, opts options) error {
	rep, err := v.VerifyProgram(context.Background(), prog)
	if err != nil {
		return err
	}
	for _, w := range rep.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if opts.verbose || opts.report {
		fmt.Print(rep.String())
	}

	if !opts.noCache {
		if err := db.SaveTo(opts.cachePath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot save proof cache: %v\n", err)
		}
	}

	// Optimization blocks on verification completing for every function:
	// no fact propagation happens on a build that cannot finish.
	if err := rep.Err(); err != nil {
		return err
	}

	verified := make(map[string]bool)
	for _, res := range rep.Results {
		if res.Status.Verified() {
			verified[res.Function] = true
		}
	}
	prop := pir.NewPropagator(pir.VerifiedPostconditions(prog, func(id string) bool {
		return verified[id]
	}))

	for _, fn := range prog.Functions {
		annotated := prop.PropagateFunction(fn)
		if opts.dumpFacts {
			fmt.Print(annotated.Dump())
		}
		facts := pir.BridgeFacts(fn, annotated)
		if opts.report {
			for _, n := range dischargedSites(annotated) {
				fmt.Printf("%s: %s check at %s discharged by %s\n",
					fn.Name, n.Kind, n.Point, *n.Discharge)
			}
			for _, f := range facts {
				fmt.Printf("%s: fact %s\n", fn.Name, f)
			}
		}
	}
	return nil
}

func dischargedSites(f *pir.Function) []*pir.Node {
	var out []*pir.Node
	f.Walk(func(n *pir.Node) {
		if n.Discharge != nil {
			out = append(out, n)
		}
	})
	return out
}
