package verify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Report is the whole-program verification outcome.
type Report struct {
	Module   string
	Results  []*FunctionResult
	Duration time.Duration
}

// Summary counts results per terminal state.
type Summary struct {
	Total     int
	Proved    int
	Disproved int
	TimedOut  int
	Trusted   int
	Skipped   int
	CacheHits int
	Queries   int
}

// Summary tallies the per-function results.
func (r *Report) Summary() Summary {
	var s Summary
	for _, res := range r.Results {
		s.Total++
		s.Queries += res.Queries
		if res.CacheHit {
			s.CacheHits++
		}
		switch res.Status {
		case StatusProved:
			s.Proved++
		case StatusDisproved:
			s.Disproved++
		case StatusTimedOut:
			s.TimedOut++
		case StatusTrusted:
			s.Trusted++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Err aggregates every hard failure. A nil return means the build may
// proceed to optimization.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Warnings collects non-fatal diagnostics across all functions.
func (r *Report) Warnings() []string {
	var out []string
	for _, res := range r.Results {
		out = append(out, res.Warnings...)
	}
	return out
}

func (r *Report) String() string {
	var b strings.Builder
	for _, res := range r.Results {
		b.WriteString(res.Describe())
		b.WriteByte('\n')
	}
	s := r.Summary()
	fmt.Fprintf(&b, "verified %d/%d (trusted %d, skipped %d, disproved %d, timed-out %d) cache-hits %d queries %d in %s\n",
		s.Proved+s.Trusted, s.Total, s.Trusted, s.Skipped, s.Disproved, s.TimedOut, s.CacheHits, s.Queries, r.Duration.Round(time.Millisecond))
	return b.String()
}
