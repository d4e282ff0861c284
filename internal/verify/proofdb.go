package verify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/calyx-lang/calyx/internal/cir"
)

// CacheFileName is the proof cache file kept next to the build root.
const CacheFileName = ".calyx.proofcache"

// FormatVersion is the persisted snapshot format. Loading accepts any
// snapshot whose version satisfies formatConstraint; anything else is
// discarded and re-verification runs from scratch.
const FormatVersion = "1.0.0"

const formatConstraint = "^1.0.0"

// Record is one function's verification outcome, the unit of incremental
// compilation.
type Record struct {
	FunctionID  string          `json:"function_id"`
	File        string          `json:"file"`
	FileHash    string          `json:"file_hash"`
	Status      Status          `json:"status"`
	TrustReason string          `json:"trust_reason,omitempty"`
	Facts       []cir.ProofFact `json:"facts"`
	DurationMs  int64           `json:"duration_ms"`
	QueryCount  int             `json:"query_count"`
	VerifiedAt  time.Time       `json:"verified_at"`
}

// DBStats exposes basic cache metrics.
type DBStats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Stores    int64
	Discarded int64
}

// ProofDatabase caches verification results keyed by function identity.
// Reads are concurrent; writes serialize per entry, not globally, so
// unrelated functions never contend.
type ProofDatabase struct {
	mu      sync.RWMutex
	entries map[string]*dbEntry

	hits      atomic.Int64
	misses    atomic.Int64
	stores    atomic.Int64
	discarded atomic.Int64
}

type dbEntry struct {
	mu  sync.RWMutex
	rec *Record
}

// NewProofDatabase returns an empty database.
func NewProofDatabase() *ProofDatabase {
	return &ProofDatabase{entries: make(map[string]*dbEntry)}
}

// Lookup returns the cached record for id when its stored file hash matches
// currentHash. A missing entry or a hash mismatch is a miss; stale facts are
// never returned. The record is shared and must not be mutated.
func (db *ProofDatabase) Lookup(id, currentHash string) (*Record, bool) {
	// An empty hash means the source could not be read; staleness is
	// undecidable, so it never hits.
	if currentHash == "" {
		db.misses.Add(1)
		return nil, false
	}
	db.mu.RLock()
	e := db.entries[id]
	db.mu.RUnlock()
	if e == nil {
		db.misses.Add(1)
		return nil, false
	}
	e.mu.RLock()
	rec := e.rec
	e.mu.RUnlock()
	if rec == nil || rec.FileHash != currentHash {
		db.misses.Add(1)
		return nil, false
	}
	db.hits.Add(1)
	return rec, true
}

// Store overwrites any prior record for rec.FunctionID.
func (db *ProofDatabase) Store(rec *Record) {
	e := db.entry(rec.FunctionID)
	e.mu.Lock()
	e.rec = rec
	e.mu.Unlock()
	db.stores.Add(1)
}

func (db *ProofDatabase) entry(id string) *dbEntry {
	db.mu.RLock()
	e := db.entries[id]
	db.mu.RUnlock()
	if e != nil {
		return e
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if e = db.entries[id]; e == nil {
		e = &dbEntry{}
		db.entries[id] = e
	}
	return e
}

// Invalidate drops the record for id, if any.
func (db *ProofDatabase) Invalidate(id string) {
	db.mu.RLock()
	e := db.entries[id]
	db.mu.RUnlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.rec = nil
	e.mu.Unlock()
}

// InvalidateFile drops every record whose source file is path. The watcher
// calls this eagerly; the hash check on Lookup covers the lazy path.
func (db *ProofDatabase) InvalidateFile(path string) int {
	db.mu.RLock()
	entries := make([]*dbEntry, 0, len(db.entries))
	for _, e := range db.entries {
		entries = append(entries, e)
	}
	db.mu.RUnlock()
	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.rec != nil && e.rec.File == path {
			e.rec = nil
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Stats returns current metrics.
func (db *ProofDatabase) Stats() DBStats {
	db.mu.RLock()
	n := 0
	for _, e := range db.entries {
		e.mu.RLock()
		if e.rec != nil {
			n++
		}
		e.mu.RUnlock()
	}
	db.mu.RUnlock()
	return DBStats{
		Entries:   n,
		Hits:      db.hits.Load(),
		Misses:    db.misses.Load(),
		Stores:    db.stores.Load(),
		Discarded: db.discarded.Load(),
	}
}

type snapshot struct {
	FormatVersion string    `json:"format_version"`
	SavedAt       time.Time `json:"saved_at"`
	Records       []*Record `json:"records"`
}

// SaveTo writes the database to path atomically (write to a temp file, then
// rename). The snapshot round-trips exactly through LoadFrom.
func (db *ProofDatabase) SaveTo(path string) error {
	db.mu.RLock()
	recs := make([]*Record, 0, len(db.entries))
	for _, e := range db.entries {
		e.mu.RLock()
		if e.rec != nil {
			recs = append(recs, e.rec)
		}
		e.mu.RUnlock()
	}
	db.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].FunctionID < recs[j].FunctionID })

	snap := snapshot{FormatVersion: FormatVersion, SavedAt: time.Now().UTC(), Records: recs}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFrom populates the database from a snapshot file. A missing file,
// unparsable content, or an incompatible format version silently yields an
// empty database; corruption is never a user-facing error, it only costs a
// full re-verification.
func (db *ProofDatabase) LoadFrom(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		db.discarded.Add(1)
		return
	}
	if !formatCompatible(snap.FormatVersion) {
		db.discarded.Add(1)
		return
	}
	for _, rec := range snap.Records {
		if rec == nil || rec.FunctionID == "" {
			db.discarded.Add(1)
			continue
		}
		e := db.entry(rec.FunctionID)
		e.mu.Lock()
		e.rec = rec
		e.mu.Unlock()
	}
}

func formatCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// CachePathFor returns the default cache location for a build rooted at dir.
func CachePathFor(dir string) string {
	return filepath.Join(dir, CacheFileName)
}

// FunctionIDOf is the database key for a lowered function.
func FunctionIDOf(fn *cir.Function) string { return fn.ID() }
