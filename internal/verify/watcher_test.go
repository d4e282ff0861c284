package verify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "math.cx")
	if err := os.WriteFile(src, []byte("fn divide"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	db := NewProofDatabase()
	db.Store(sampleRecord("m::divide", src, "h"))

	cw, err := NewCacheWatcher(db)
	if err != nil {
		t.Fatalf("NewCacheWatcher: %v", err)
	}
	defer cw.Close()
	if err := cw.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(src, []byte("fn divide changed"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, ok := db.Lookup("m::divide", "h"); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("record not invalidated after source change")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWatcherDeliversChangeEvents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "math.cx")
	if err := os.WriteFile(src, []byte("fn divide"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cw, err := NewCacheWatcher(NewProofDatabase())
	if err != nil {
		t.Fatalf("NewCacheWatcher: %v", err)
	}
	defer cw.Close()
	if err := cw.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(src, []byte("fn divide changed"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case path := <-cw.Events():
		if path != src {
			t.Errorf("event path = %q, want %q", path, src)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change event delivered")
	}
}

func TestWatcherCloseStopsLoop(t *testing.T) {
	cw, err := NewCacheWatcher(NewProofDatabase())
	if err != nil {
		t.Fatalf("NewCacheWatcher: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cw.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Close did not return")
	}
}

func TestHashBytesMatchesHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.cx")
	content := []byte("fn abs(x: int) -> int")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fromFile, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if fromFile != HashBytes(content) {
		t.Errorf("file and byte hashes differ")
	}
	if HashBytes(content) == HashBytes([]byte("other")) {
		t.Errorf("distinct content should hash differently")
	}
}
