// Package testutil provides fixtures shared by package tests: real LevelDB
// trace stores built in memory or on disk, a deterministic clock and a
// silent logger.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/roach88/provtrace/internal/trace"
)

// Records maps raw trace keys to their values.
type Records map[string]string

// List returns the records as trace.Records. Order is irrelevant: the
// store sorts on write.
func (r Records) List() []trace.Record {
	out := make([]trace.Record, 0, len(r))
	for k, v := range r {
		out = append(out, trace.Record{Key: k, Value: v})
	}
	return out
}

// MemTrace writes records into an in-memory LevelDB and returns it opened
// read-only. The store is closed when the test ends.
func MemTrace(t testing.TB, records Records) *trace.Store {
	t.Helper()

	stor := storage.NewMemStorage()
	w, err := trace.CreateStorage(stor)
	if err != nil {
		t.Fatalf("create trace: %v", err)
	}
	if err := w.PutAll(records.List()); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close trace writer: %v", err)
	}

	st, err := trace.OpenStorage(stor)
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// DiskTrace writes records into a new LevelDB directory named name under
// a per-test temp dir and returns its path. Name it "<log>_db" to mirror
// the tracer's layout.
func DiskTrace(t testing.TB, name string, records Records) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	w, err := trace.Create(path)
	if err != nil {
		t.Fatalf("create trace: %v", err)
	}
	if err := w.PutAll(records.List()); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close trace writer: %v", err)
	}
	return path
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
