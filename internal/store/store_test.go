package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roach88/provtrace/internal/canon"
	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/testutil"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path, WithClock(testutil.NewDeterministicClock()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleDocument builds a small graph; label varies the digest.
func sampleDocument(t *testing.T, label string) *prov.Document {
	t.Helper()
	b := prov.NewBuilder("", "", "")
	parent := b.AddActivity("/bin/bash", label, prov.FromMicros(1000), time.Time{})
	child := b.AddActivity("/usr/bin/cat", "", prov.FromMicros(1500), prov.FromMicros(1600))
	en := b.AddEntity("/etc/hosts", 1550)
	if _, err := b.AddUsed(child.ID, en.ID); err != nil {
		t.Fatalf("AddUsed() failed: %v", err)
	}
	if _, err := b.AddInformed(parent.ID, child.ID); err != nil {
		t.Fatalf("AddInformed() failed: %v", err)
	}
	return b.Document()
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	checks := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, c := range checks {
		if err := s.verifyPragma(c.name, c.want); err != nil {
			t.Errorf("pragma: %v", err)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if _, _, err := s1.SaveGraph(ctx, sampleDocument(t, ""), Meta{TracePath: "/tmp/a_db"}); err != nil {
		t.Fatalf("SaveGraph() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	graphs, err := s2.ListGraphs(ctx)
	if err != nil {
		t.Fatalf("ListGraphs() failed: %v", err)
	}
	if len(graphs) != 1 {
		t.Fatalf("len(graphs) = %d, want 1 after reopen", len(graphs))
	}
}

func TestSaveGraph_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := sampleDocument(t, "")

	g, inserted, err := s.SaveGraph(ctx, doc, Meta{
		TracePath: "/tmp/filex_db",
		Command:   "cat /etc/hosts",
		Stats:     map[string]int{"orphan_events": 2, "denied_paths": 0},
	})
	if err != nil {
		t.Fatalf("SaveGraph() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true on first save")
	}

	wantDigest, err := doc.Digest()
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}
	if g.Digest != wantDigest {
		t.Errorf("digest = %q, want %q", g.Digest, wantDigest)
	}
	if g.Seq != 1 {
		t.Errorf("seq = %d, want 1", g.Seq)
	}
	if g.TracePath != "/tmp/filex_db" || g.Command != "cat /etc/hosts" {
		t.Errorf("meta = (%q, %q)", g.TracePath, g.Command)
	}
	want := prov.Counts{Activities: 2, Entities: 1, Used: 1, Informed: 1}
	if g.Counts != want {
		t.Errorf("counts = %+v, want %+v", g.Counts, want)
	}
	if g.Stats["orphan_events"] != 2 || len(g.Stats) != 2 {
		t.Errorf("stats = %v", g.Stats)
	}
	if !g.CreatedAt.Equal(testutil.DeterministicEpoch) {
		t.Errorf("created_at = %v, want %v", g.CreatedAt, testutil.DeterministicEpoch)
	}

	canonical, err := doc.MarshalCanonical()
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	if string(g.Document) != string(canonical) {
		t.Errorf("document not stored in canonical form:\n got %s\nwant %s", g.Document, canonical)
	}
	if canon.DigestBytes(canon.DomainGraph, g.Document) != g.Digest {
		t.Error("stored document does not hash to its digest")
	}
}

func TestSaveGraph_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, inserted, err := s.SaveGraph(ctx, sampleDocument(t, ""), Meta{TracePath: "/tmp/a_db"})
	if err != nil || !inserted {
		t.Fatalf("first SaveGraph() = (%v, %v)", inserted, err)
	}

	// Same graph from another trace path keeps the original record.
	again, inserted, err := s.SaveGraph(ctx, sampleDocument(t, ""), Meta{TracePath: "/tmp/b_db"})
	if err != nil {
		t.Fatalf("second SaveGraph() failed: %v", err)
	}
	if inserted {
		t.Error("inserted = true, want false for duplicate graph")
	}
	if again.Seq != first.Seq || again.TracePath != "/tmp/a_db" {
		t.Errorf("duplicate save changed record: seq=%d trace=%q", again.Seq, again.TracePath)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM graphs").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("graph rows = %d, want 1", count)
	}
}

func TestListGraphs_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	labels := []string{"zeta", "alpha", "mid"}
	var digests []string
	for _, l := range labels {
		g, _, err := s.SaveGraph(ctx, sampleDocument(t, l), Meta{TracePath: "/tmp/" + l + "_db"})
		if err != nil {
			t.Fatalf("SaveGraph(%s) failed: %v", l, err)
		}
		digests = append(digests, g.Digest)
	}

	graphs, err := s.ListGraphs(ctx)
	if err != nil {
		t.Fatalf("ListGraphs() failed: %v", err)
	}
	if len(graphs) != 3 {
		t.Fatalf("len(graphs) = %d, want 3", len(graphs))
	}
	for i, g := range graphs {
		if g.Seq != int64(i+1) {
			t.Errorf("graphs[%d].seq = %d, want %d", i, g.Seq, i+1)
		}
		if g.Digest != digests[i] {
			t.Errorf("graphs[%d].digest = %q, want %q", i, g.Digest, digests[i])
		}
		if g.Document != nil {
			t.Errorf("graphs[%d] carries a document in listing", i)
		}
	}
}

func TestListGraphs_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	graphs, err := s.ListGraphs(context.Background())
	if err != nil {
		t.Fatalf("ListGraphs() failed: %v", err)
	}
	if graphs == nil {
		t.Error("ListGraphs() = nil, want empty slice")
	}
}

func TestGetGraph_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetGraph(context.Background(), strings.Repeat("0", 64))
	if !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("GetGraph() error = %v, want ErrGraphNotFound", err)
	}
}

func TestDeleteGraph_CascadesStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	g, _, err := s.SaveGraph(ctx, sampleDocument(t, ""), Meta{
		TracePath: "/tmp/a_db",
		Stats:     map[string]int{"malformed_keys": 1},
	})
	if err != nil {
		t.Fatalf("SaveGraph() failed: %v", err)
	}

	if err := s.DeleteGraph(ctx, g.Digest); err != nil {
		t.Fatalf("DeleteGraph() failed: %v", err)
	}

	var stats int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM graph_stats").Scan(&stats); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if stats != 0 {
		t.Errorf("graph_stats rows = %d after delete, want 0", stats)
	}

	if err := s.DeleteGraph(ctx, g.Digest); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("second DeleteGraph() error = %v, want ErrGraphNotFound", err)
	}
}

func TestSaveGraph_SeqContinuesAfterDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, _, err := s.SaveGraph(ctx, sampleDocument(t, "a"), Meta{TracePath: "/tmp/a_db"})
	if err != nil {
		t.Fatalf("SaveGraph(a) failed: %v", err)
	}
	b, _, err := s.SaveGraph(ctx, sampleDocument(t, "b"), Meta{TracePath: "/tmp/b_db"})
	if err != nil {
		t.Fatalf("SaveGraph(b) failed: %v", err)
	}
	if err := s.DeleteGraph(ctx, a.Digest); err != nil {
		t.Fatalf("DeleteGraph() failed: %v", err)
	}

	c, _, err := s.SaveGraph(ctx, sampleDocument(t, "c"), Meta{TracePath: "/tmp/c_db"})
	if err != nil {
		t.Fatalf("SaveGraph(c) failed: %v", err)
	}
	if c.Seq != b.Seq+1 {
		t.Errorf("seq = %d, want %d", c.Seq, b.Seq+1)
	}
}

func TestResolveDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var digests []string
	for _, l := range []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen"} {
		g, _, err := s.SaveGraph(ctx, sampleDocument(t, l), Meta{TracePath: "/tmp/x_db"})
		if err != nil {
			t.Fatalf("SaveGraph(%s) failed: %v", l, err)
		}
		digests = append(digests, g.Digest)
	}

	full := digests[0]
	got, err := s.ResolveDigest(ctx, strings.ToUpper(full[:12]))
	if err != nil {
		t.Fatalf("ResolveDigest() failed: %v", err)
	}
	if got != full {
		t.Errorf("ResolveDigest() = %q, want %q", got, full)
	}

	// 17 digests share at least one leading hex digit.
	seen := map[byte]bool{}
	var shared string
	for _, d := range digests {
		if seen[d[0]] {
			shared = d[:1]
			break
		}
		seen[d[0]] = true
	}
	if _, err := s.ResolveDigest(ctx, shared); !errors.Is(err, ErrAmbiguousDigest) {
		t.Errorf("ResolveDigest(%q) error = %v, want ErrAmbiguousDigest", shared, err)
	}

	if _, err := s.ResolveDigest(ctx, "xyz"); !errors.Is(err, ErrInvalidDigest) {
		t.Errorf("ResolveDigest(xyz) error = %v, want ErrInvalidDigest", err)
	}
	if _, err := s.ResolveDigest(ctx, ""); !errors.Is(err, ErrInvalidDigest) {
		t.Errorf("ResolveDigest(\"\") error = %v, want ErrInvalidDigest", err)
	}

	missing := full[:63] + string("0123456789abcdef"[(strings.IndexByte("0123456789abcdef", full[63])+1)%16])
	if _, err := s.ResolveDigest(ctx, missing); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("ResolveDigest(missing) error = %v, want ErrGraphNotFound", err)
	}
}
