package compiler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/provtrace/internal/config"
	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/testutil"
	"github.com/roach88/provtrace/internal/trace"
)

func newCompiler(t *testing.T, opts ...Option) *Compiler {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)
	c, err := New(config.Default(), opts...)
	require.NoError(t, err)
	return c
}

func compile(t *testing.T, records testutil.Records) *Result {
	t.Helper()
	res, err := newCompiler(t).Compile(context.Background(), testutil.MemTrace(t, records))
	require.NoError(t, err)
	require.NoError(t, res.Document.Validate())
	return res
}

// fooProcess is pid 100 started at 1000us running /usr/bin/foo.
func fooProcess() testutil.Records {
	return testutil.Records{
		"pid.100.1000":          "foo",
		"prv.pid.100.1000.path": "/usr/bin/foo",
	}
}

func with(base testutil.Records, extra testutil.Records) testutil.Records {
	out := testutil.Records{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func TestCompile_SingleReadProducesUsed(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/home/x/data.txt",
	}))
	doc := res.Document

	require.Len(t, doc.Activities, 1)
	act := doc.Activities[0]
	assert.Equal(t, "prov:act0--/usr/bin/foo", act.ID)
	assert.Equal(t, "foo", act.Label)
	assert.False(t, act.HasEnd())
	assert.Equal(t, "1970-01-01T00:00:00.001000Z", prov.FormatTime(act.Start))

	require.Len(t, doc.Entities, 1)
	ent := doc.Entities[0]
	assert.Equal(t, "prov:en0--/home/x/data.txt", ent.ID)
	assert.Equal(t, "1970-01-01T00:00:00.002000Z", prov.FormatTime(ent.Created))
	assert.Equal(t, prov.EntityUUID(prov.DefaultNamespaceURI, 2000, "/home/x/data.txt", "1.0"), ent.UUID)

	require.Len(t, doc.Used, 1)
	assert.Equal(t, prov.Used{ID: "_:u0", Activity: act.ID, Entity: ent.ID}, doc.Used[0])
	assert.Empty(t, doc.Generated)
	assert.Empty(t, doc.Informed)

	assert.Equal(t, 1, res.Stats.Activities)
	assert.Equal(t, 1, res.Stats.IOEvents)
	assert.Equal(t, 0, res.Stats.Skipped())
}

func TestCompile_LibraryPathIsFiltered(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/usr/lib/libc.so",
	}))

	assert.Len(t, res.Document.Activities, 1)
	assert.Empty(t, res.Document.Entities)
	assert.Empty(t, res.Document.Used)
	assert.Equal(t, 1, res.Stats.DeniedPaths)
}

func TestCompile_FDAliasDropped(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000":    "/home/x/data.txt",
		"prv.iopid.100.1000.1.2000.fd": "/home/x/data.txt",
	}))

	assert.Len(t, res.Document.Entities, 1)
	assert.Len(t, res.Document.Used, 1)
	assert.Equal(t, 1, res.Stats.AliasEvents)
	assert.Equal(t, 2, res.Stats.IOEvents)
}

func TestCompile_ExecLinksParentToChild(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.200.1000":               "sh",
		"prv.pid.200.1000.path":      "/bin/sh",
		"prv.pid.200.1000.exec.1500": "201.1500",
		"pid.201.1500":               "ls",
		"prv.pid.201.1500.path":      "/bin/ls",
	})
	doc := res.Document

	require.Len(t, doc.Activities, 2)
	require.Len(t, doc.Informed, 1)
	assert.Equal(t, prov.WasInformedBy{
		ID:        "_:Infm0",
		Informant: "prov:act0--/bin/sh",
		Informed:  "prov:act1--/bin/ls",
	}, doc.Informed[0])
	assert.Equal(t, 1, res.Stats.Informed)
}

func TestCompilePath_MissingStore(t *testing.T) {
	c := newCompiler(t)

	res, err := c.CompilePath(context.Background(), filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, trace.ErrStoreUnavailable)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeStoreUnavailable, ce.Code)
}

func TestCompilePath_ResolvesDBSuffix(t *testing.T) {
	path := testutil.DiskTrace(t, "provenance.cde-root.1.log_db", with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.2.2000": "/home/x/out.txt",
	}))
	logName := path[:len(path)-len(trace.DirSuffix)]

	res, err := newCompiler(t).CompilePath(context.Background(), logName)
	require.NoError(t, err)
	assert.Len(t, res.Document.Generated, 1)
}

func TestCompile_AccessCodes(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/home/x/in.txt",
		"prv.iopid.100.1000.2.2100": "/home/x/out.txt",
		"prv.iopid.100.1000.3.2200": "/home/x/both.txt",
		"prv.iopid.100.1000.7.2300": "/home/x/odd.txt",
	}))
	doc := res.Document

	assert.Len(t, doc.Used, 1)
	assert.Len(t, doc.Generated, 2)
	assert.Len(t, doc.Entities, 3, "unknown codes create no entity")
	assert.Empty(t, doc.EntitiesForPath("/home/x/odd.txt"))
	assert.Equal(t, 1, res.Stats.UnknownAccessCodes)
}

func TestCompile_OrphanEventsProduceNothing(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"prv.iopid.300.1.1.2000":    "/home/x/orphan.txt",
		"prv.iopid.300.1.2.2001":    "/home/x/orphan2.txt",
		"prv.iopid.100.1000.1.2000": "/home/x/data.txt",
	}))

	assert.Len(t, res.Document.Entities, 1)
	assert.Empty(t, res.Document.EntitiesForPath("/home/x/orphan.txt"))
	assert.Equal(t, 2, res.Stats.OrphanEvents)
}

func TestCompile_ActivityWithoutPathDropped(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.100.1000":                "foo",
		"prv.pid.100.1000.iexit":      "5000",
		"prv.iopid.100.1000.1.2000":   "/home/x/data.txt",
		"pid.101.1000":                "bar",
		"prv.pid.101.1000.path":       "",
		"prv.iopid.101.1000.1.2000":   "/home/x/data.txt",
		"prv.pid.100.1000.pathology":  "/not/a/path/record",
		"prv.pid.100.1000.cwd":        "/home/x",
		"prv.iopid.101.1000.1.2000.x": "/home/x/other.txt",
	})

	assert.Empty(t, res.Document.Activities)
	assert.Empty(t, res.Document.Entities)
	assert.Equal(t, 2, res.Stats.MissingPath)
	assert.Equal(t, 3, res.Stats.OrphanEvents)
}

func TestCompile_FirstPathRecordWins(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.100.1000":            "foo",
		"prv.pid.100.1000.path":   "/usr/bin/foo",
		"prv.pid.100.1000.path.1": "/usr/bin/other",
	})

	require.Len(t, res.Document.Activities, 1)
	assert.Equal(t, "/usr/bin/foo", res.Document.Activities[0].Path)
}

func TestCompile_ExitTime(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.100.1000":           "foo",
		"prv.pid.100.1000.path":  "/usr/bin/foo",
		"prv.pid.100.1000.iexit": "9000",
		"pid.101.1000":           "bar",
		"prv.pid.101.1000.path":  "/usr/bin/bar",
		"prv.pid.101.1000.iexit": "soon",
	})

	require.Len(t, res.Document.Activities, 2)
	foo, bar := res.Document.Activities[0], res.Document.Activities[1]
	require.True(t, foo.HasEnd())
	assert.Equal(t, "1970-01-01T00:00:00.009000Z", prov.FormatTime(foo.End))
	assert.False(t, bar.HasEnd())
	assert.Equal(t, 1, res.Stats.BadExitTime)
}

func TestCompile_UnresolvedChildSkipped(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.200.1000":               "sh",
		"prv.pid.200.1000.path":      "/bin/sh",
		"prv.pid.200.1000.exec.1500": "999.1500",
		"prv.pid.200.1000.exec.1600": "garbage",
		"prv.pid.200.1000.exec.x":    "201.1500",
	})

	assert.Empty(t, res.Document.Informed)
	assert.Equal(t, 2, res.Stats.UnresolvedChildren)
	assert.Equal(t, 1, res.Stats.MalformedKeys)
}

func TestCompile_MalformedKeysCounted(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"pid.abc.1000":              "bad pid",
		"pid.100.1000.extra":        "too many segments",
		"prv.iopid.100.1000.x.2000": "/home/x/data.txt",
		"prv.iopid.100.1000.1":      "/home/x/short.txt",
	}))

	assert.Equal(t, 4, res.Stats.MalformedKeys)
	assert.Len(t, res.Document.Activities, 1)
	assert.Empty(t, res.Document.Entities)
}

func TestCompile_DuplicateProcessRecords(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.0100.1000":         "padded",
		"pid.100.1000":          "foo",
		"prv.pid.100.1000.path": "/usr/bin/foo",
	})

	assert.Len(t, res.Document.Activities, 1)
	assert.Equal(t, 2, res.Stats.Processes)
	assert.Equal(t, 1, res.Stats.DuplicateProcesses)
}

func TestCompile_ZeroPaddedProcessKeys(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.0100.1000":               "foo",
		"prv.pid.0100.1000.path":      "/usr/bin/foo",
		"prv.pid.0100.1000.iexit":     "9000",
		"prv.pid.0100.1000.exec.1500": "200.1500",
		"pid.200.1500":                "bar",
		"prv.pid.200.1500.path":       "/usr/bin/bar",
		"prv.iopid.0100.1000.1.2000":  "/home/x/data.txt",
	})
	doc := res.Document

	require.Len(t, doc.Activities, 2)
	assert.Equal(t, "prov:act0--/usr/bin/foo", doc.Activities[0].ID)
	assert.True(t, doc.Activities[0].HasEnd())
	assert.Zero(t, res.Stats.MissingPath)
	assert.Zero(t, res.Stats.OrphanEvents)
	assert.Len(t, doc.Entities, 1)
	assert.Len(t, doc.Used, 1)
	assert.Len(t, doc.Informed, 1)
}

func TestCompile_EpisodesOfSamePathAreDistinctEntities(t *testing.T) {
	res := compile(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/home/x/data.txt",
		"prv.iopid.100.1000.1.2050": "/home/x/data.txt",
		"prv.iopid.100.1000.2.2100": "/home/x/data.txt",
	}))

	ents := res.Document.EntitiesForPath("/home/x/data.txt")
	require.Len(t, ents, 2)
	assert.NotEqual(t, ents[0].UUID, ents[1].UUID)
	assert.Equal(t, "prov:en0--/home/x/data.txt", ents[0].ID)
	assert.Equal(t, "prov:en1--/home/x/data.txt", ents[1].ID)
	assert.Len(t, res.Document.Used, 1)
	assert.Len(t, res.Document.Generated, 1)
	assert.Equal(t, 1, res.Stats.DuplicateEpisodes)
}

func TestCompile_EntityOrderFollowsActivitiesThenPaths(t *testing.T) {
	res := compile(t, testutil.Records{
		"pid.100.1000":              "a",
		"prv.pid.100.1000.path":     "/bin/a",
		"pid.200.1000":              "b",
		"prv.pid.200.1000.path":     "/bin/b",
		"prv.iopid.200.1000.1.3000": "/data/b1",
		"prv.iopid.100.1000.1.4000": "/data/a2",
		"prv.iopid.100.1000.1.3500": "/data/a1",
		"prv.iopid.100.1000.2.3600": "/data/a2",
	})

	var ids []string
	for _, e := range res.Document.Entities {
		ids = append(ids, e.ID)
	}
	// Within act 100, /data/a1 is first seen (key ...1.3500) before
	// /data/a2 (key ...1.4000); the write episode of /data/a2 follows.
	assert.Equal(t, []string{
		"prov:en0--/data/a1",
		"prov:en1--/data/a2",
		"prov:en2--/data/a2",
		"prov:en3--/data/b1",
	}, ids)
}

func TestCompile_Deterministic(t *testing.T) {
	records := with(fooProcess(), testutil.Records{
		"pid.200.1000":               "sh",
		"prv.pid.200.1000.path":      "/bin/sh",
		"prv.pid.200.1000.exec.1100": "100.1000",
		"prv.iopid.100.1000.1.2000":  "/home/x/a",
		"prv.iopid.100.1000.2.2100":  "/home/x/b",
		"prv.iopid.200.1000.1.2200":  "/home/x/c",
		"prv.iopid.200.1000.3.2300":  "/home/x/c",
	})

	first, err := compile(t, records).Document.MarshalCanonical()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := compile(t, records).Document.MarshalCanonical()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}

	path := testutil.DiskTrace(t, "run_db", records)
	res, err := newCompiler(t).CompilePath(context.Background(), path)
	require.NoError(t, err)
	fromDisk, err := res.Document.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(fromDisk))
}

func TestCompile_NoDanglingReferences(t *testing.T) {
	records := testutil.Records{}
	for _, p := range []string{"100", "101", "102", "103"} {
		records["pid."+p+".1000"] = "p" + p
		if p != "103" {
			records["prv.pid."+p+".1000.path"] = "/bin/p" + p
		}
		records["prv.pid."+p+".1000.exec.1001"] = "10" + p[2:] + ".1000"
		records["prv.iopid."+p+".1000.1.2000"] = "/home/x/" + p
		records["prv.iopid."+p+".1000.2.2001"] = "/home/x/shared"
		records["prv.iopid."+p+".1000.1.2002"] = "/etc/hosts"
	}

	res := compile(t, records)
	doc := res.Document

	activities := map[string]bool{}
	for _, a := range doc.Activities {
		activities[a.ID] = true
	}
	entities := map[string]bool{}
	for _, e := range doc.Entities {
		entities[e.ID] = true
	}
	for _, u := range doc.Used {
		assert.True(t, activities[u.Activity], u.ID)
		assert.True(t, entities[u.Entity], u.ID)
	}
	for _, g := range doc.Generated {
		assert.True(t, activities[g.Activity], g.ID)
		assert.True(t, entities[g.Entity], g.ID)
	}
	for _, i := range doc.Informed {
		assert.True(t, activities[i.Informant], i.ID)
		assert.True(t, activities[i.Informed], i.ID)
	}

	assert.Len(t, doc.Activities, 3)
	assert.Equal(t, 1, res.Stats.MissingPath)
	assert.Equal(t, 3, res.Stats.OrphanEvents)
}

func TestCompile_CustomNamespace(t *testing.T) {
	cfg := config.Default()
	cfg.Namespace = "ex"
	cfg.NamespaceURI = "http://trace.example/"
	cfg.DenyContains = []string{}

	c, err := New(cfg, WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)

	res, err := c.Compile(context.Background(), testutil.MemTrace(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/usr/lib/libc.so",
	})))
	require.NoError(t, err)

	require.Len(t, res.Document.Entities, 1, "contains rules disabled")
	assert.Equal(t, "ex:en0--/usr/lib/libc.so", res.Document.Entities[0].ID)
	assert.Equal(t, "ex:act0--/usr/bin/foo", res.Document.Activities[0].ID)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Encoding = "no-such-charset"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestCompile_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := testutil.MemTrace(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/home/x/data.txt",
	}))

	res, err := newCompiler(t).Compile(ctx, st)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsCanceled(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsStoreUnavailable(err))
}

func TestCompile_EmptyTrace(t *testing.T) {
	res := compile(t, testutil.Records{})

	data, err := res.Document.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, `{"prefix":{"prov":"http://example.org"}}`, string(data))
}

func TestCompile_PhaseSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := newCompiler(t, WithTracerProvider(tp))
	_, err := c.Compile(context.Background(), testutil.MemTrace(t, with(fooProcess(), testutil.Records{
		"prv.iopid.100.1000.1.2000": "/home/x/data.txt",
		"prv.iopid.300.1.1.2000":    "/home/x/orphan.txt",
	})))
	require.NoError(t, err)

	spans := sr.Ended()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"resolve_activities", "build_entities", "compile"}, names)

	attrs := map[string]int64{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	assert.Equal(t, int64(1), attrs["provtrace.entities"])
	assert.Equal(t, int64(1), attrs["provtrace.orphan_events"])
}
