package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/roach88/provtrace/internal/compiler"
	"github.com/roach88/provtrace/internal/trace"
)

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory trace store. A non-nil error means
// the scenario could not be executed at all (bad config, store failure,
// compile error); failed checks are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := scenario.CompilerConfig()
	if err != nil {
		return nil, err
	}

	c, err := compiler.New(cfg, compiler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	st, err := loadRecords(scenario.Records)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	defer st.Close()

	compiled, err := c.Compile(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	result.Document = compiled.Document
	result.Stats = compiled.Stats

	checkExpectation(scenario.Expect, result)

	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

// loadRecords writes records into an in-memory LevelDB and reopens it
// read-only, the way compiled traces are always read.
func loadRecords(records []Record) (*trace.Store, error) {
	stor := storage.NewMemStorage()
	w, err := trace.CreateStorage(stor)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}

	recs := make([]trace.Record, len(records))
	for i, r := range records {
		recs[i] = trace.Record{Key: r.Key, Value: r.Value}
	}
	if err := w.PutAll(recs); err != nil {
		w.Close()
		return nil, fmt.Errorf("write trace: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close trace writer: %w", err)
	}

	st, err := trace.OpenStorage(stor)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return st, nil
}

// checkExpectation compares exact counts and the listed stats.
func checkExpectation(exp *Expectation, result *Result) {
	if exp == nil {
		return
	}

	if exp.Counts != nil {
		got := result.Document.Counts()
		if got != *exp.Counts {
			result.AddError(fmt.Sprintf("counts: expected %+v, got %+v", *exp.Counts, got))
		}
	}

	stats := result.Stats.Map()
	for _, name := range sortedKeys(exp.Stats) {
		got, ok := stats[name]
		if !ok {
			result.AddError(fmt.Sprintf("stats: unknown counter %q", name))
			continue
		}
		if got != exp.Stats[name] {
			result.AddError(fmt.Sprintf("stats.%s: expected %d, got %d", name, exp.Stats[name], got))
		}
	}
}
