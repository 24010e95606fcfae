package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/provtrace/internal/compiler"
	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/store"
	"github.com/roach88/provtrace/internal/trace"
)

// DefaultOutputName is the file written when -o names a directory.
const DefaultOutputName = "filex.json"

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string // output file, or directory for DefaultOutputName
	OutDir  string // one <trace>.json per trace
	Jobs    int
	Archive string // graph archive database
	Command string // command line recorded in the archive
	Stats   bool
}

// TraceSummary describes one compiled trace.
type TraceSummary struct {
	Trace    string          `json:"trace"`
	Output   string          `json:"output,omitempty"`
	Digest   string          `json:"digest"`
	Counts   prov.Counts     `json:"counts"`
	Skipped  int             `json:"skipped"`
	Stats    *compiler.Stats `json:"stats,omitempty"`
	Archived *bool           `json:"archived,omitempty"` // true if newly stored
	Document json.RawMessage `json:"document,omitempty"`
}

// CompileResult is the JSON payload of the compile command.
type CompileResult struct {
	Traces []TraceSummary `json:"traces"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <trace>...",
		Short: "Compile trace stores to PROV-JSON",
		Long: `Compile one or more LevelDB trace stores to PROV-JSON.

A trace may be named by its store directory or by the tracer's log name;
"<log>_db" is found automatically. With a single trace and no -o the
graph is written to stdout. Several traces need --out-dir, which receives
one <trace>.json per trace; they are compiled concurrently (--jobs).

Exit codes:
  0 - All traces compiled
  1 - A trace could not be compiled
  2 - Command error (flags, config, output, archive)

Examples:
  provtrace compile run.log
  provtrace compile run.log -o out/
  provtrace compile a.log b.log --out-dir graphs --jobs 4
  provtrace compile run.log -o run.json --archive graphs.db --command "make all"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file, or directory to write "+DefaultOutputName+" into")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", "", "directory receiving one <trace>.json per trace")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "traces compiled concurrently")
	cmd.Flags().StringVar(&opts.Archive, "archive", "", "store compiled graphs in this archive database")
	cmd.Flags().StringVar(&opts.Command, "command", "", "traced command line to record in the archive")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "report skip counters")

	return cmd
}

// fileWriteError marks output failures apart from compilation failures.
type fileWriteError struct {
	path string
	err  error
}

func (e *fileWriteError) Error() string { return fmt.Sprintf("write %s: %v", e.path, e.err) }
func (e *fileWriteError) Unwrap() error { return e.err }

func runCompile(ctx context.Context, opts *CompileOptions, traces []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.newFormatter(cmd)

	dests, err := compileDestinations(opts, traces)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	// Workers log only through logger; its handler serializes writes.
	logger := opts.newLogger(formatter.GetErrWriter())
	c, err := compiler.New(cfg, compiler.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "creating output directory", err)
		}
	}

	results := make([]*compiler.Result, len(traces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Jobs)
	for i, path := range traces {
		g.Go(func() error {
			logger.Info("compiling trace", "trace", path)
			res, err := c.CompilePath(gctx, path)
			if err != nil {
				return err
			}
			if dests[i] != "" {
				if err := writeDocument(dests[i], res.Document); err != nil {
					return err
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return compileFailure(formatter, err)
	}

	summaries := make([]TraceSummary, len(traces))
	for i, res := range results {
		digest, err := res.Document.Digest()
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeInconsistent, "hashing graph", err)
		}
		summaries[i] = TraceSummary{
			Trace:   traces[i],
			Output:  dests[i],
			Digest:  digest,
			Counts:  res.Document.Counts(),
			Skipped: res.Stats.Skipped(),
		}
		if opts.Stats {
			stats := res.Stats
			summaries[i].Stats = &stats
		}
	}

	if opts.Archive != "" {
		if err := archiveResults(ctx, opts, traces, results, summaries); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeArchive, "archiving graphs", err)
		}
	}

	toStdout := len(traces) == 1 && dests[0] == ""
	if formatter.Format == "json" {
		if toStdout {
			data, err := results[0].Document.MarshalCanonical()
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeInconsistent, "rendering graph", err)
			}
			summaries[0].Document = data
		}
		return formatter.Success(CompileResult{Traces: summaries})
	}

	if toStdout {
		data, err := results[0].Document.MarshalIndent("  ")
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeInconsistent, "rendering graph", err)
		}
		if _, err := formatter.Writer.Write(data); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "writing graph", err)
		}
		// Keep stdout a pure document.
		outputCompileText(formatter.GetErrWriter(), summaries, opts.Stats, opts.Verbose)
		return nil
	}

	outputCompileText(formatter.Writer, summaries, opts.Stats, true)
	return nil
}

// compileDestinations returns the output file per trace ("" = stdout).
func compileDestinations(opts *CompileOptions, traces []string) ([]string, error) {
	if opts.Jobs < 1 {
		return nil, fmt.Errorf("--jobs must be at least 1, got %d", opts.Jobs)
	}
	if opts.Output != "" && opts.OutDir != "" {
		return nil, errors.New("-o and --out-dir are mutually exclusive")
	}
	if len(traces) > 1 && opts.OutDir == "" {
		return nil, fmt.Errorf("compiling %d traces requires --out-dir", len(traces))
	}

	dests := make([]string, len(traces))
	switch {
	case opts.OutDir != "":
		seen := make(map[string]string, len(traces))
		for i, path := range traces {
			dest := filepath.Join(opts.OutDir, traceBaseName(path)+".json")
			if prev, ok := seen[dest]; ok {
				return nil, fmt.Errorf("traces %s and %s would both write %s", prev, path, dest)
			}
			seen[dest] = path
			dests[i] = dest
		}
	case opts.Output != "":
		if info, err := os.Stat(opts.Output); err == nil && info.IsDir() {
			dests[0] = filepath.Join(opts.Output, DefaultOutputName)
		} else {
			dests[0] = opts.Output
		}
	}
	return dests, nil
}

// traceBaseName names a trace's output file: the store directory's base
// name without the tracer's "_db" suffix.
func traceBaseName(path string) string {
	base := strings.TrimSuffix(filepath.Base(filepath.Clean(path)), trace.DirSuffix)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "trace"
	}
	return base
}

// writeDocument writes doc as indented, key-sorted JSON.
func writeDocument(path string, doc *prov.Document) error {
	data, err := doc.MarshalIndent("  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &fileWriteError{path: path, err: err}
	}
	return nil
}

// archiveResults stores every graph in trace order, so archive sequence
// numbers follow the command line rather than completion order.
func archiveResults(ctx context.Context, opts *CompileOptions, traces []string, results []*compiler.Result, summaries []TraceSummary) error {
	st, err := store.Open(opts.Archive)
	if err != nil {
		return err
	}
	defer st.Close()

	for i, res := range results {
		tracePath := traces[i]
		if resolved, err := trace.ResolvePath(tracePath); err == nil {
			tracePath = resolved
		}
		if abs, err := filepath.Abs(tracePath); err == nil {
			tracePath = abs
		}

		_, inserted, err := st.SaveGraph(ctx, res.Document, store.Meta{
			TracePath: tracePath,
			Command:   opts.Command,
			Stats:     res.Stats.Map(),
		})
		if err != nil {
			return fmt.Errorf("%s: %w", traces[i], err)
		}
		summaries[i].Archived = &inserted
	}
	return nil
}

// compileFailure maps a compilation error to an error code and exit code.
func compileFailure(formatter *OutputFormatter, err error) error {
	var writeErr *fileWriteError
	if errors.As(err, &writeErr) {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "writing graph", err)
	}

	var ce *compiler.Error
	if errors.As(err, &ce) {
		switch {
		case compiler.IsStoreUnavailable(err):
			return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("trace store unavailable: %s", ce.Path), err)
		case compiler.IsCanceled(err):
			return formatter.Fail(ExitFailure, ErrCodeCanceled, "compilation canceled", err)
		case ce.Code == compiler.ErrCodeScanFailed:
			return formatter.Fail(ExitFailure, ErrCodeScanFailed, fmt.Sprintf("reading trace %s", ce.Path), err)
		case ce.Code == compiler.ErrCodeInconsistent:
			return formatter.Fail(ExitFailure, ErrCodeInconsistent, "assembled graph failed validation", err)
		}
	}
	return formatter.Fail(ExitFailure, ErrCodeGeneric, "compilation failed", err)
}

// outputCompileText prints one line per trace. Skip counters follow when
// withStats is set; the summary lines themselves only when show is set.
func outputCompileText(w io.Writer, summaries []TraceSummary, withStats, show bool) {
	for _, s := range summaries {
		if show {
			target := s.Output
			if target == "" {
				target = "stdout"
			}
			fmt.Fprintf(w, "✓ %s -> %s: %d activities, %d entities, %d relations, %d skipped\n",
				s.Trace, target, s.Counts.Activities, s.Counts.Entities, s.Counts.Relations(), s.Skipped)
			if s.Archived != nil {
				state := "already archived"
				if *s.Archived {
					state = "archived"
				}
				fmt.Fprintf(w, "  %s %s\n", state, shortDigest(s.Digest))
			}
		}
		if withStats && s.Stats != nil {
			stats := s.Stats.Map()
			names := make([]string, 0, len(stats))
			for name := range stats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %-22s %d\n", name+":", stats[name])
			}
		}
	}
}

// shortDigest abbreviates a digest for display.
func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
