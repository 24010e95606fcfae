package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/store"
)

// ArchiveOptions holds flags shared by the archive subcommands.
type ArchiveOptions struct {
	*RootOptions
	DB string
}

// ArchivedGraph is a graph record in JSON output.
type ArchivedGraph struct {
	Digest    string          `json:"digest"`
	Seq       int64           `json:"seq"`
	TracePath string          `json:"trace_path"`
	Command   string          `json:"command,omitempty"`
	Counts    prov.Counts     `json:"counts"`
	Stats     map[string]int  `json:"stats,omitempty"`
	CreatedAt string          `json:"created_at"`
	Document  json.RawMessage `json:"document,omitempty"`
}

// NewArchiveCommand creates the archive command and its subcommands.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage archived graphs",
		Long: `List, show and delete graphs stored with "compile --archive".

Graphs are addressed by content digest; any unique prefix of at least
one hex digit is accepted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the archive database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List archived graphs in archive order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveList(cmd.Context(), opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <digest>",
		Short:         "Print an archived graph",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveShow(cmd.Context(), opts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <digest>",
		Short:         "Remove an archived graph",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveDelete(cmd.Context(), opts, args[0], cmd)
		},
	})

	return cmd
}

func openArchive(opts *ArchiveOptions, formatter *OutputFormatter) (*store.Store, error) {
	if opts.DB == "" {
		return nil, formatter.Fail(ExitCommandError, ErrCodeUsage, "--db is required", nil)
	}
	st, err := store.Open(opts.DB)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeArchive, fmt.Sprintf("opening archive %s", opts.DB), err)
	}
	return st, nil
}

func runArchiveList(ctx context.Context, opts *ArchiveOptions, cmd *cobra.Command) error {
	ctx = orBackground(ctx)
	formatter := opts.newFormatter(cmd)
	st, err := openArchive(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	graphs, err := st.ListGraphs(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArchive, "listing graphs", err)
	}

	if formatter.Format == "json" {
		out := make([]ArchivedGraph, len(graphs))
		for i, g := range graphs {
			out[i] = toArchivedGraph(g)
		}
		return formatter.Success(out)
	}

	if len(graphs) == 0 {
		fmt.Fprintln(formatter.Writer, "No archived graphs.")
		return nil
	}
	for _, g := range graphs {
		fmt.Fprintf(formatter.Writer, "%4d  %s  %s  %d activities, %d entities, %d relations  %s\n",
			g.Seq, shortDigest(g.Digest), g.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			g.Counts.Activities, g.Counts.Entities, g.Counts.Relations(), g.TracePath)
		if g.Command != "" {
			fmt.Fprintf(formatter.Writer, "      $ %s\n", g.Command)
		}
	}
	return nil
}

func runArchiveShow(ctx context.Context, opts *ArchiveOptions, prefix string, cmd *cobra.Command) error {
	ctx = orBackground(ctx)
	formatter := opts.newFormatter(cmd)
	st, err := openArchive(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	digest, err := st.ResolveDigest(ctx, prefix)
	if err != nil {
		return digestFailure(formatter, prefix, err)
	}
	g, err := st.GetGraph(ctx, digest)
	if err != nil {
		return digestFailure(formatter, prefix, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(toArchivedGraph(g))
	}

	// Stored bytes are compact; indent for reading.
	var doc json.RawMessage = g.Document
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArchive, "rendering graph", err)
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return nil
}

func runArchiveDelete(ctx context.Context, opts *ArchiveOptions, prefix string, cmd *cobra.Command) error {
	ctx = orBackground(ctx)
	formatter := opts.newFormatter(cmd)
	st, err := openArchive(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	digest, err := st.ResolveDigest(ctx, prefix)
	if err != nil {
		return digestFailure(formatter, prefix, err)
	}
	if err := st.DeleteGraph(ctx, digest); err != nil {
		return digestFailure(formatter, prefix, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"deleted": digest})
	}
	fmt.Fprintf(formatter.Writer, "Deleted %s\n", digest)
	return nil
}

func digestFailure(formatter *OutputFormatter, prefix string, err error) error {
	switch {
	case errors.Is(err, store.ErrGraphNotFound):
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no archived graph matches %q", prefix), err)
	case errors.Is(err, store.ErrAmbiguousDigest):
		return formatter.Fail(ExitCommandError, ErrCodeAmbiguous, fmt.Sprintf("digest prefix %q is ambiguous", prefix), err)
	case errors.Is(err, store.ErrInvalidDigest):
		return formatter.Fail(ExitCommandError, ErrCodeUsage, fmt.Sprintf("%q is not a hex digest", prefix), err)
	default:
		return formatter.Fail(ExitCommandError, ErrCodeArchive, "reading archive", err)
	}
}

func toArchivedGraph(g store.Graph) ArchivedGraph {
	out := ArchivedGraph{
		Digest:    g.Digest,
		Seq:       g.Seq,
		TracePath: g.TracePath,
		Command:   g.Command,
		Counts:    g.Counts,
		Stats:     g.Stats,
		CreatedAt: g.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
	}
	if len(g.Document) > 0 {
		out.Document = json.RawMessage(g.Document)
	}
	return out
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
