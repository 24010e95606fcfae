package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/roach88/provtrace/internal/config"
	"github.com/roach88/provtrace/internal/pathfilter"
	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/trace"
)

const instrumentationName = "github.com/roach88/provtrace/internal/compiler"

// Source is the read side of a trace store. *trace.Store implements it.
type Source interface {
	Scan(r trace.Range) trace.Iterator
	Get(key string) (string, error)
}

// Result is a compiled graph and the counters collected while building it.
type Result struct {
	Document *prov.Document
	Stats    Stats
}

// Compiler turns trace stores into provenance documents. A Compiler holds
// only configuration; each Compile call owns its own state, so one
// Compiler may serve concurrent compilations.
type Compiler struct {
	cfg    config.Config
	filter *pathfilter.Filter
	logger *slog.Logger
	tracer oteltrace.Tracer
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracerProvider sets the OpenTelemetry provider used for phase spans.
// The default is the global provider.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(c *Compiler) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// New validates cfg and returns a Compiler.
func New(cfg config.Config, opts ...Option) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("compiler config: %w", err)
	}
	filter, err := cfg.Filter()
	if err != nil {
		return nil, fmt.Errorf("compiler config: %w", err)
	}

	c := &Compiler{
		cfg:    cfg,
		filter: filter,
		logger: slog.Default(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CompilePath opens the trace store at path read-only, compiles it and
// closes it. A missing or unopenable store yields an error for which
// IsStoreUnavailable is true, and no result.
func (c *Compiler) CompilePath(ctx context.Context, path string) (*Result, error) {
	st, err := trace.Open(path)
	if err != nil {
		c.logger.Error("trace store unavailable", "path", path, "error", err)
		return nil, newStoreError(path, err)
	}
	defer st.Close()

	res, err := c.Compile(ctx, st)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = st.Path()
		}
		return nil, err
	}
	return res, nil
}

// Compile builds the provenance graph for src.
//
// Phases run one after another, each draining its scans before the next
// begins: activities are resolved from process records, then I/O events
// are grouped per activity, deduplicated into episodes and turned into
// entities and relations. Cancellation discards the partial graph.
func (c *Compiler) Compile(ctx context.Context, src Source) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "compile")
	defer span.End()

	b := prov.NewBuilder(c.cfg.Namespace, c.cfg.NamespaceURI, c.cfg.Version)
	var stats Stats

	acts, err := c.resolveActivities(ctx, src, b, &stats)
	if err != nil {
		return nil, failSpan(span, err)
	}

	if err := c.buildEntities(ctx, src, b, acts, &stats); err != nil {
		return nil, failSpan(span, err)
	}

	doc := b.Document()
	if err := doc.Validate(); err != nil {
		return nil, failSpan(span, &Error{
			Code:    ErrCodeInconsistent,
			Message: "assembled graph failed validation",
			Err:     err,
		})
	}

	counts := doc.Counts()
	span.SetAttributes(append(stats.activityAttributes(), stats.entityAttributes()...)...)
	span.SetStatus(codes.Ok, "")

	c.logger.Info("trace compiled",
		"activities", counts.Activities,
		"entities", counts.Entities,
		"relations", counts.Relations(),
		"skipped", stats.Skipped(),
	)

	return &Result{Document: doc, Stats: stats}, nil
}

// checkContext converts a done context into a cancellation error.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newCanceledError(err)
	}
	return nil
}

func failSpan(span oteltrace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
