package compiler

import (
	"cmp"
	"context"
	"slices"

	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/provtrace/internal/episode"
	"github.com/roach88/provtrace/internal/keys"
	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/trace"
)

// buildEntities scans every I/O event once, groups the events by owning
// activity and turns each group's retained episodes into entities and
// relations. Groups are visited in activity resolution order; events of
// unresolved activities are orphans and produce nothing.
func (c *Compiler) buildEntities(ctx context.Context, src Source, b *prov.Builder, ix *activityIndex, stats *Stats) error {
	ctx, span := c.tracer.Start(ctx, "build_entities")
	defer span.End()

	groups, err := c.scanEvents(ctx, src, stats)
	if err != nil {
		return failSpan(span, err)
	}

	for _, ref := range ix.order {
		if err := checkContext(ctx); err != nil {
			return failSpan(span, err)
		}

		events, ok := groups[ref]
		if !ok {
			continue
		}
		delete(groups, ref)

		act, _ := ix.lookup(ref)
		set := episode.Deduplicate(events, c.filter)
		stats.addEpisodes(set.Stats)

		for _, path := range set.Paths() {
			for _, ev := range set.Path(path) {
				if err := c.emitEpisode(b, act, ev, stats); err != nil {
					return failSpan(span, err)
				}
			}
		}
	}

	c.countOrphans(groups, stats)

	span.SetAttributes(stats.entityAttributes()...)
	span.SetStatus(codes.Ok, "")
	return nil
}

// scanEvents drains the prv.iopid.* family into per-activity groups.
func (c *Compiler) scanEvents(ctx context.Context, src Source, stats *Stats) (map[keys.ActivityRef][]episode.Event, error) {
	it := src.Scan(trace.Prefix(keys.IOPrefix))
	defer it.Close()

	groups := make(map[keys.ActivityRef][]episode.Event)
	for it.Next() {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		switch k := keys.Parse(it.Key()).(type) {
		case keys.IOKey:
			stats.IOEvents++
			groups[k.Ref] = append(groups[k.Ref], episode.Event{Key: k, Path: it.Value()})
		case keys.Malformed:
			stats.MalformedKeys++
			c.logger.Debug("malformed key", "key", k.Raw, "reason", k.Reason)
		}
	}
	if err := it.Close(); err != nil {
		return nil, newScanError("I/O events", err)
	}
	return groups, nil
}

// emitEpisode creates the entity for one retained episode and relates it
// to act according to the access code.
func (c *Compiler) emitEpisode(b *prov.Builder, act prov.Activity, ev episode.Event, stats *Stats) error {
	// The deduplicator already filtered; recheck before anything is
	// written into the graph.
	if c.filter.IsFontCache(ev.Path) {
		stats.FontCachePaths++
		return nil
	}
	if !c.filter.Decodable(ev.Path) {
		stats.UndecodablePaths++
		return nil
	}

	kind := ev.Key.Access.Kind()
	if kind == keys.AccessUnknown {
		stats.UnknownAccessCodes++
		c.logger.Debug("unknown access code", "key", ev.Key.Raw, "code", ev.Key.Access.String())
		return nil
	}

	ent := b.AddEntity(ev.Path, ev.Key.EventTS)
	stats.Entities++

	switch kind {
	case keys.AccessUsed:
		if _, err := b.AddUsed(act.ID, ent.ID); err != nil {
			return &Error{Code: ErrCodeInconsistent, Message: "relate entity", Err: err}
		}
		stats.Used++
	case keys.AccessGenerated:
		if _, err := b.AddGenerated(act.ID, ent.ID); err != nil {
			return &Error{Code: ErrCodeInconsistent, Message: "relate entity", Err: err}
		}
		stats.Generated++
	}
	return nil
}

// countOrphans records events whose activity was never resolved.
func (c *Compiler) countOrphans(groups map[keys.ActivityRef][]episode.Event, stats *Stats) {
	if len(groups) == 0 {
		return
	}

	refs := make([]keys.ActivityRef, 0, len(groups))
	for ref := range groups {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b keys.ActivityRef) int {
		if a.PID != b.PID {
			return cmp.Compare(a.PID, b.PID)
		}
		return cmp.Compare(a.Start, b.Start)
	})

	for _, ref := range refs {
		n := len(groups[ref])
		stats.OrphanEvents += n
		c.logger.Debug("orphan I/O events", "process", ref.ProcessKey(), "events", n)
	}
}
