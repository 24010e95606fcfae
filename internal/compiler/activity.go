package compiler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/provtrace/internal/keys"
	"github.com/roach88/provtrace/internal/prov"
	"github.com/roach88/provtrace/internal/trace"
)

// activityIndex holds the resolved activities in resolution order.
type activityIndex struct {
	order []keys.ActivityRef
	byRef map[keys.ActivityRef]prov.Activity
	attrs map[keys.ActivityRef][]string // attribute namespaces per activity
}

func (ix *activityIndex) lookup(ref keys.ActivityRef) (prov.Activity, bool) {
	a, ok := ix.byRef[ref]
	return a, ok
}

// process is a pid.* record awaiting resolution.
type process struct {
	ref   keys.ActivityRef
	label string
	attrs []string
}

// resolveActivities creates one activity per process record that has an
// executable path, then links parents to the children they spawned.
func (c *Compiler) resolveActivities(ctx context.Context, src Source, b *prov.Builder, stats *Stats) (*activityIndex, error) {
	ctx, span := c.tracer.Start(ctx, "resolve_activities")
	defer span.End()

	procs, err := c.scanProcesses(ctx, src, stats)
	if err != nil {
		return nil, failSpan(span, err)
	}

	ix := &activityIndex{
		byRef: make(map[keys.ActivityRef]prov.Activity, len(procs)),
		attrs: make(map[keys.ActivityRef][]string, len(procs)),
	}
	for _, p := range procs {
		if err := checkContext(ctx); err != nil {
			return nil, failSpan(span, err)
		}

		exe, err := c.executablePath(ctx, src, p)
		if err != nil {
			return nil, failSpan(span, err)
		}
		if exe == "" {
			stats.MissingPath++
			c.logger.Debug("activity dropped: no executable path", "process", p.ref.ProcessKey())
			continue
		}

		end, err := c.exitTime(src, p, stats)
		if err != nil {
			return nil, failSpan(span, err)
		}

		act := b.AddActivity(exe, p.label, prov.FromMicros(p.ref.Start), end)
		ix.order = append(ix.order, p.ref)
		ix.byRef[p.ref] = act
		ix.attrs[p.ref] = p.attrs
		stats.Activities++
	}

	for _, ref := range ix.order {
		if err := c.linkChildren(ctx, src, b, ix, ref, stats); err != nil {
			return nil, failSpan(span, err)
		}
	}

	span.SetAttributes(stats.activityAttributes()...)
	span.SetStatus(codes.Ok, "")
	return ix, nil
}

// scanProcesses drains the pid.* family in key order.
func (c *Compiler) scanProcesses(ctx context.Context, src Source, stats *Stats) ([]process, error) {
	it := src.Scan(trace.Prefix(keys.ProcessPrefix))
	defer it.Close()

	var procs []process
	seen := make(map[keys.ActivityRef]bool)
	for it.Next() {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		switch k := keys.Parse(it.Key()).(type) {
		case keys.ProcessKey:
			stats.Processes++
			// pid.0100.5 and pid.100.5 name the same process.
			if seen[k.Ref] {
				stats.DuplicateProcesses++
				c.logger.Debug("duplicate process record", "key", k.Raw)
				continue
			}
			seen[k.Ref] = true
			procs = append(procs, process{ref: k.Ref, label: it.Value(), attrs: k.AttrPrefixes()})
		case keys.Malformed:
			stats.MalformedKeys++
			c.logger.Debug("malformed key", "key", k.Raw, "reason", k.Reason)
		}
	}
	if err := it.Close(); err != nil {
		return nil, newScanError("process records", err)
	}
	return procs, nil
}

// executablePath returns the first path record of p, or "" if there is
// none. The namespace spelled like the process record is searched first.
func (c *Compiler) executablePath(ctx context.Context, src Source, p process) (string, error) {
	for _, prefix := range p.attrs {
		exe, err := c.firstPath(ctx, src, prefix+keys.AttrPath, p.ref)
		if err != nil || exe != "" {
			return exe, err
		}
	}
	return "", nil
}

func (c *Compiler) firstPath(ctx context.Context, src Source, prefix string, ref keys.ActivityRef) (string, error) {
	it := src.Scan(trace.Prefix(prefix))
	defer it.Close()

	for it.Next() {
		if err := checkContext(ctx); err != nil {
			return "", err
		}
		k, ok := keys.Parse(it.Key()).(keys.PathKey)
		if !ok || k.Ref != ref {
			continue
		}
		if v := it.Value(); v != "" {
			return v, nil
		}
	}
	if err := it.Close(); err != nil {
		return "", newScanError("path records", err)
	}
	return "", nil
}

// exitTime returns the recorded end of p, or the zero time.
func (c *Compiler) exitTime(src Source, p process, stats *Stats) (time.Time, error) {
	for _, prefix := range p.attrs {
		key := prefix + keys.AttrExit
		v, err := src.Get(key)
		if errors.Is(err, trace.ErrNotFound) {
			continue
		}
		if err != nil {
			return time.Time{}, newScanError("exit record", err)
		}

		us, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			stats.BadExitTime++
			c.logger.Debug("unparsable exit time", "key", key, "value", v)
			return time.Time{}, nil
		}
		return prov.FromMicros(us), nil
	}
	return time.Time{}, nil
}

// linkChildren emits wasInformedBy for every exec record of ref whose
// child was resolved.
func (c *Compiler) linkChildren(ctx context.Context, src Source, b *prov.Builder, ix *activityIndex, ref keys.ActivityRef, stats *Stats) error {
	parent, _ := ix.lookup(ref)
	for _, prefix := range ix.attrs[ref] {
		if err := c.linkExecRecords(ctx, src, b, ix, parent, prefix+keys.AttrExec+keys.Sep, stats); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) linkExecRecords(ctx context.Context, src Source, b *prov.Builder, ix *activityIndex, parent prov.Activity, prefix string, stats *Stats) error {
	it := src.Scan(trace.Prefix(prefix))
	defer it.Close()

	for it.Next() {
		if err := checkContext(ctx); err != nil {
			return err
		}

		switch k := keys.Parse(it.Key()).(type) {
		case keys.ExecKey:
			childRef, err := keys.ParseActivityRef(strings.TrimSpace(it.Value()))
			if err != nil {
				stats.UnresolvedChildren++
				c.logger.Debug("unparsable exec record", "key", k.Raw, "error", err)
				continue
			}
			child, ok := ix.lookup(childRef)
			if !ok {
				stats.UnresolvedChildren++
				c.logger.Debug("exec child not resolved", "key", k.Raw, "child", childRef.String())
				continue
			}
			if _, err := b.AddInformed(parent.ID, child.ID); err != nil {
				return &Error{Code: ErrCodeInconsistent, Message: "link child activity", Err: err}
			}
			stats.Informed++
		case keys.Malformed:
			stats.MalformedKeys++
			c.logger.Debug("malformed key", "key", k.Raw, "reason", k.Reason)
		}
	}
	if err := it.Close(); err != nil {
		return newScanError("exec records", err)
	}
	return nil
}
