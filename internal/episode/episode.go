// Package episode collapses the tracer's I/O-event keys into access episodes.
//
// The tracer records several events for a single logical open of a file:
// the open itself, reads or writes, and .fd aliases of the same event.
// An episode is identified by (path, five-segment key prefix); only its
// first event in key order is kept.
package episode

import (
	"sort"

	"github.com/roach88/provtrace/internal/keys"
	"github.com/roach88/provtrace/internal/pathfilter"
)

// Event is one I/O-event record: its parsed key and the path it touched.
type Event struct {
	Key  keys.IOKey
	Path string
}

// Classifier decides whether a path is significant. *pathfilter.Filter
// implements it.
type Classifier interface {
	Classify(path string) pathfilter.Verdict
}

// Stats counts discarded events by reason.
type Stats struct {
	Aliases     int // trailing .fd
	Denied      int // deny-list match
	FontCache   int
	Undecodable int
	Duplicates  int // same path and episode prefix as a retained event
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Aliases += other.Aliases
	s.Denied += other.Denied
	s.FontCache += other.FontCache
	s.Undecodable += other.Undecodable
	s.Duplicates += other.Duplicates
}

// Set is the deduplicated output: one representative event per episode.
type Set struct {
	episodes []Event
	paths    []string
	byPath   map[string][]Event
	Stats    Stats
}

type episodeID struct {
	path   string
	prefix string
}

// Deduplicate filters and collapses events.
//
// Events are processed in raw-key order regardless of input order, so the
// same events always yield the same representatives.
func Deduplicate(events []Event, filter Classifier) *Set {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Key.Raw != sorted[j].Key.Raw {
			return sorted[i].Key.Raw < sorted[j].Key.Raw
		}
		return sorted[i].Path < sorted[j].Path
	})

	set := &Set{byPath: make(map[string][]Event)}
	seen := make(map[episodeID]bool)

	for _, ev := range sorted {
		if ev.Key.Alias {
			set.Stats.Aliases++
			continue
		}

		switch filter.Classify(ev.Path) {
		case pathfilter.Denied:
			set.Stats.Denied++
			continue
		case pathfilter.FontCache:
			set.Stats.FontCache++
			continue
		case pathfilter.Undecodable:
			set.Stats.Undecodable++
			continue
		}

		id := episodeID{path: ev.Path, prefix: ev.Key.EpisodePrefix()}
		if seen[id] {
			set.Stats.Duplicates++
			continue
		}
		seen[id] = true

		if _, ok := set.byPath[ev.Path]; !ok {
			set.paths = append(set.paths, ev.Path)
		}
		set.byPath[ev.Path] = append(set.byPath[ev.Path], ev)
		set.episodes = append(set.episodes, ev)
	}

	return set
}

// Len returns the number of retained episodes.
func (s *Set) Len() int {
	return len(s.episodes)
}

// Episodes returns retained events in key order.
func (s *Set) Episodes() []Event {
	return append([]Event(nil), s.episodes...)
}

// Paths returns the retained paths in first-seen order.
func (s *Set) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Path returns the retained events for path in key order.
func (s *Set) Path(path string) []Event {
	return append([]Event(nil), s.byPath[path]...)
}

// ByPath returns path -> representative keys, one per episode, in key order.
func (s *Set) ByPath() map[string][]keys.IOKey {
	out := make(map[string][]keys.IOKey, len(s.byPath))
	for path, evs := range s.byPath {
		ks := make([]keys.IOKey, len(evs))
		for i, ev := range evs {
			ks[i] = ev.Key
		}
		out[path] = ks
	}
	return out
}
