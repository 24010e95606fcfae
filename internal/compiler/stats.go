package compiler

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/provtrace/internal/episode"
)

// Stats counts what a compilation produced and everything it skipped.
// Skips are informational; a trace with skips still compiles.
type Stats struct {
	// Activity resolution.
	Processes          int `json:"processes"`
	Activities         int `json:"activities"`
	MalformedKeys      int `json:"malformed_keys"`
	DuplicateProcesses int `json:"duplicate_processes"`
	MissingPath        int `json:"missing_path"`
	BadExitTime        int `json:"bad_exit_time"`
	UnresolvedChildren int `json:"unresolved_children"`

	// I/O events.
	IOEvents           int `json:"io_events"`
	AliasEvents        int `json:"alias_events"`
	DeniedPaths        int `json:"denied_paths"`
	FontCachePaths     int `json:"font_cache_paths"`
	UndecodablePaths   int `json:"undecodable_paths"`
	DuplicateEpisodes  int `json:"duplicate_episodes"`
	OrphanEvents       int `json:"orphan_events"`
	UnknownAccessCodes int `json:"unknown_access_codes"`

	// Output.
	Entities  int `json:"entities"`
	Used      int `json:"used"`
	Generated int `json:"was_generated_by"`
	Informed  int `json:"was_informed_by"`
}

func (s *Stats) addEpisodes(es episode.Stats) {
	s.AliasEvents += es.Aliases
	s.DeniedPaths += es.Denied
	s.FontCachePaths += es.FontCache
	s.UndecodablePaths += es.Undecodable
	s.DuplicateEpisodes += es.Duplicates
}

// Skipped returns the total of all skip counters.
func (s Stats) Skipped() int {
	return s.MalformedKeys + s.DuplicateProcesses + s.MissingPath + s.BadExitTime +
		s.UnresolvedChildren + s.AliasEvents + s.DeniedPaths + s.FontCachePaths +
		s.UndecodablePaths + s.DuplicateEpisodes + s.OrphanEvents + s.UnknownAccessCodes
}

// Map returns the counters keyed by their JSON names.
func (s Stats) Map() map[string]int {
	return map[string]int{
		"processes":            s.Processes,
		"activities":           s.Activities,
		"malformed_keys":       s.MalformedKeys,
		"duplicate_processes":  s.DuplicateProcesses,
		"missing_path":         s.MissingPath,
		"bad_exit_time":        s.BadExitTime,
		"unresolved_children":  s.UnresolvedChildren,
		"io_events":            s.IOEvents,
		"alias_events":         s.AliasEvents,
		"denied_paths":         s.DeniedPaths,
		"font_cache_paths":     s.FontCachePaths,
		"undecodable_paths":    s.UndecodablePaths,
		"duplicate_episodes":   s.DuplicateEpisodes,
		"orphan_events":        s.OrphanEvents,
		"unknown_access_codes": s.UnknownAccessCodes,
		"entities":             s.Entities,
		"used":                 s.Used,
		"was_generated_by":     s.Generated,
		"was_informed_by":      s.Informed,
	}
}

func (s Stats) activityAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("provtrace.processes", s.Processes),
		attribute.Int("provtrace.activities", s.Activities),
		attribute.Int("provtrace.missing_path", s.MissingPath),
		attribute.Int("provtrace.bad_exit_time", s.BadExitTime),
		attribute.Int("provtrace.unresolved_children", s.UnresolvedChildren),
		attribute.Int("provtrace.was_informed_by", s.Informed),
	}
}

func (s Stats) entityAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("provtrace.io_events", s.IOEvents),
		attribute.Int("provtrace.alias_events", s.AliasEvents),
		attribute.Int("provtrace.denied_paths", s.DeniedPaths),
		attribute.Int("provtrace.duplicate_episodes", s.DuplicateEpisodes),
		attribute.Int("provtrace.orphan_events", s.OrphanEvents),
		attribute.Int("provtrace.unknown_access_codes", s.UnknownAccessCodes),
		attribute.Int("provtrace.entities", s.Entities),
	}
}
