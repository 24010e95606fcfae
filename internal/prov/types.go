package prov

import (
	"time"

	"github.com/google/uuid"
)

// Defaults for the document namespace and entity version tag.
const (
	DefaultNamespace    = "prov"
	DefaultNamespaceURI = "http://example.org"
	DefaultVersion      = "1.0"
)

// TimeLayout is ISO-8601 with microsecond precision. Times are always
// rendered in UTC, so the zone prints as "Z".
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FromMicros converts a tracer timestamp (microseconds since the epoch).
func FromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// EntityUUID derives an entity's UUID from the event timestamp, path and
// version. It is a name-based (version 5, SHA-1) UUID under a namespace
// derived from the document namespace URI, so it is stable across runs.
func EntityUUID(namespaceURI string, eventTS int64, path, version string) string {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespaceURI))
	name := formatMicros(eventTS) + path + version
	return uuid.NewSHA1(ns, []byte(name)).String()
}

// Activity is one traced process instance.
type Activity struct {
	ID    string // qualified id, e.g. prov:act0--/usr/bin/foo
	Name  string // local ordinal name, e.g. act0
	Path  string // executable path
	Label string // display name from the process record; may be empty
	Start time.Time
	End   time.Time // zero when the process exit was not recorded
}

// HasEnd reports whether the end time is known.
func (a Activity) HasEnd() bool {
	return !a.End.IsZero()
}

// Entity is one access episode of a file.
type Entity struct {
	ID      string // qualified id, e.g. prov:en0--/home/x/data.txt
	Path    string
	Created time.Time
	UUID    string
	Version string
}

// Used records that an activity read an entity.
type Used struct {
	ID       string
	Activity string
	Entity   string
}

// WasGeneratedBy records that an activity wrote an entity.
type WasGeneratedBy struct {
	ID       string
	Activity string
	Entity   string
}

// WasInformedBy records that the informant activity spawned the informed one.
type WasInformedBy struct {
	ID        string
	Informant string
	Informed  string
}

// Counts summarizes a document's size per record kind.
type Counts struct {
	Activities int `json:"activities"`
	Entities   int `json:"entities"`
	Used       int `json:"used"`
	Generated  int `json:"wasGeneratedBy"`
	Informed   int `json:"wasInformedBy"`
}

// Relations returns the total number of relations.
func (c Counts) Relations() int {
	return c.Used + c.Generated + c.Informed
}
