package prov

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Builder assembles a Document. Identifiers are handed out per kind in
// call order, starting at 0. A Builder is not safe for concurrent use;
// each compilation owns one.
type Builder struct {
	namespace    string
	namespaceURI string
	version      string

	nextActivity  int
	nextEntity    int
	nextUsed      int
	nextGenerated int
	nextInformed  int

	activities map[string]bool
	entities   map[string]bool

	doc Document
}

// NewBuilder returns a Builder for the given namespace prefix, namespace
// URI and entity version tag. Empty arguments take the package defaults.
func NewBuilder(namespace, namespaceURI, version string) *Builder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if namespaceURI == "" {
		namespaceURI = DefaultNamespaceURI
	}
	if version == "" {
		version = DefaultVersion
	}
	return &Builder{
		namespace:    namespace,
		namespaceURI: namespaceURI,
		version:      version,
		activities:   make(map[string]bool),
		entities:     make(map[string]bool),
		doc: Document{
			Namespace:    namespace,
			NamespaceURI: namespaceURI,
		},
	}
}

// AddActivity records a process. A zero end means the exit was not seen.
func (b *Builder) AddActivity(exePath, label string, start, end time.Time) Activity {
	name := "act" + strconv.Itoa(b.nextActivity)
	b.nextActivity++

	a := Activity{
		ID:    b.qualify(name + "--" + exePath),
		Name:  name,
		Path:  exePath,
		Label: label,
		Start: start.UTC(),
	}
	if !end.IsZero() {
		a.End = end.UTC()
	}

	b.activities[a.ID] = true
	b.doc.Activities = append(b.doc.Activities, a)
	return a
}

// AddEntity records one access episode of path at eventTS (microseconds).
// Colons in the path are replaced in the identifier, which PROV tooling
// would otherwise read as a second namespace separator.
func (b *Builder) AddEntity(path string, eventTS int64) Entity {
	name := "en" + strconv.Itoa(b.nextEntity)
	b.nextEntity++

	e := Entity{
		ID:      b.qualify(name + "--" + strings.ReplaceAll(path, ":", "_")),
		Path:    path,
		Created: FromMicros(eventTS),
		UUID:    EntityUUID(b.namespaceURI, eventTS, path, b.version),
		Version: b.version,
	}

	b.entities[e.ID] = true
	b.doc.Entities = append(b.doc.Entities, e)
	return e
}

// AddUsed links an activity to an entity it read.
func (b *Builder) AddUsed(activityID, entityID string) (Used, error) {
	if err := b.checkAccess("used", activityID, entityID); err != nil {
		return Used{}, err
	}
	u := Used{
		ID:       "_:u" + strconv.Itoa(b.nextUsed),
		Activity: activityID,
		Entity:   entityID,
	}
	b.nextUsed++
	b.doc.Used = append(b.doc.Used, u)
	return u, nil
}

// AddGenerated links an activity to an entity it wrote.
func (b *Builder) AddGenerated(activityID, entityID string) (WasGeneratedBy, error) {
	if err := b.checkAccess("wasGeneratedBy", activityID, entityID); err != nil {
		return WasGeneratedBy{}, err
	}
	g := WasGeneratedBy{
		ID:       "_:wGB" + strconv.Itoa(b.nextGenerated),
		Activity: activityID,
		Entity:   entityID,
	}
	b.nextGenerated++
	b.doc.Generated = append(b.doc.Generated, g)
	return g, nil
}

// AddInformed links a parent activity (informant) to the child it spawned.
func (b *Builder) AddInformed(informantID, informedID string) (WasInformedBy, error) {
	if !b.activities[informantID] {
		return WasInformedBy{}, fmt.Errorf("%w: wasInformedBy informant %q", ErrDanglingReference, informantID)
	}
	if !b.activities[informedID] {
		return WasInformedBy{}, fmt.Errorf("%w: wasInformedBy informed %q", ErrDanglingReference, informedID)
	}
	i := WasInformedBy{
		ID:        "_:Infm" + strconv.Itoa(b.nextInformed),
		Informant: informantID,
		Informed:  informedID,
	}
	b.nextInformed++
	b.doc.Informed = append(b.doc.Informed, i)
	return i, nil
}

// Document returns a copy of the document built so far.
func (b *Builder) Document() *Document {
	doc := b.doc
	doc.Activities = append([]Activity(nil), b.doc.Activities...)
	doc.Entities = append([]Entity(nil), b.doc.Entities...)
	doc.Used = append([]Used(nil), b.doc.Used...)
	doc.Generated = append([]WasGeneratedBy(nil), b.doc.Generated...)
	doc.Informed = append([]WasInformedBy(nil), b.doc.Informed...)
	return &doc
}

func (b *Builder) checkAccess(rel, activityID, entityID string) error {
	if !b.activities[activityID] {
		return fmt.Errorf("%w: %s activity %q", ErrDanglingReference, rel, activityID)
	}
	if !b.entities[entityID] {
		return fmt.Errorf("%w: %s entity %q", ErrDanglingReference, rel, entityID)
	}
	return nil
}

func (b *Builder) qualify(local string) string {
	return b.namespace + ":" + local
}

func formatMicros(us int64) string {
	return strconv.FormatInt(us, 10)
}
