package prov

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/provtrace/internal/canon"
)

// PROV-JSON section names.
const (
	SectionPrefix         = "prefix"
	SectionActivity       = "activity"
	SectionEntity         = "entity"
	SectionUsed           = "used"
	SectionWasGeneratedBy = "wasgeneratedby"
	SectionWasInformedBy  = "wasInformedBy"
)

// Attribute names. These are PROV terms and keep the prov: prefix
// whatever namespace the document uses for its own identifiers.
const (
	attrType         = "prov:type"
	attrLabel        = "prov:label"
	attrStartTime    = "prov:startTime"
	attrEndTime      = "prov:endTime"
	attrCreationTime = "prov:creationTime"
	attrUUID         = "prov:UUID"
	attrVersion      = "prov:version"
	attrActivity     = "prov:activity"
	attrEntity       = "prov:entity"
	attrInformant    = "prov:informant"
	attrInformed     = "prov:informed"

	xsdString = "xsd:string"
)

// ErrDanglingReference is returned by Validate when a relation names a
// record that is not in the document.
var ErrDanglingReference = errors.New("dangling reference")

// Document is a complete provenance graph. Records appear in production
// order; rendering sorts keys, so order only matters for identifiers.
type Document struct {
	Namespace    string
	NamespaceURI string

	Activities []Activity
	Entities   []Entity
	Used       []Used
	Generated  []WasGeneratedBy
	Informed   []WasInformedBy
}

// Counts returns the number of records per kind.
func (d *Document) Counts() Counts {
	return Counts{
		Activities: len(d.Activities),
		Entities:   len(d.Entities),
		Used:       len(d.Used),
		Generated:  len(d.Generated),
		Informed:   len(d.Informed),
	}
}

// Activity returns the activity with the given id.
func (d *Document) Activity(id string) (Activity, bool) {
	for _, a := range d.Activities {
		if a.ID == id {
			return a, true
		}
	}
	return Activity{}, false
}

// EntitiesForPath returns the entities recorded for path, in id order.
func (d *Document) EntitiesForPath(path string) []Entity {
	var out []Entity
	for _, e := range d.Entities {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks identifier uniqueness and that every relation points
// at records present in the document.
func (d *Document) Validate() error {
	activities := make(map[string]bool, len(d.Activities))
	entities := make(map[string]bool, len(d.Entities))
	relations := make(map[string]bool, len(d.Used)+len(d.Generated)+len(d.Informed))

	var errs []error
	unique := func(seen map[string]bool, kind, id string) {
		if seen[id] {
			errs = append(errs, fmt.Errorf("duplicate %s id %q", kind, id))
		}
		seen[id] = true
	}
	ref := func(seen map[string]bool, rel, field, id string) {
		if !seen[id] {
			errs = append(errs, fmt.Errorf("%w: %s %s %q", ErrDanglingReference, rel, field, id))
		}
	}

	for _, a := range d.Activities {
		unique(activities, "activity", a.ID)
	}
	for _, e := range d.Entities {
		unique(entities, "entity", e.ID)
	}
	for _, u := range d.Used {
		unique(relations, "relation", u.ID)
		ref(activities, u.ID, "activity", u.Activity)
		ref(entities, u.ID, "entity", u.Entity)
	}
	for _, g := range d.Generated {
		unique(relations, "relation", g.ID)
		ref(activities, g.ID, "activity", g.Activity)
		ref(entities, g.ID, "entity", g.Entity)
	}
	for _, i := range d.Informed {
		unique(relations, "relation", i.ID)
		ref(activities, i.ID, "informant", i.Informant)
		ref(activities, i.ID, "informed", i.Informed)
	}

	return errors.Join(errs...)
}

// ToCanon renders the document as a PROV-JSON tree. Empty sections are
// omitted; the prefix table is always present.
func (d *Document) ToCanon() canon.Object {
	ns := d.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	uri := d.NamespaceURI
	if uri == "" {
		uri = DefaultNamespaceURI
	}

	out := canon.Object{
		SectionPrefix: canon.Object{ns: canon.String(uri)},
	}

	if len(d.Activities) > 0 {
		section := make(canon.Object, len(d.Activities))
		for _, a := range d.Activities {
			attrs := canon.Object{
				attrType:      typed(a.Name),
				attrStartTime: canon.String(FormatTime(a.Start)),
			}
			if a.HasEnd() {
				attrs[attrEndTime] = canon.String(FormatTime(a.End))
			}
			if strings.TrimSpace(a.Label) != "" {
				attrs[attrLabel] = canon.String(a.Label)
			}
			section[a.ID] = attrs
		}
		out[SectionActivity] = section
	}

	if len(d.Entities) > 0 {
		section := make(canon.Object, len(d.Entities))
		for _, e := range d.Entities {
			section[e.ID] = canon.Object{
				attrCreationTime: typed(FormatTime(e.Created)),
				attrUUID:         typed(e.UUID),
				attrVersion:      typed(e.Version),
			}
		}
		out[SectionEntity] = section
	}

	if len(d.Used) > 0 {
		section := make(canon.Object, len(d.Used))
		for _, u := range d.Used {
			section[u.ID] = canon.Object{
				attrActivity: canon.String(u.Activity),
				attrEntity:   canon.String(u.Entity),
			}
		}
		out[SectionUsed] = section
	}

	if len(d.Generated) > 0 {
		section := make(canon.Object, len(d.Generated))
		for _, g := range d.Generated {
			section[g.ID] = canon.Object{
				attrActivity: canon.String(g.Activity),
				attrEntity:   canon.String(g.Entity),
			}
		}
		out[SectionWasGeneratedBy] = section
	}

	if len(d.Informed) > 0 {
		section := make(canon.Object, len(d.Informed))
		for _, i := range d.Informed {
			section[i.ID] = canon.Object{
				attrInformant: canon.String(i.Informant),
				attrInformed:  canon.String(i.Informed),
			}
		}
		out[SectionWasInformedBy] = section
	}

	return out
}

// typed wraps a literal as {"$": v, "type": "xsd:string"}.
func typed(v string) canon.Object {
	return canon.Object{
		"$":    canon.String(v),
		"type": canon.String(xsdString),
	}
}

// MarshalCanonical returns the RFC 8785 canonical bytes of the document.
func (d *Document) MarshalCanonical() ([]byte, error) {
	data, err := canon.Marshal(d.ToCanon())
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// MarshalIndent returns the document as indented, key-sorted JSON with a
// trailing newline.
func (d *Document) MarshalIndent(indent string) ([]byte, error) {
	data, err := canon.MarshalIndent(d.ToCanon(), indent)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// MarshalJSON implements json.Marshaler with the canonical form.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.MarshalCanonical()
}

// Digest returns the content digest of the canonical form.
func (d *Document) Digest() (string, error) {
	return canon.Digest(canon.DomainGraph, d.ToCanon())
}
