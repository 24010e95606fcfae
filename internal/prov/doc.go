// Package prov models a W3C-PROV provenance graph and renders it as
// PROV-JSON.
//
// A Document holds activities (traced processes), entities (file access
// episodes) and the relations between them: used, wasGeneratedBy and
// wasInformedBy. Documents are assembled through a Builder, which owns the
// per-kind identifier counters and refuses relations to records it has
// not produced, so a finished Document never holds a dangling reference.
//
// # Identifiers
//
// Record identifiers are qualified with the document namespace and carry
// a per-kind ordinal followed by the path the record describes:
//
//	prov:act0--/usr/bin/python
//	prov:en3--/home/u/out.csv
//
// Relation identifiers are blank nodes: _:u0, _:wGB0, _:Infm0.
//
// # Serialization
//
// ToCanon builds the PROV-JSON tree as a canon.Object; MarshalCanonical
// emits it as RFC 8785 canonical JSON, so two documents with the same
// content always produce the same bytes and the same Digest.
//
// Canonical output is Unicode NFC: every string, record identifiers and
// the paths inside them included, is normalized before it is written. A
// path recorded in decomposed form therefore appears composed in the
// graph, while the entity UUID is derived from the raw path bytes and
// still tells the two spellings apart. Entity.Path keeps the raw bytes.
package prov
