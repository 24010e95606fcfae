// Package compiler turns a tracer's LevelDB execution trace into a
// PROV provenance graph.
//
// # Pipeline
//
//  1. Activities: every pid.<pid>.<start_ts> record with an executable
//     path becomes an activity. Exit times come from .iexit records and
//     .exec records link parents to the children they spawned.
//  2. Entities: prv.iopid events are grouped by activity, noise paths are
//     filtered, and events of one access episode collapse to their first
//     key. Each retained episode becomes one entity, related to its
//     activity by used (reads) or wasGeneratedBy (writes).
//
// Every scan is in key order and every group is visited in a fixed
// order, so the same trace always yields byte-identical canonical output.
//
// # Errors
//
// Only an unavailable store, a failing scan and cancellation are errors
// (*Error). Everything the compiler cannot interpret is skipped and
// counted in Stats.
package compiler
