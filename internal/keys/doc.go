// Package keys implements the dotted-segment key grammar written by the
// process tracer into its LevelDB store.
//
// Three key families are understood:
//
//	pid.<pid>.<start_ts>                                 process record (value: display name)
//	prv.pid.<pid>.<start_ts>.<attr>[...]                 per-process attributes (path, iexit, exec.<ts>, ...)
//	prv.iopid.<pid>.<start_ts>.<code>.<event_ts>[.fd]    file access event (value: path)
//
// Parse classifies a raw key exactly once into a tagged union. Downstream
// code type-switches on the result instead of re-splitting strings.
//
// A process instance is identified by (pid, start_ts), never by pid alone:
// the kernel recycles pids during long traced runs.
package keys
