// Package harness runs trace scenarios through the compiler.
//
// A scenario is a small execution trace written out as key/value records,
// together with the graph the compiler should build from it. The harness
// loads the records into a fresh in-memory trace store, compiles them and
// checks the result.
//
// # Scenario Format
//
//	name: read_then_write
//	description: "A process reads one file and writes another"
//	config:
//	  namespace: ex
//	records:
//	  - {key: pid.100.1000, value: foo}
//	  - {key: prv.pid.100.1000.path, value: /usr/bin/foo}
//	  - {key: prv.iopid.100.1000.1.2000, value: /home/x/in.txt}
//	expect:
//	  counts: {activities: 1, entities: 1, used: 1}
//	  stats: {io_events: 1}
//	assertions:
//	  - type: activity
//	    path: /usr/bin/foo
//	    label: foo
//	  - type: used
//	    activity: /usr/bin/foo
//	    entity: /home/x/in.txt
//
// config is optional and takes the same fields as a YAML config file.
// Counts in expect are exact; stats only check the counters listed.
//
// # Assertion Types
//
//   - activity: an activity runs the executable at path (and has label, if given)
//   - entity_count: exactly count entities record path
//   - used: activity read an entity of entity
//   - generated: activity wrote an entity of entity
//   - informed: the activity running informant spawned the one running informed
//
// Activities and entities are named by path, not identifier, so scenarios
// stay readable when ordinals shift.
//
// # Golden Files
//
// RunWithGolden compares the canonical graph against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
