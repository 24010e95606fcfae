package keys

import (
	"fmt"
	"strings"
)

// Key is a classified trace key. The concrete type is one of ProcessKey,
// PathKey, ExitKey, ExecKey, AttrKey, IOKey or Malformed.
type Key interface {
	// String returns the raw key.
	String() string
	isKey()
}

// ProcessKey is pid.<pid>.<start_ts>.
type ProcessKey struct {
	Raw string
	Ref ActivityRef
}

// PathKey is prv.pid.<pid>.<start_ts>.path; its value is the executable path.
type PathKey struct {
	Raw string
	Ref ActivityRef
}

// ExitKey is prv.pid.<pid>.<start_ts>.iexit; its value is the end timestamp.
type ExitKey struct {
	Raw string
	Ref ActivityRef
}

// ExecKey is prv.pid.<pid>.<start_ts>.exec.<child_start_ts>; its value
// names the spawned child as "<child_pid>.<child_start_ts>".
type ExecKey struct {
	Raw        string
	Ref        ActivityRef
	ChildStart int64
}

// AttrKey is any other prv.pid.<pid>.<start_ts>.<attr> record. The
// compiler ignores these; they are not malformed.
type AttrKey struct {
	Raw  string
	Ref  ActivityRef
	Attr string
}

// IOKey is prv.iopid.<pid>.<start_ts>.<access_code>.<event_ts>[.fd].
type IOKey struct {
	Raw     string
	Ref     ActivityRef
	Access  AccessCode
	EventTS int64 // microseconds since epoch

	// Alias marks a trailing .fd segment: a duplicate view of an event
	// recorded through a file descriptor. Aliases are never retained.
	Alias bool
}

// Malformed is a key that matched no family shape.
type Malformed struct {
	Raw    string
	Reason string
}

func (k ProcessKey) String() string { return k.Raw }
func (k PathKey) String() string    { return k.Raw }
func (k ExitKey) String() string    { return k.Raw }
func (k ExecKey) String() string    { return k.Raw }
func (k AttrKey) String() string    { return k.Raw }
func (k IOKey) String() string      { return k.Raw }
func (k Malformed) String() string  { return k.Raw }

func (ProcessKey) isKey() {}
func (PathKey) isKey()    {}
func (ExitKey) isKey()    {}
func (ExecKey) isKey()    {}
func (AttrKey) isKey()    {}
func (IOKey) isKey()      {}
func (Malformed) isKey()  {}

// Error implements error so a Malformed can be logged or wrapped directly.
func (k Malformed) Error() string {
	return fmt.Sprintf("malformed key %q: %s", k.Raw, k.Reason)
}

// EpisodePrefix returns the first EpisodeSegments segments of the raw key,
// prv.iopid.<pid>.<start_ts>.<access_code>. Events sharing this prefix and
// a path belong to the same access episode.
//
// The truncation assumes the tracer's fixed key arity. Deeper keys from a
// future tracer would be merged into the same episode.
func (k IOKey) EpisodePrefix() string {
	return truncateSegments(k.Raw, EpisodeSegments)
}

func truncateSegments(raw string, n int) string {
	idx := 0
	for i := 0; i < n; i++ {
		next := strings.Index(raw[idx:], Sep)
		if next < 0 {
			return raw
		}
		idx += next + 1
	}
	return raw[:idx-1]
}

// Parse classifies a raw key. It never fails: keys that fit no family
// come back as Malformed with a reason.
func Parse(raw string) Key {
	segs := strings.Split(raw, Sep)
	switch {
	case segs[0] == segProcess:
		return parseProcess(raw, segs)
	case segs[0] == segProv && len(segs) > 1 && segs[1] == segProcess:
		return parseAttr(raw, segs)
	case segs[0] == segProv && len(segs) > 1 && segs[1] == segIO:
		return parseIO(raw, segs)
	default:
		return Malformed{Raw: raw, Reason: "unknown key family"}
	}
}

// ParseProcessKey parses a pid.* key.
func ParseProcessKey(raw string) (ProcessKey, error) {
	switch k := Parse(raw).(type) {
	case ProcessKey:
		return k, nil
	case Malformed:
		return ProcessKey{}, k
	default:
		return ProcessKey{}, Malformed{Raw: raw, Reason: "not a process key"}
	}
}

// ParsePathKey parses a prv.pid.*.path key.
func ParsePathKey(raw string) (PathKey, error) {
	switch k := Parse(raw).(type) {
	case PathKey:
		return k, nil
	case Malformed:
		return PathKey{}, k
	default:
		return PathKey{}, Malformed{Raw: raw, Reason: "not a path key"}
	}
}

// ParseIOKey parses a prv.iopid.* key.
func ParseIOKey(raw string) (IOKey, error) {
	switch k := Parse(raw).(type) {
	case IOKey:
		return k, nil
	case Malformed:
		return IOKey{}, k
	default:
		return IOKey{}, Malformed{Raw: raw, Reason: "not an I/O event key"}
	}
}

func parseProcess(raw string, segs []string) Key {
	if len(segs) != processSegments {
		return Malformed{Raw: raw, Reason: fmt.Sprintf("process key needs %d segments, has %d", processSegments, len(segs))}
	}
	ref, err := parseRef(segs[1], segs[2])
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}
	return ProcessKey{Raw: raw, Ref: ref}
}

func parseAttr(raw string, segs []string) Key {
	if len(segs) < attrSegments {
		return Malformed{Raw: raw, Reason: fmt.Sprintf("process attribute key needs %d segments, has %d", attrSegments, len(segs))}
	}
	ref, err := parseRef(segs[2], segs[3])
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}

	switch attr := segs[4]; attr {
	case AttrPath:
		return PathKey{Raw: raw, Ref: ref}
	case AttrExit:
		return ExitKey{Raw: raw, Ref: ref}
	case AttrExec:
		if len(segs) < execSegments {
			return Malformed{Raw: raw, Reason: "exec key has no child timestamp"}
		}
		child, err := parseNumber("child_start_ts", segs[5])
		if err != nil {
			return Malformed{Raw: raw, Reason: err.Error()}
		}
		return ExecKey{Raw: raw, Ref: ref, ChildStart: child}
	default:
		return AttrKey{Raw: raw, Ref: ref, Attr: attr}
	}
}

func parseIO(raw string, segs []string) Key {
	if len(segs) < ioSegments {
		return Malformed{Raw: raw, Reason: fmt.Sprintf("I/O key needs %d segments, has %d", ioSegments, len(segs))}
	}
	ref, err := parseRef(segs[2], segs[3])
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}
	code, err := parseNumber("access_code", segs[4])
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}
	ts, err := parseNumber("event_ts", segs[5])
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}
	return IOKey{
		Raw:     raw,
		Ref:     ref,
		Access:  AccessCode(code),
		EventTS: ts,
		Alias:   len(segs) > ioSegments && segs[len(segs)-1] == aliasMark,
	}
}
