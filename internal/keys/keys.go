package keys

import (
	"fmt"
	"strconv"
	"strings"
)

// Sep separates key segments.
const Sep = "."

// Family and attribute segment names.
const (
	segProcess = "pid"
	segProv    = "prv"
	segIO      = "iopid"

	AttrPath  = "path"
	AttrExit  = "iexit"
	AttrExec  = "exec"
	aliasMark = "fd"
)

// Minimum segment counts per family.
const (
	processSegments = 3 // pid.<pid>.<ts>
	attrSegments    = 5 // prv.pid.<pid>.<ts>.<attr>
	execSegments    = 6 // prv.pid.<pid>.<ts>.exec.<child_ts>
	ioSegments      = 6 // prv.iopid.<pid>.<ts>.<code>.<event_ts>

	// EpisodeSegments is the number of leading segments shared by all
	// events of one access episode: prv.iopid.<pid>.<ts>.<code>.
	EpisodeSegments = 5
)

// Prefixes for whole-family scans.
const (
	ProcessPrefix = segProcess + Sep
	AttrPrefix    = segProv + Sep + segProcess + Sep
	IOPrefix      = segProv + Sep + segIO + Sep
)

// ActivityRef identifies one traced process instance.
type ActivityRef struct {
	PID   int64
	Start int64 // microseconds since epoch
}

// String renders the ref the way the tracer does in exec values: "<pid>.<start>".
func (r ActivityRef) String() string {
	return strconv.FormatInt(r.PID, 10) + Sep + strconv.FormatInt(r.Start, 10)
}

// ProcessKey returns pid.<pid>.<start>.
func (r ActivityRef) ProcessKey() string {
	return ProcessPrefix + r.String()
}

// AttrPrefix returns prv.pid.<pid>.<start>. (trailing separator included).
func (r ActivityRef) AttrPrefix() string {
	return AttrPrefix + r.String() + Sep
}

// PathKey returns prv.pid.<pid>.<start>.path.
func (r ActivityRef) PathKey() string {
	return r.AttrPrefix() + AttrPath
}

// ExitKey returns prv.pid.<pid>.<start>.iexit.
func (r ActivityRef) ExitKey() string {
	return r.AttrPrefix() + AttrExit
}

// ExecPrefix returns prv.pid.<pid>.<start>.exec. for scanning spawn records.
func (r ActivityRef) ExecPrefix() string {
	return r.AttrPrefix() + AttrExec + Sep
}

// IOPrefix returns prv.iopid.<pid>.<start>. for scanning file events.
func (r ActivityRef) IOPrefix() string {
	return IOPrefix + r.String() + Sep
}

// ParseActivityRef parses "<pid>.<start>", the value format of exec records.
func ParseActivityRef(s string) (ActivityRef, error) {
	pid, start, ok := strings.Cut(s, Sep)
	if !ok {
		return ActivityRef{}, fmt.Errorf("activity ref %q: want <pid>.<start_ts>", s)
	}
	return parseRef(pid, start)
}

func parseRef(pid, start string) (ActivityRef, error) {
	p, err := parseNumber("pid", pid)
	if err != nil {
		return ActivityRef{}, err
	}
	ts, err := parseNumber("start_ts", start)
	if err != nil {
		return ActivityRef{}, err
	}
	return ActivityRef{PID: p, Start: ts}, nil
}

func parseNumber(field, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a decimal integer", field, s)
	}
	return n, nil
}

// AttrPrefixes returns the prv.pid.* namespaces that may hold attributes of
// the process: the one spelled as in the raw key, then the canonical one
// when the raw key zero-pads its numbers.
func (k ProcessKey) AttrPrefixes() []string {
	raw := AttrPrefix + strings.TrimPrefix(k.Raw, ProcessPrefix) + Sep
	if canonical := k.Ref.AttrPrefix(); canonical != raw {
		return []string{raw, canonical}
	}
	return []string{raw}
}
