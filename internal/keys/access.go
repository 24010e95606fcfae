package keys

import "strconv"

// AccessCode is the tracer's marker for how a file was touched.
type AccessCode int64

const (
	AccessRead      AccessCode = 1
	AccessWrite     AccessCode = 2
	AccessReadWrite AccessCode = 3
)

// AccessKind is the provenance meaning of an access code.
type AccessKind int

const (
	// AccessUnknown covers codes added by newer tracers; they produce no relation.
	AccessUnknown AccessKind = iota
	// AccessUsed maps to a PROV used relation.
	AccessUsed
	// AccessGenerated maps to a PROV wasGeneratedBy relation.
	AccessGenerated
)

// Kind classifies the code. Both write codes count as generation.
func (c AccessCode) Kind() AccessKind {
	switch c {
	case AccessRead:
		return AccessUsed
	case AccessWrite, AccessReadWrite:
		return AccessGenerated
	default:
		return AccessUnknown
	}
}

func (c AccessCode) String() string {
	return strconv.FormatInt(int64(c), 10)
}

func (k AccessKind) String() string {
	switch k {
	case AccessUsed:
		return "used"
	case AccessGenerated:
		return "wasGeneratedBy"
	default:
		return "unknown"
	}
}
