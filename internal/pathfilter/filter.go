// Package pathfilter separates significant file paths from tracer noise.
//
// A traced run touches hundreds of shared libraries, locale tables and
// pseudo-files for every file a user actually cares about. Filter drops
// those by fixed prefix and substring rules, drops font caches, and drops
// paths that are not valid text in the trace's encoding.
//
// Decisions depend on the path alone, so a Filter is safe for concurrent use.
package pathfilter

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Verdict is the outcome of classifying a path.
type Verdict int

const (
	Significant Verdict = iota
	Denied
	FontCache
	Undecodable
)

func (v Verdict) String() string {
	switch v {
	case Significant:
		return "significant"
	case Denied:
		return "denied"
	case FontCache:
		return "font_cache"
	case Undecodable:
		return "undecodable"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// DefaultEncoding is the trace encoding assumed when none is configured.
const DefaultEncoding = "UTF-8"

// Default rule sets.
var (
	// DefaultDenyPrefixes match at the start of the path.
	DefaultDenyPrefixes = []string{"/proc/", "/etc/", "/var/", "/dev/", "/sys/"}

	// DefaultDenyContains match anywhere in the path: shared libraries,
	// shared data, and R's per-user package library.
	DefaultDenyContains = []string{"/lib/", "/usr/share/", "/R/x86_64-pc-linux-gnu-library/"}

	// DefaultFontCacheDirs match anywhere in the path.
	DefaultFontCacheDirs = []string{"/.cache/fontconfig"}
)

// Options configures a Filter. Nil slices select the defaults; empty
// non-nil slices disable a rule set.
type Options struct {
	DenyPrefixes  []string
	DenyContains  []string
	FontCacheDirs []string
	Encoding      string // IANA name, e.g. "UTF-8", "ISO-8859-1"
}

// Filter classifies paths.
type Filter struct {
	denyPrefixes  []string
	denyContains  []string
	fontCacheDirs []string
	enc           encoding.Encoding
	encName       string
}

// New builds a Filter. It fails only for an unknown or unsupported encoding.
func New(opts Options) (*Filter, error) {
	name := opts.Encoding
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("trace encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("trace encoding %q is not supported", name)
	}

	return &Filter{
		denyPrefixes:  orDefault(opts.DenyPrefixes, DefaultDenyPrefixes),
		denyContains:  orDefault(opts.DenyContains, DefaultDenyContains),
		fontCacheDirs: orDefault(opts.FontCacheDirs, DefaultFontCacheDirs),
		enc:           enc,
		encName:       name,
	}, nil
}

// Default returns a Filter with the default rules and UTF-8.
func Default() *Filter {
	f, err := New(Options{})
	if err != nil {
		panic(err) // UTF-8 is always in the IANA index
	}
	return f
}

func orDefault(v, def []string) []string {
	if v == nil {
		return append([]string(nil), def...)
	}
	return append([]string(nil), v...)
}

// Encoding returns the configured encoding name.
func (f *Filter) Encoding() string {
	return f.encName
}

// Classify returns why path is kept or dropped. Deny rules are checked
// first, then font caches, then decodability.
func (f *Filter) Classify(path string) Verdict {
	if f.denied(path) {
		return Denied
	}
	if f.IsFontCache(path) {
		return FontCache
	}
	if !f.Decodable(path) {
		return Undecodable
	}
	return Significant
}

// Significant reports whether path should become a provenance entity.
func (f *Filter) Significant(path string) bool {
	return f.Classify(path) == Significant
}

func (f *Filter) denied(path string) bool {
	for _, p := range f.denyPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, s := range f.denyContains {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}

// IsFontCache reports whether path lies under a font cache directory.
func (f *Filter) IsFontCache(path string) bool {
	for _, dir := range f.fontCacheDirs {
		if strings.Contains(path, dir) {
			return true
		}
	}
	return false
}

// Decodable reports whether path survives a decode/re-encode round trip
// in the trace encoding unchanged. For UTF-8 this rejects invalid byte
// sequences, which the decoder replaces with U+FFFD.
func (f *Filter) Decodable(path string) bool {
	decoded, err := f.enc.NewDecoder().String(path)
	if err != nil {
		return false
	}
	encoded, err := f.enc.NewEncoder().String(decoded)
	if err != nil {
		return false
	}
	return encoded == path
}
