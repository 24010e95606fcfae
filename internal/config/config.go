// Package config loads compiler settings from CUE or YAML files.
//
// A configuration file only lists what it changes; everything else keeps
// the defaults returned by Default. CUE files are unified with the
// embedded #Config schema, so misspelled fields and malformed values are
// rejected with a file position. YAML files are decoded strictly.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/provtrace/internal/pathfilter"
	"github.com/roach88/provtrace/internal/prov"
)

//go:embed schema.cue
var schemaCUE string

// ErrUnsupportedFormat is returned for files that are neither CUE nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config holds every setting that changes compiler output.
type Config struct {
	Namespace     string   `json:"namespace" yaml:"namespace"`
	NamespaceURI  string   `json:"namespace_uri" yaml:"namespace_uri"`
	Version       string   `json:"version" yaml:"version"`
	Encoding      string   `json:"encoding" yaml:"encoding"`
	DenyPrefixes  []string `json:"deny_prefixes" yaml:"deny_prefixes"`
	DenyContains  []string `json:"deny_contains" yaml:"deny_contains"`
	FontCacheDirs []string `json:"font_cache_dirs" yaml:"font_cache_dirs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Namespace:     prov.DefaultNamespace,
		NamespaceURI:  prov.DefaultNamespaceURI,
		Version:       prov.DefaultVersion,
		Encoding:      pathfilter.DefaultEncoding,
		DenyPrefixes:  clone(pathfilter.DefaultDenyPrefixes),
		DenyContains:  clone(pathfilter.DefaultDenyContains),
		FontCacheDirs: clone(pathfilter.DefaultFontCacheDirs),
	}
}

// file mirrors Config with pointers so absent fields can be told apart
// from empty ones.
type file struct {
	Namespace     *string   `json:"namespace,omitempty" yaml:"namespace"`
	NamespaceURI  *string   `json:"namespace_uri,omitempty" yaml:"namespace_uri"`
	Version       *string   `json:"version,omitempty" yaml:"version"`
	Encoding      *string   `json:"encoding,omitempty" yaml:"encoding"`
	DenyPrefixes  *[]string `json:"deny_prefixes,omitempty" yaml:"deny_prefixes"`
	DenyContains  *[]string `json:"deny_contains,omitempty" yaml:"deny_contains"`
	FontCacheDirs *[]string `json:"font_cache_dirs,omitempty" yaml:"font_cache_dirs"`
}

func (f file) apply(c *Config) {
	if f.Namespace != nil {
		c.Namespace = *f.Namespace
	}
	if f.NamespaceURI != nil {
		c.NamespaceURI = *f.NamespaceURI
	}
	if f.Version != nil {
		c.Version = *f.Version
	}
	if f.Encoding != nil {
		c.Encoding = *f.Encoding
	}
	if f.DenyPrefixes != nil {
		c.DenyPrefixes = clone(*f.DenyPrefixes)
	}
	if f.DenyContains != nil {
		c.DenyContains = clone(*f.DenyContains)
	}
	if f.FontCacheDirs != nil {
		c.FontCacheDirs = clone(*f.FontCacheDirs)
	}
}

// Load reads path and overlays it on Default. The format is chosen by
// extension: .cue, .yaml or .yml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return ParseCUE(path, data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Config{}, fmt.Errorf("%w: %q (want .cue, .yaml or .yml)", ErrUnsupportedFormat, ext)
	}
}

// ParseCUE unifies src with the #Config schema and overlays the result on
// Default. filename is used in error positions only.
func ParseCUE(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var f file
	if err := unified.Decode(&f); err != nil {
		return Config{}, formatCUEError(err)
	}

	cfg := Default()
	f.apply(&cfg)
	return cfg, cfg.Validate()
}

// ParseYAML decodes src strictly and overlays it on Default.
func ParseYAML(src []byte) (Config, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	f.apply(&cfg)
	return cfg, cfg.Validate()
}

// Validate checks values the schema cannot express: the namespace URI
// must be absolute and the encoding must be known.
func (c Config) Validate() error {
	if c.Namespace == "" || strings.Contains(c.Namespace, ":") {
		return &Error{Field: "namespace", Message: fmt.Sprintf("invalid namespace prefix %q", c.Namespace)}
	}
	u, err := url.Parse(c.NamespaceURI)
	if err != nil || !u.IsAbs() {
		return &Error{Field: "namespace_uri", Message: fmt.Sprintf("%q is not an absolute URI", c.NamespaceURI)}
	}
	if c.Version == "" {
		return &Error{Field: "version", Message: "must not be empty"}
	}
	if _, err := c.Filter(); err != nil {
		return &Error{Field: "encoding", Message: err.Error()}
	}
	return nil
}

// Filter builds the path filter described by c.
func (c Config) Filter() (*pathfilter.Filter, error) {
	return pathfilter.New(pathfilter.Options{
		DenyPrefixes:  nonNil(c.DenyPrefixes),
		DenyContains:  nonNil(c.DenyContains),
		FontCacheDirs: nonNil(c.FontCacheDirs),
		Encoding:      c.Encoding,
	})
}

// Error is a configuration error, positioned when it came from CUE.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}

func clone(s []string) []string {
	return append([]string{}, s...)
}

// nonNil maps a nil list to an empty one: in a loaded Config every rule
// set is explicit, so nil must not fall back to the filter defaults.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
