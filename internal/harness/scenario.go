package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/provtrace/internal/config"
	"github.com/roach88/provtrace/internal/prov"
)

// Scenario is one trace and the graph expected from it.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario covers.
	Description string `yaml:"description"`

	// Config overrides compiler settings. Absent means defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Records is the trace content. Order is irrelevant; the store sorts.
	Records []Record `yaml:"records"`

	// Expect holds exact counts and selected stats.
	Expect *Expectation `yaml:"expect,omitempty"`

	// Assertions check individual records of the graph.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Record is one raw trace entry.
type Record struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Expectation is checked against the compiled graph and stats.
type Expectation struct {
	Counts *prov.Counts   `yaml:"counts,omitempty"`
	Stats  map[string]int `yaml:"stats,omitempty"`
}

// Assertion checks one fact about the graph.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Path is the executable (activity) or file (entity_count).
	Path string `yaml:"path,omitempty"`

	// Label is the expected activity label (activity, optional).
	Label string `yaml:"label,omitempty"`

	// Count is the expected number of entities (entity_count).
	Count int `yaml:"count,omitempty"`

	// Activity and Entity name the ends of used and generated.
	Activity string `yaml:"activity,omitempty"`
	Entity   string `yaml:"entity,omitempty"`

	// Informant and Informed name the ends of informed.
	Informant string `yaml:"informant,omitempty"`
	Informed  string `yaml:"informed,omitempty"`
}

// Assertion type constants.
const (
	AssertActivity    = "activity"
	AssertEntityCount = "entity_count"
	AssertUsed        = "used"
	AssertGenerated   = "generated"
	AssertInformed    = "informed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// CompilerConfig returns the scenario's compiler settings.
func (s *Scenario) CompilerConfig() (config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	raw, err := yaml.Marshal(&s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	cfg, err := config.ParseYAML(raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}

	seen := make(map[string]bool, len(s.Records))
	for i, r := range s.Records {
		if r.Key == "" {
			return fmt.Errorf("records[%d]: key is required", i)
		}
		if seen[r.Key] {
			return fmt.Errorf("records[%d]: duplicate key %q", i, r.Key)
		}
		seen[r.Key] = true
	}

	if s.Config.Kind != 0 && s.Config.Kind != yaml.MappingNode {
		return fmt.Errorf("config must be a mapping")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertActivity:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for activity", index)
		}
	case AssertEntityCount:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for entity_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for entity_count", index)
		}
	case AssertUsed, AssertGenerated:
		if a.Activity == "" || a.Entity == "" {
			return fmt.Errorf("assertions[%d]: activity and entity are required for %s", index, a.Type)
		}
	case AssertInformed:
		if a.Informant == "" || a.Informed == "" {
			return fmt.Errorf("assertions[%d]: informant and informed are required for informed", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
