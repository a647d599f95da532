package adjudicate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSchema is the per-framework adjudication ruleset, consumed as data.
// The four question-id sets must be disjoint. DefinitePass optionally
// carries a stricter structural schema with a looser baseline nested
// inside it.
type RuleSchema struct {
	Framework     string   `yaml:"framework"`
	MustBeTrue    []string `yaml:"must_be_true"`
	MustBeFalse   []string `yaml:"must_be_false"`
	ShouldBeFalse []string `yaml:"should_be_false"`
	MustBeYesOrNA []string `yaml:"must_be_yes_or_not_applicable"`

	DefinitePass *SchemaNode `yaml:"definite_pass"`
}

// SchemaNode is the structural subset of JSON schema the rulesets use.
type SchemaNode struct {
	Type       string                 `yaml:"type,omitempty"`
	Required   []string               `yaml:"required,omitempty"`
	Properties map[string]*SchemaNode `yaml:"properties,omitempty"`
	AllOf      []*SchemaNode          `yaml:"allOf,omitempty"`
	OneOf      []*SchemaNode          `yaml:"oneOf,omitempty"`
	Enum       []any                  `yaml:"enum,omitempty"`

	// Baseline nests the looser pass/discretionary boundary inside the
	// definite-pass schema.
	Baseline *SchemaNode `yaml:"baseline,omitempty"`
}

// FromYAML parses and validates a ruleset.
func FromYAML(data []byte) (*RuleSchema, error) {
	var rs RuleSchema
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("invalid ruleset yaml: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// FromFile reads a ruleset from the given path.
func FromFile(path string) (*RuleSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the ruleset meets required structure: a framework slug,
// no empty question ids, and pairwise-disjoint rule sets.
func (rs *RuleSchema) Validate() error {
	if rs.Framework == "" {
		return fmt.Errorf("ruleset.framework is required")
	}
	seen := map[string]string{}
	sets := map[string][]string{
		"must_be_true":                  rs.MustBeTrue,
		"must_be_false":                 rs.MustBeFalse,
		"should_be_false":               rs.ShouldBeFalse,
		"must_be_yes_or_not_applicable": rs.MustBeYesOrNA,
	}
	for name, ids := range sets {
		for _, id := range ids {
			if id == "" {
				return fmt.Errorf("ruleset %s contains an empty question id", name)
			}
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("question %s appears in both %s and %s", id, prev, name)
			}
			seen[id] = name
		}
	}
	return nil
}
