package rules

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
)

// File is the on-disk shape of a rule table.
type File struct {
	Name        string     `yaml:"name,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Rules       []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule entry. Which fields apply depends on Type.
type RuleSpec struct {
	Column   string            `yaml:"column"`
	Type     string            `yaml:"type"`
	From     string            `yaml:"from,omitempty"`
	To       string            `yaml:"to,omitempty"`
	Bins     []float64         `yaml:"bins,omitempty"`
	Labels   []string          `yaml:"labels,omitempty"`
	Mapping  map[string]string `yaml:"mapping,omitempty"`
	Default  *string           `yaml:"default,omitempty"`
	DayFirst bool              `yaml:"day_first,omitempty"`
}

// LoadFile reads and validates a YAML rule table.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeConfigLoadFailed,
			"failed to read rule file").WithDetails(path)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a YAML rule table from r.
func Parse(r io.Reader) (*RuleSet, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeConfigLoadFailed,
			"failed to decode rule file")
	}
	return f.RuleSet()
}

// RuleSet converts the decoded specs into a validated RuleSet.
func (f *File) RuleSet() (*RuleSet, error) {
	if len(f.Rules) == 0 {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "rule file declares no rules")
	}

	verrs := errors.NewValidationErrors()
	out := make([]ColumnRule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		rule, err := spec.rule()
		if err != nil {
			verrs.Add(fmt.Sprintf("rules[%d](%s)", i, spec.Column), errors.CodeUnknownRuleType, err.Error(), spec.Type)
			continue
		}
		out = append(out, ColumnRule{Column: spec.Column, Rule: rule})
	}
	if verrs.HasErrors() {
		return nil, verrs
	}
	return NewRuleSet(out)
}

func (s RuleSpec) rule() (Rule, error) {
	switch Kind(s.Type) {
	case KindRemove:
		return Remove{}, nil
	case KindQIExact:
		return QIExact{}, nil
	case KindSensitive:
		return Sensitive{}, nil
	case KindGeneralizeBin:
		return GeneralizeBin{Bins: Bins{Edges: s.Bins, Labels: s.Labels}}, nil
	case KindGeneralizeMap:
		def := constants.DefaultMapFallback
		if s.Default != nil {
			def = *s.Default
		}
		mapping := make(map[string]string, len(s.Mapping))
		for k, v := range s.Mapping {
			mapping[k] = v
		}
		return GeneralizeMap{Mapping: mapping, Default: def}, nil
	case KindDeriveBinned:
		def := ""
		if s.Default != nil {
			def = *s.Default
		}
		return DeriveBinned{
			From:     s.From,
			To:       s.To,
			Bins:     Bins{Edges: s.Bins, Labels: s.Labels},
			Default:  def,
			DayFirst: s.DayFirst,
		}, nil
	case "":
		return nil, fmt.Errorf("rule type is required")
	default:
		return nil, fmt.Errorf("unknown rule type %q", s.Type)
	}
}
