// Package rules defines the per-column de-identification rules and the
// ordered rule set that drives the anonymizer.
package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/inferloop/deident/pkg/errors"
)

// Kind names a rule variant as it appears in rule files.
type Kind string

const (
	KindRemove        Kind = "remove"
	KindDeriveBinned  Kind = "derive_binned"
	KindGeneralizeBin Kind = "generalize_bin"
	KindGeneralizeMap Kind = "generalize_map"
	KindQIExact       Kind = "qi_exact"
	KindSensitive     Kind = "sensitive"
)

// Rule is a closed set of variants; only types in this package implement it.
type Rule interface {
	Kind() Kind
	isRule()
}

// Remove drops the column.
type Remove struct{}

// DeriveBinned computes the whole-day duration between two date columns and
// buckets it. Rows that cannot be bucketed take Default.
type DeriveBinned struct {
	From     string
	To       string
	Bins     Bins
	Default  string
	DayFirst bool
}

// GeneralizeBin buckets a numeric column. Non-numeric or out-of-range cells
// become undefined.
type GeneralizeBin struct {
	Bins Bins
}

// GeneralizeMap replaces each value through Mapping, using Default for
// unmapped or undefined cells.
type GeneralizeMap struct {
	Mapping map[string]string
	Default string
}

// QIExact passes the column through as a quasi-identifier.
type QIExact struct{}

// Sensitive passes the column through as a sensitive attribute.
type Sensitive struct{}

func (Remove) Kind() Kind        { return KindRemove }
func (DeriveBinned) Kind() Kind  { return KindDeriveBinned }
func (GeneralizeBin) Kind() Kind { return KindGeneralizeBin }
func (GeneralizeMap) Kind() Kind { return KindGeneralizeMap }
func (QIExact) Kind() Kind       { return KindQIExact }
func (Sensitive) Kind() Kind     { return KindSensitive }

func (Remove) isRule()        {}
func (DeriveBinned) isRule()  {}
func (GeneralizeBin) isRule() {}
func (GeneralizeMap) isRule() {}
func (QIExact) isRule()       {}
func (Sensitive) isRule()     {}

// ColumnRule binds a rule to the column it produces or transforms.
type ColumnRule struct {
	Column string
	Rule   Rule
}

// RuleSet is an ordered, immutable list of column rules.
type RuleSet struct {
	rules []ColumnRule
}

// NewRuleSet validates rules and returns them as a RuleSet.
func NewRuleSet(rules []ColumnRule) (*RuleSet, error) {
	rs := &RuleSet{rules: append([]ColumnRule(nil), rules...)}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Rules returns a copy of the rules in declaration order.
func (rs *RuleSet) Rules() []ColumnRule {
	return append([]ColumnRule(nil), rs.rules...)
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Lookup returns the rule bound to column.
func (rs *RuleSet) Lookup(column string) (Rule, bool) {
	for _, cr := range rs.rules {
		if cr.Column == column {
			return cr.Rule, true
		}
	}
	return nil, false
}

// Derived returns the derive_binned rules in declaration order.
func (rs *RuleSet) Derived() []ColumnRule {
	var out []ColumnRule
	for _, cr := range rs.rules {
		if _, ok := cr.Rule.(DeriveBinned); ok {
			out = append(out, cr)
		}
	}
	return out
}

// Classify returns the columns the rule engine would emit as quasi-identifiers
// and as sensitive attributes, in output order: derived columns first, then
// the remaining QI and sensitive rules as declared.
func (rs *RuleSet) Classify() (qi, sensitive []string) {
	for _, cr := range rs.Derived() {
		qi = append(qi, cr.Column)
	}
	for _, cr := range rs.rules {
		switch cr.Rule.(type) {
		case GeneralizeBin, GeneralizeMap, QIExact:
			qi = append(qi, cr.Column)
		case Sensitive:
			sensitive = append(sensitive, cr.Column)
		}
	}
	return qi, sensitive
}

// Validate checks every rule and reports all problems at once.
func (rs *RuleSet) Validate() error {
	verrs := errors.NewValidationErrors()
	seen := make(map[string]struct{}, len(rs.rules))

	for i, cr := range rs.rules {
		field := fmt.Sprintf("rules[%d]", i)
		if cr.Column == "" {
			verrs.Add(field, errors.CodeMissingField, "column name is required", nil)
		} else {
			field = fmt.Sprintf("rules[%d](%s)", i, cr.Column)
			if _, dup := seen[cr.Column]; dup {
				verrs.Add(field, errors.CodeDuplicateColumn, "column has more than one rule", cr.Column)
			}
			seen[cr.Column] = struct{}{}
		}

		switch r := cr.Rule.(type) {
		case Remove, QIExact, Sensitive:
		case DeriveBinned:
			if r.From == "" || r.To == "" {
				verrs.Add(field, errors.CodeMissingField, "derive_binned needs both source columns", nil)
			}
			if r.Default == "" {
				verrs.Add(field, errors.CodeMissingDefault, "derive_binned needs a non-empty default label", nil)
			}
			if err := r.Bins.Validate(); err != nil {
				verrs.Add(field, errors.CodeInvalidBins, err.Error(), r.Bins.Edges)
			}
		case GeneralizeBin:
			if err := r.Bins.Validate(); err != nil {
				verrs.Add(field, errors.CodeInvalidBins, err.Error(), r.Bins.Edges)
			}
		case GeneralizeMap:
			if r.Default == "" {
				verrs.Add(field, errors.CodeMissingDefault, "generalize_map needs a non-empty default label", nil)
			}
		case nil:
			verrs.Add(field, errors.CodeInvalidRule, "rule is missing", nil)
		default:
			verrs.Add(field, errors.CodeUnknownRuleType, fmt.Sprintf("unhandled rule %T", r), nil)
		}
	}

	return verrs.ErrorOrNil()
}

// Bins are right-open intervals [Edges[i], Edges[i+1]) labelled Labels[i].
// The last edge may be +Inf.
type Bins struct {
	Edges  []float64
	Labels []string
}

// Validate checks edge ordering and label count.
func (b Bins) Validate() error {
	if len(b.Edges) < 2 {
		return fmt.Errorf("%w: need at least two edges, got %d", errors.ErrInvalidBins, len(b.Edges))
	}
	for i, e := range b.Edges {
		if math.IsNaN(e) {
			return fmt.Errorf("%w: edge %d is NaN", errors.ErrInvalidBins, i)
		}
		if i > 0 && e <= b.Edges[i-1] {
			return fmt.Errorf("%w: edges must be strictly ascending (%v <= %v at %d)", errors.ErrInvalidBins, e, b.Edges[i-1], i)
		}
	}
	if math.IsInf(b.Edges[0], 1) {
		return fmt.Errorf("%w: first edge cannot be +Inf", errors.ErrInvalidBins)
	}
	if len(b.Labels) != len(b.Edges)-1 {
		return fmt.Errorf("%w: %d edges need %d labels, got %d", errors.ErrInvalidBins, len(b.Edges), len(b.Edges)-1, len(b.Labels))
	}
	return nil
}

// Label returns the label of the interval containing x. A value equal to an
// edge falls into the interval that starts at that edge.
func (b Bins) Label(x float64) (string, bool) {
	if math.IsNaN(x) || len(b.Edges) < 2 {
		return "", false
	}
	// first edge strictly greater than x
	idx := sort.Search(len(b.Edges), func(i int) bool { return b.Edges[i] > x })
	if idx == 0 || idx == len(b.Edges) {
		return "", false
	}
	return b.Labels[idx-1], true
}
