// Package anonymizer applies a rule set to a raw dataset, producing a dataset
// that holds only quasi-identifier and sensitive columns.
package anonymizer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/rules"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// WarningKind classifies a non-fatal problem found while applying rules.
type WarningKind string

const (
	// WarningMissingColumn: a rule targets a column absent from the data; the rule was skipped.
	WarningMissingColumn WarningKind = "missing_column"
	// WarningDerivationFailed: a derived column could not be computed; every row took the default label.
	WarningDerivationFailed WarningKind = "derivation_failed"
	// WarningDerivationFallback: some rows of a derived column took the default label.
	WarningDerivationFallback WarningKind = "derivation_fallback"
)

// Warning is a non-fatal diagnostic surfaced to the caller.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Column  string      `json:"column"`
	Message string      `json:"message"`
	Rows    int         `json:"rows,omitempty"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s [%s]: %s", w.Kind, w.Column, w.Message)
}

// Result is the output of one rule-engine run.
type Result struct {
	Dataset          *models.Dataset `json:"-"`
	QIColumns        []string        `json:"qi_columns"`
	SensitiveColumns []string        `json:"sensitive_columns"`
	Warnings         []Warning       `json:"warnings,omitempty"`
}

// Engine applies a validated rule set. It holds no per-run state, so one
// engine can serve many datasets.
type Engine struct {
	rules  *rules.RuleSet
	logger *logrus.Logger
}

// NewEngine creates a rule engine.
func NewEngine(rs *rules.RuleSet, logger *logrus.Logger) (*Engine, error) {
	if rs == nil {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "rule set is required")
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Engine{
		rules:  rs,
		logger: logger,
	}, nil
}

// Anonymize runs all derive_binned rules against the raw dataset, then every
// other rule in declaration order, and projects the result onto the QI columns
// followed by the sensitive columns.
func (e *Engine) Anonymize(ctx context.Context, raw *models.Dataset) (*Result, error) {
	if raw == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "dataset is required")
	}

	e.logger.WithFields(logrus.Fields{
		"rows":    raw.Len(),
		"columns": len(raw.Columns),
		"rules":   e.rules.Len(),
	}).Info("Applying anonymization rules")

	res := &Result{}
	working := raw.Clone()

	// Phase 1: derived columns, computed from the raw data.
	for _, cr := range e.rules.Derived() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rule := cr.Rule.(rules.DeriveBinned)
		values, warn := e.deriveBinned(raw, cr.Column, rule)
		if warn != nil {
			res.addWarning(e.logger, *warn)
		}
		next, err := working.WithColumn(cr.Column, values)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to add derived column")
		}
		working = next
		res.QIColumns = append(res.QIColumns, cr.Column)
	}

	// Phase 2: everything else, in declaration order.
	for _, cr := range e.rules.Rules() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, derived := cr.Rule.(rules.DeriveBinned); derived {
			continue
		}
		if !working.HasColumn(cr.Column) {
			res.addWarning(e.logger, Warning{
				Kind:    WarningMissingColumn,
				Column:  cr.Column,
				Message: fmt.Sprintf("%s rule skipped: column not in data", cr.Rule.Kind()),
			})
			continue
		}

		var err error
		switch r := cr.Rule.(type) {
		case rules.Remove:
			working = working.DropColumn(cr.Column)
		case rules.GeneralizeBin:
			working, err = transformColumn(working, cr.Column, func(v models.Value) models.Value {
				return generalizeBin(v, r.Bins)
			})
			res.QIColumns = append(res.QIColumns, cr.Column)
		case rules.GeneralizeMap:
			working, err = transformColumn(working, cr.Column, func(v models.Value) models.Value {
				return generalizeMap(v, r.Mapping, r.Default)
			})
			res.QIColumns = append(res.QIColumns, cr.Column)
		case rules.QIExact:
			res.QIColumns = append(res.QIColumns, cr.Column)
		case rules.Sensitive:
			res.SensitiveColumns = append(res.SensitiveColumns, cr.Column)
		default:
			return nil, errors.NewConfigurationError(errors.CodeUnknownRuleType,
				fmt.Sprintf("unhandled rule %T for column %q", r, cr.Column))
		}
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError,
				"failed to transform column").WithDetails(cr.Column)
		}
	}

	final := make([]string, 0, len(res.QIColumns)+len(res.SensitiveColumns))
	final = append(final, res.QIColumns...)
	final = append(final, res.SensitiveColumns...)

	out, err := working.Project(final)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to project output columns")
	}
	res.Dataset = out

	e.logger.WithFields(logrus.Fields{
		"rows":      out.Len(),
		"qi":        len(res.QIColumns),
		"sensitive": len(res.SensitiveColumns),
		"warnings":  len(res.Warnings),
	}).Info("Anonymization complete")

	return res, nil
}

func (r *Result) addWarning(logger *logrus.Logger, w Warning) {
	r.Warnings = append(r.Warnings, w)
	logger.WithFields(logrus.Fields{
		"kind":   w.Kind,
		"column": w.Column,
		"rows":   w.Rows,
	}).Warn(w.Message)
}

func transformColumn(ds *models.Dataset, column string, fn func(models.Value) models.Value) (*models.Dataset, error) {
	values, ok := ds.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingColumn, column)
	}
	for i, v := range values {
		values[i] = fn(v)
	}
	return ds.WithColumn(column, values)
}

// generalizeBin coerces v to a number and buckets it; anything that does not
// bucket is undefined.
func generalizeBin(v models.Value, bins rules.Bins) models.Value {
	x, ok := toNumber(v)
	if !ok {
		return models.Null()
	}
	label, ok := bins.Label(x)
	if !ok {
		return models.Null()
	}
	return models.String(label)
}

func generalizeMap(v models.Value, mapping map[string]string, def string) models.Value {
	if !v.Valid {
		return models.String(def)
	}
	if mapped, ok := mapping[v.Text]; ok {
		return models.String(mapped)
	}
	return models.String(def)
}

func toNumber(v models.Value) (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
	if err != nil {
		return 0, false
	}
	return x, true
}
