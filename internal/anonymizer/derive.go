package anonymizer

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/rules"
	"github.com/inferloop/deident/pkg/models"
)

// deriveBinned computes rule's duration per row. Rows that fail to parse or
// bucket take the default label and are counted in the returned warning. If a
// source column is absent the whole column takes the default label.
func (e *Engine) deriveBinned(raw *models.Dataset, column string, rule rules.DeriveBinned) ([]models.Value, *Warning) {
	values := make([]models.Value, raw.Len())
	def := models.String(rule.Default)

	from, okFrom := raw.Column(rule.From)
	to, okTo := raw.Column(rule.To)
	if !okFrom || !okTo {
		for i := range values {
			values[i] = def
		}
		return values, &Warning{
			Kind:    WarningDerivationFailed,
			Column:  column,
			Message: fmt.Sprintf("source columns %q/%q not in data; every row set to %q", rule.From, rule.To, rule.Default),
			Rows:    len(values),
		}
	}

	fallback := 0
	for i := range values {
		start, ok1 := parseDate(from[i], rule.DayFirst)
		end, ok2 := parseDate(to[i], rule.DayFirst)
		if !ok1 || !ok2 {
			values[i] = def
			fallback++
			continue
		}
		label, ok := rule.Bins.Label(wholeDays(start, end))
		if !ok {
			values[i] = def
			fallback++
			continue
		}
		values[i] = models.String(label)
	}

	e.logger.WithFields(logrus.Fields{
		"column":   column,
		"rows":     len(values),
		"fallback": fallback,
	}).Debug("Derived column computed")

	if fallback == 0 {
		return values, nil
	}
	return values, &Warning{
		Kind:    WarningDerivationFallback,
		Column:  column,
		Message: fmt.Sprintf("%d of %d rows could not be derived and were set to %q", fallback, len(values), rule.Default),
		Rows:    fallback,
	}
}

// DeriveDurations adds every derived column to raw as an unbinned whole-day
// count, so an original dataset can be measured on the same QI set as its
// anonymized output. Unparseable rows are undefined, and so is the whole
// column when a source column is missing.
func (e *Engine) DeriveDurations(raw *models.Dataset) (*models.Dataset, []Warning, error) {
	out := raw.Clone()
	var warnings []Warning

	for _, cr := range e.rules.Derived() {
		rule := cr.Rule.(rules.DeriveBinned)
		values := make([]models.Value, raw.Len())

		from, okFrom := raw.Column(rule.From)
		to, okTo := raw.Column(rule.To)
		if !okFrom || !okTo {
			warnings = append(warnings, Warning{
				Kind:    WarningDerivationFailed,
				Column:  cr.Column,
				Message: fmt.Sprintf("source columns %q/%q not in data; duration left undefined", rule.From, rule.To),
				Rows:    raw.Len(),
			})
			next, err := out.WithColumn(cr.Column, values)
			if err != nil {
				return nil, nil, err
			}
			out = next
			continue
		}

		for i := range values {
			start, ok1 := parseDate(from[i], rule.DayFirst)
			end, ok2 := parseDate(to[i], rule.DayFirst)
			if !ok1 || !ok2 {
				values[i] = models.Null()
				continue
			}
			values[i] = models.String(strconv.FormatFloat(wholeDays(start, end), 'f', -1, 64))
		}

		next, err := out.WithColumn(cr.Column, values)
		if err != nil {
			return nil, nil, err
		}
		out = next
	}

	return out, warnings, nil
}
