// Package metrics measures residual re-identification risk of a dataset.
package metrics

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/deident/internal/privacy"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// RiskMetrics describes the QI grouping of one dataset. It carries no
// pass/fail judgement.
type RiskMetrics struct {
	Name            string  `json:"name"`
	Records         int     `json:"records"`
	Groups          int     `json:"groups"`
	MinK            int     `json:"min_k"`
	MinL            int     `json:"min_l"`
	UniqueGroups    int     `json:"unique_groups"` // groups of size exactly 1
	RiskPercent     float64 `json:"risk_percent"`  // share of records in a size-1 group
	MeanGroupSize   float64 `json:"mean_group_size"`
	GroupSizeStdDev float64 `json:"group_size_std_dev"`
}

// Comparison puts an original dataset's metrics next to its anonymized output.
type Comparison struct {
	Original   *RiskMetrics `json:"original"`
	Anonymized *RiskMetrics `json:"anonymized"`
	// RiskReduction is the drop in risk, in percentage points.
	RiskReduction float64 `json:"risk_reduction"`
}

// Evaluate groups ds by the qi columns and measures the distinct values of
// sensitive per group. An empty dataset yields zero metrics.
func Evaluate(name string, ds *models.Dataset, qi []string, sensitive string) (*RiskMetrics, error) {
	required := append(append([]string(nil), qi...), sensitive)
	if missing := privacy.MissingColumns(ds, required); len(missing) > 0 {
		return nil, errors.WrapError(errors.ErrMissingColumn, errors.ErrorTypeValidation, errors.CodeMissingColumn,
			fmt.Sprintf("cannot evaluate %s", name)).WithDetails(strings.Join(missing, ", "))
	}

	m := &RiskMetrics{Name: name, Records: ds.Len()}
	if ds.Len() == 0 {
		return m, nil
	}

	grouping, err := privacy.GroupBy(ds, qi)
	if err != nil {
		return nil, err
	}
	diversity, err := grouping.Diversity(ds, sensitive)
	if err != nil {
		return nil, err
	}

	sizes := make([]float64, grouping.Len())
	for i, c := range grouping.Classes {
		sizes[i] = float64(c.Size)
	}

	m.Groups = grouping.Len()
	m.MinK = int(floats.Min(sizes))
	m.MinL = privacy.MinDistinct(diversity)
	m.UniqueGroups = grouping.CountSize(1)
	m.RiskPercent = float64(m.UniqueGroups) / float64(m.Records) * 100
	m.MeanGroupSize, m.GroupSizeStdDev = stat.MeanStdDev(sizes, nil)
	if len(sizes) == 1 {
		m.GroupSizeStdDev = 0
	}

	return m, nil
}

// Compare evaluates both datasets on the same QI set.
func Compare(original, anonymized *models.Dataset, qi []string, sensitive string) (*Comparison, error) {
	before, err := Evaluate("original", original, qi, sensitive)
	if err != nil {
		return nil, err
	}
	after, err := Evaluate("anonymized", anonymized, qi, sensitive)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		Original:      before,
		Anonymized:    after,
		RiskReduction: before.RiskPercent - after.RiskPercent,
	}, nil
}
