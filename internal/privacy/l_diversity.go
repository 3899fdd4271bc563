package privacy

import (
	"fmt"

	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// DiversityClass pairs an equivalence class with the number of distinct
// values one sensitive column takes inside it.
type DiversityClass struct {
	Class    *EquivalenceClass
	Distinct int
}

// Diversity counts, for every class of g, the distinct canonical values of the
// sensitive column. Undefined cells count as the missing value token. The
// result follows the class order of g.
func (g *Grouping) Diversity(ds *models.Dataset, sensitive string) ([]DiversityClass, error) {
	idx := ds.ColumnIndex(sensitive)
	if idx < 0 {
		return nil, errors.WrapError(errors.ErrMissingColumn, errors.ErrorTypeValidation, errors.CodeMissingColumn,
			fmt.Sprintf("sensitive column %q not in dataset", sensitive))
	}

	out := make([]DiversityClass, len(g.Classes))
	for i, class := range g.Classes {
		seen := make(map[string]struct{})
		for _, r := range class.Rows {
			seen[CanonicalValue(ds.Rows[r][idx])] = struct{}{}
		}
		out[i] = DiversityClass{Class: class, Distinct: len(seen)}
	}
	return out, nil
}

// MinDistinct returns the smallest distinct count, or 0 for no classes.
func MinDistinct(classes []DiversityClass) int {
	if len(classes) == 0 {
		return 0
	}
	min := classes[0].Distinct
	for _, c := range classes[1:] {
		if c.Distinct < min {
			min = c.Distinct
		}
	}
	return min
}
