package validation

import (
	"fmt"
	"strings"

	"github.com/inferloop/deident/internal/privacy"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/models"
)

// GroupExample is one offending QI tuple and the statistic that failed for it:
// its size for k-anonymity, its distinct sensitive count for l-diversity.
type GroupExample struct {
	Key   []string `json:"key"`
	Count int      `json:"count"`
}

// ColumnDiversity is the l-diversity outcome for one sensitive column.
type ColumnDiversity struct {
	Column        string         `json:"column"`
	Status        string         `json:"status"`
	MinL          int            `json:"min_l"`
	FailingGroups int            `json:"failing_groups"`
	Examples      []GroupExample `json:"examples,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// PhaseResult is the outcome of one validation phase with its evidence.
type PhaseResult struct {
	Phase         string            `json:"phase"`
	Status        string            `json:"status"`
	Message       string            `json:"message"`
	Offenders     []string          `json:"offenders,omitempty"`
	MinK          int               `json:"min_k,omitempty"`
	Groups        int               `json:"groups,omitempty"`
	FailingGroups int               `json:"failing_groups,omitempty"`
	Examples      []GroupExample    `json:"examples,omitempty"`
	Columns       []ColumnDiversity `json:"columns,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Passed reports whether the phase ran and passed.
func (p PhaseResult) Passed() bool {
	return p.Status == constants.StatusPassed
}

func skippedPhase(phase, reason string) PhaseResult {
	return PhaseResult{Phase: phase, Status: constants.StatusSkipped, Message: reason}
}

// CheckPIIAbsence fails when any forbidden column is present in ds. Offenders
// are reported in the order of the forbidden list.
func CheckPIIAbsence(ds *models.Dataset, forbidden []string) PhaseResult {
	result := PhaseResult{Phase: constants.PhasePIIAbsence}

	for _, col := range forbidden {
		if ds.HasColumn(col) {
			result.Offenders = append(result.Offenders, col)
		}
	}

	if len(result.Offenders) > 0 {
		result.Status = constants.StatusFailed
		result.Message = "direct identifier columns still present: " + strings.Join(result.Offenders, ", ")
		return result
	}

	result.Status = constants.StatusPassed
	result.Message = "no direct identifier columns found"
	return result
}

// CheckKAnonymity fails when a QI column is missing, the dataset has no rows,
// or the smallest QI group holds fewer than k rows.
func CheckKAnonymity(ds *models.Dataset, qi []string, k int) PhaseResult {
	result := PhaseResult{Phase: constants.PhaseKAnonymity}

	if missing := privacy.MissingColumns(ds, qi); len(missing) > 0 {
		result.Status = constants.StatusFailed
		result.Offenders = missing
		result.Message = "required quasi-identifier columns missing: " + strings.Join(missing, ", ")
		return result
	}

	grouping, err := privacy.GroupBy(ds, qi)
	if err != nil {
		result.Status = constants.StatusFailed
		result.Message = err.Error()
		return result
	}
	if grouping.Len() == 0 {
		result.Status = constants.StatusFailed
		result.Message = "no groups found; the dataset is empty or the quasi-identifiers are wrong"
		return result
	}

	result.MinK = grouping.MinSize()
	result.Groups = grouping.Len()

	failing := grouping.Below(k)
	if len(failing) > 0 {
		result.Status = constants.StatusFailed
		result.FailingGroups = len(failing)
		for _, class := range failing {
			if len(result.Examples) == constants.MaxExampleGroups {
				break
			}
			result.Examples = append(result.Examples, GroupExample{Key: class.Key, Count: class.Size})
		}
		result.Message = fmt.Sprintf("%d groups fail k=%d (minimum k found %d)", len(failing), k, result.MinK)
		return result
	}

	result.Status = constants.StatusPassed
	result.Message = fmt.Sprintf("all %d groups meet k=%d (minimum k found %d)", result.Groups, k, result.MinK)
	return result
}

// CheckLDiversity checks every sensitive column independently and passes only
// if all of them do. A sensitive column absent from ds is skipped with a
// warning.
func CheckLDiversity(ds *models.Dataset, qi, sensitive []string, l int) PhaseResult {
	result := PhaseResult{Phase: constants.PhaseLDiversity}

	if missing := privacy.MissingColumns(ds, qi); len(missing) > 0 {
		result.Status = constants.StatusFailed
		result.Offenders = missing
		result.Message = "required quasi-identifier columns missing: " + strings.Join(missing, ", ")
		return result
	}

	grouping, err := privacy.GroupBy(ds, qi)
	if err != nil {
		result.Status = constants.StatusFailed
		result.Message = err.Error()
		return result
	}

	passed := true
	checked := 0
	for _, col := range sensitive {
		if !ds.HasColumn(col) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("sensitive column %q not found; skipped", col))
			continue
		}
		checked++

		cd := checkColumnDiversity(ds, grouping, col, l)
		if cd.Status != constants.StatusPassed {
			passed = false
		}
		result.Columns = append(result.Columns, cd)
	}

	if !passed {
		var failed []string
		for _, cd := range result.Columns {
			if cd.Status != constants.StatusPassed {
				failed = append(failed, cd.Column)
			}
		}
		result.Status = constants.StatusFailed
		result.Message = fmt.Sprintf("l=%d not met for: %s", l, strings.Join(failed, ", "))
		return result
	}

	result.Status = constants.StatusPassed
	result.Message = fmt.Sprintf("%d sensitive columns meet l=%d", checked, l)
	return result
}

func checkColumnDiversity(ds *models.Dataset, grouping *privacy.Grouping, column string, l int) ColumnDiversity {
	cd := ColumnDiversity{Column: column}

	classes, err := grouping.Diversity(ds, column)
	if err != nil {
		cd.Status = constants.StatusFailed
		cd.Message = err.Error()
		return cd
	}
	if len(classes) == 0 {
		cd.Status = constants.StatusFailed
		cd.Message = "could not calculate l-diversity; no groups found"
		return cd
	}

	cd.MinL = privacy.MinDistinct(classes)
	for _, c := range classes {
		if c.Distinct >= l {
			continue
		}
		cd.FailingGroups++
		if len(cd.Examples) < constants.MaxExampleGroups {
			cd.Examples = append(cd.Examples, GroupExample{Key: c.Class.Key, Count: c.Distinct})
		}
	}

	if cd.FailingGroups > 0 {
		cd.Status = constants.StatusFailed
		cd.Message = fmt.Sprintf("%d groups fail l=%d", cd.FailingGroups, l)
		return cd
	}
	cd.Status = constants.StatusPassed
	return cd
}
