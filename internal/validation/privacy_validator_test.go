package validation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/tests/helpers"
)

var (
	qi        = []string{"Age", "Gender"}
	sensitive = []string{"Condition", "Medication"}
)

func TestCheckPIIAbsence(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Name", "Age"}, []string{"Alice", "30-64"})

	result := CheckPIIAbsence(ds, []string{"Name", "SSN"})
	assert.Equal(t, constants.StatusFailed, result.Status)
	assert.Equal(t, []string{"Name"}, result.Offenders)

	clean := helpers.NewDataset(t, []string{"Age"}, []string{"30-64"})
	result = CheckPIIAbsence(clean, []string{"Name", "SSN"})
	assert.True(t, result.Passed())
	assert.Empty(t, result.Offenders)
}

func TestCheckKAnonymity(t *testing.T) {
	rows := helpers.RepeatRows([]string{"18-64", "F", "Flu", "A"}, 5)
	rows = append(rows, helpers.RepeatRows([]string{"65+", "M", "Flu", "A"}, 2)...)
	rows = append(rows, []string{"", "M", "Cancer", "B"})
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition", "Medication"}, rows...)

	tests := []struct {
		name     string
		k        int
		status   string
		failing  int
		examples []GroupExample
	}{
		{"passes at k=1", 1, constants.StatusPassed, 0, nil},
		{"fails at k=2", 2, constants.StatusFailed, 1, []GroupExample{
			{Key: []string{constants.MissingValueToken, "M"}, Count: 1},
		}},
		{"fails at k=5", 5, constants.StatusFailed, 2, []GroupExample{
			{Key: []string{"65+", "M"}, Count: 2},
			{Key: []string{constants.MissingValueToken, "M"}, Count: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckKAnonymity(ds, qi, tt.k)
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, 1, result.MinK)
			assert.Equal(t, 3, result.Groups)
			assert.Equal(t, tt.failing, result.FailingGroups)
			assert.Equal(t, tt.examples, result.Examples)
		})
	}
}

func TestCheckKAnonymityDoesNotMergeAmbiguousTuples(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender"},
		[]string{"x\x1fy", "z"},
		[]string{"x", "y\x1fz"},
	)

	result := CheckKAnonymity(ds, qi, 2)
	assert.Equal(t, constants.StatusFailed, result.Status)
	assert.Equal(t, 2, result.Groups)
	assert.Equal(t, 1, result.MinK)
	assert.Equal(t, 2, result.FailingGroups)
}

func TestCheckKAnonymityLimitsExamples(t *testing.T) {
	var rows [][]string
	for _, age := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		rows = append(rows, []string{age, "F"})
	}
	ds := helpers.NewDataset(t, qi, rows...)

	result := CheckKAnonymity(ds, qi, 2)
	assert.Equal(t, constants.StatusFailed, result.Status)
	assert.Equal(t, 7, result.FailingGroups)
	require.Len(t, result.Examples, constants.MaxExampleGroups)
	assert.Equal(t, []string{"a", "F"}, result.Examples[0].Key)
	assert.Equal(t, []string{"e", "F"}, result.Examples[4].Key)
}

func TestCheckKAnonymityEmptyDataset(t *testing.T) {
	ds := helpers.NewDataset(t, qi)

	for _, k := range []int{1, 5, 100} {
		result := CheckKAnonymity(ds, qi, k)
		assert.Equal(t, constants.StatusFailed, result.Status)
		assert.Contains(t, result.Message, "no groups found")
	}
}

func TestCheckKAnonymityMissingQI(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age"}, []string{"18-64"})

	result := CheckKAnonymity(ds, []string{"Age", "Gender", "Zip"}, 1)
	assert.Equal(t, constants.StatusFailed, result.Status)
	assert.Equal(t, []string{"Gender", "Zip"}, result.Offenders)
}

func TestCheckLDiversity(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition", "Medication"},
		[]string{"18-64", "F", "Flu", "A"},
		[]string{"18-64", "F", "Asthma", "A"},
		[]string{"65+", "M", "Flu", "A"},
		[]string{"65+", "M", "", "B"},
	)

	result := CheckLDiversity(ds, qi, sensitive, 2)
	assert.Equal(t, constants.StatusFailed, result.Status)
	require.Len(t, result.Columns, 2)

	condition := result.Columns[0]
	assert.Equal(t, "Condition", condition.Column)
	assert.Equal(t, constants.StatusPassed, condition.Status, "undefined counts as a distinct value")
	assert.Equal(t, 2, condition.MinL)

	medication := result.Columns[1]
	assert.Equal(t, constants.StatusFailed, medication.Status)
	assert.Equal(t, 1, medication.MinL)
	assert.Equal(t, 1, medication.FailingGroups)
	assert.Equal(t, []GroupExample{{Key: []string{"18-64", "F"}, Count: 1}}, medication.Examples)

	result = CheckLDiversity(ds, qi, []string{"Condition"}, 2)
	assert.True(t, result.Passed())
}

func TestCheckLDiversitySkipsMissingSensitive(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"},
		[]string{"18-64", "F", "Flu"},
		[]string{"18-64", "F", "Asthma"},
	)

	result := CheckLDiversity(ds, qi, sensitive, 2)
	assert.True(t, result.Passed())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Medication")
	assert.Len(t, result.Columns, 1)
}

func TestCheckLDiversityEmptyDataset(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"})

	result := CheckLDiversity(ds, qi, []string{"Condition"}, 1)
	assert.Equal(t, constants.StatusFailed, result.Status)
	require.Len(t, result.Columns, 1)
	assert.Contains(t, result.Columns[0].Message, "no groups found")
}

func compliantDataset(t *testing.T) [][]string {
	t.Helper()

	var rows [][]string
	for _, cond := range []string{"Flu", "Asthma", "Cancer", "Flu", "Asthma"} {
		rows = append(rows, []string{"18-64", "F", cond, "A"})
		rows = append(rows, []string{"65+", "M", cond, "B"})
	}
	return rows
}

func TestValidationEngineRunPasses(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition", "Medication"}, compliantDataset(t)...)

	engine := NewValidationEngine(&ValidationEngineConfig{
		TargetK:             5,
		TargetL:             2,
		PIIColumns:          []string{"Name"},
		QuasiIdentifiers:    qi,
		SensitiveAttributes: []string{"Condition"},
		HaltOnFailure:       true,
	}, env.Logger)

	report, err := engine.Run(env.Context, ds)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 10, report.Records)
	require.Len(t, report.Phases, 3)

	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err)

	phase, ok := report.Phase(constants.PhaseKAnonymity)
	require.True(t, ok)
	assert.Equal(t, 5, phase.MinK)
	assert.Equal(t, 2, phase.Groups)
}

func TestValidationEngineHaltsAfterFailure(t *testing.T) {
	rows := compliantDataset(t)
	for i := range rows {
		rows[i] = append(rows[i], "someone")
	}
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition", "Medication", "Name"}, rows...)

	config := &ValidationEngineConfig{
		TargetK:             5,
		TargetL:             2,
		PIIColumns:          []string{"Name", "SSN"},
		QuasiIdentifiers:    qi,
		SensitiveAttributes: []string{"Condition"},
		HaltOnFailure:       true,
	}

	report, err := NewValidationEngine(config, helpers.QuietLogger()).Run(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, constants.StatusFailed, report.Phases[0].Status)
	assert.Equal(t, constants.StatusSkipped, report.Phases[1].Status)
	assert.Equal(t, constants.StatusSkipped, report.Phases[2].Status)

	config.HaltOnFailure = false
	report, err = NewValidationEngine(config, helpers.QuietLogger()).Run(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, constants.StatusFailed, report.Phases[0].Status)
	assert.Equal(t, constants.StatusPassed, report.Phases[1].Status)
	assert.Equal(t, constants.StatusPassed, report.Phases[2].Status)
}

func TestValidationEngineDefaultsPIIList(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"SSN", "Age", "Gender"}, []string{"1", "18-64", "F"})

	engine := NewValidationEngine(&ValidationEngineConfig{TargetK: 1, TargetL: 1, QuasiIdentifiers: qi}, helpers.QuietLogger())
	report, err := engine.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"SSN"}, report.Phases[0].Offenders)
}

func TestValidationEngineRejectsThresholds(t *testing.T) {
	ds := helpers.NewDataset(t, qi, []string{"18-64", "F"})

	engine := NewValidationEngine(&ValidationEngineConfig{TargetK: 0, TargetL: -1, QuasiIdentifiers: qi}, helpers.QuietLogger())
	_, err := engine.Run(context.Background(), ds)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)

	var verrs *errors.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs.Errors, 2)
}

func TestValidationEngineRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ds := helpers.NewDataset(t, qi, []string{"18-64", "F"})
	_, err := NewValidationEngine(nil, helpers.QuietLogger()).Run(ctx, ds)
	assert.ErrorIs(t, err, context.Canceled)
}
