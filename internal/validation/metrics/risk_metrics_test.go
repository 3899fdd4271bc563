package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/tests/helpers"
)

var qi = []string{"Age", "Gender"}

func TestEvaluate(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"},
		[]string{"34", "F", "Flu"},
		[]string{"34", "F", "Asthma"},
		[]string{"34", "F", "Flu"},
		[]string{"70", "M", "Cancer"},
		[]string{"12", "", "Flu"},
	)

	m, err := Evaluate("original", ds, qi, "Condition")
	require.NoError(t, err)

	assert.Equal(t, "original", m.Name)
	assert.Equal(t, 5, m.Records)
	assert.Equal(t, 3, m.Groups)
	assert.Equal(t, 1, m.MinK)
	assert.Equal(t, 1, m.MinL)
	assert.Equal(t, 2, m.UniqueGroups)
	assert.InDelta(t, 40.0, m.RiskPercent, 1e-9)
	assert.InDelta(t, 5.0/3.0, m.MeanGroupSize, 1e-9)
	assert.Greater(t, m.GroupSizeStdDev, 0.0)
}

func TestEvaluateEmpty(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"})

	m, err := Evaluate("anonymized", ds, qi, "Condition")
	require.NoError(t, err)
	assert.Equal(t, &RiskMetrics{Name: "anonymized"}, m)
}

func TestEvaluateSingleGroup(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"},
		helpers.RepeatRows([]string{"18-64", "F", "Flu"}, 4)...)

	m, err := Evaluate("anonymized", ds, qi, "Condition")
	require.NoError(t, err)
	assert.Equal(t, 4, m.MinK)
	assert.Equal(t, 0, m.UniqueGroups)
	assert.Zero(t, m.RiskPercent)
	assert.Zero(t, m.GroupSizeStdDev)
}

func TestEvaluateMissingColumns(t *testing.T) {
	ds := helpers.NewDataset(t, []string{"Age"}, []string{"34"})

	_, err := Evaluate("original", ds, qi, "Condition")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
	assert.Contains(t, err.Error(), "Gender, Condition")
}

func TestCompare(t *testing.T) {
	original := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"},
		[]string{"34", "F", "Flu"},
		[]string{"35", "F", "Asthma"},
		[]string{"70", "M", "Cancer"},
		[]string{"71", "M", "Flu"},
	)
	anonymized := helpers.NewDataset(t, []string{"Age", "Gender", "Condition"},
		[]string{"18-64", "F", "Flu"},
		[]string{"18-64", "F", "Asthma"},
		[]string{"65+", "M", "Cancer"},
		[]string{"65+", "M", "Flu"},
	)

	cmp, err := Compare(original, anonymized, qi, "Condition")
	require.NoError(t, err)

	assert.Equal(t, 100.0, cmp.Original.RiskPercent)
	assert.Equal(t, 0.0, cmp.Anonymized.RiskPercent)
	assert.Equal(t, 100.0, cmp.RiskReduction)
	assert.Equal(t, 2, cmp.Anonymized.MinK)
	assert.Equal(t, 2, cmp.Anonymized.MinL)
}
