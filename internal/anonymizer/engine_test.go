package anonymizer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/internal/rules"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/tests/helpers"
)

func healthcareRules(t *testing.T) *rules.RuleSet {
	t.Helper()

	rs, err := rules.NewRuleSet([]rules.ColumnRule{
		{Column: "Name", Rule: rules.Remove{}},
		{Column: "Age", Rule: rules.GeneralizeBin{Bins: rules.Bins{
			Edges:  []float64{0, 18, 65, 120},
			Labels: []string{"0-17", "18-64", "65+"},
		}}},
		{Column: "Length of Stay", Rule: rules.DeriveBinned{
			From: "Admitted", To: "Discharged", Default: "short",
			Bins: rules.Bins{
				Edges:  []float64{0, 7, 30, math.Inf(1)},
				Labels: []string{"short", "medium", "long"},
			},
		}},
		{Column: "Admitted", Rule: rules.Remove{}},
		{Column: "Discharged", Rule: rules.Remove{}},
		{Column: "Admission Type", Rule: rules.GeneralizeMap{
			Mapping: map[string]string{"Emergency": "Non-Elective", "Urgent": "Non-Elective"},
			Default: "Elective",
		}},
		{Column: "Gender", Rule: rules.QIExact{}},
		{Column: "Condition", Rule: rules.Sensitive{}},
	})
	require.NoError(t, err)
	return rs
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	engine, err := NewEngine(healthcareRules(t), nil)
	require.NoError(t, err)
	assert.NotNil(t, engine.logger)
}

func TestAnonymizeHealthcare(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	engine, err := NewEngine(healthcareRules(t), env.Logger)
	require.NoError(t, err)

	raw := helpers.NewDataset(t,
		[]string{"Name", "Age", "Gender", "Admission Type", "Admitted", "Discharged", "Condition", "Unruled"},
		[]string{"Alice", "34", "F", "Emergency", "2024-01-01", "2024-01-05", "Asthma", "x"},
		[]string{"Bob", "70", "M", "Elective", "2024-01-01", "2024-01-08", "Diabetes", "y"},
		[]string{"Carol", "12", "F", "Urgent", "2024-01-01", "2024-03-01", "Flu", "z"},
		[]string{"Dan", "abc", "M", "", "not a date", "2024-01-02", "", "w"},
	)
	before := raw.Clone()

	res, err := engine.Anonymize(env.Context, raw)
	require.NoError(t, err)

	// derived QI first, then declaration order
	assert.Equal(t, []string{"Length of Stay", "Age", "Admission Type", "Gender"}, res.QIColumns)
	assert.Equal(t, []string{"Condition"}, res.SensitiveColumns)
	assert.Equal(t, []string{"Length of Stay", "Age", "Admission Type", "Gender", "Condition"}, res.Dataset.Columns)

	helpers.AssertColumn(t, res.Dataset, "Length of Stay", []interface{}{"short", "medium", "long", "short"})
	helpers.AssertColumn(t, res.Dataset, "Age", []interface{}{"18-64", "65+", "0-17", nil})
	helpers.AssertColumn(t, res.Dataset, "Admission Type", []interface{}{"Non-Elective", "Elective", "Non-Elective", "Elective"})
	helpers.AssertColumn(t, res.Dataset, "Gender", []interface{}{"F", "M", "F", "M"})
	helpers.AssertColumn(t, res.Dataset, "Condition", []interface{}{"Asthma", "Diabetes", "Flu", nil})

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningDerivationFallback, res.Warnings[0].Kind)
	assert.Equal(t, "Length of Stay", res.Warnings[0].Column)
	assert.Equal(t, 1, res.Warnings[0].Rows)

	assert.Equal(t, before, raw, "raw dataset must not be mutated")
}

func TestAnonymizeGeneralizeMapScenario(t *testing.T) {
	rs, err := rules.NewRuleSet([]rules.ColumnRule{
		{Column: "Admission Type", Rule: rules.GeneralizeMap{
			Mapping: map[string]string{"Emergency": "Non-Elective"},
			Default: "Elective",
		}},
	})
	require.NoError(t, err)
	engine, err := NewEngine(rs, helpers.QuietLogger())
	require.NoError(t, err)

	raw := helpers.NewDataset(t, []string{"Admission Type"},
		[]string{"Emergency"}, []string{"Urgent"}, []string{"Elective"})

	res, err := engine.Anonymize(context.Background(), raw)
	require.NoError(t, err)
	helpers.AssertColumn(t, res.Dataset, "Admission Type", []interface{}{"Non-Elective", "Elective", "Elective"})
}

func TestAnonymizeMissingColumns(t *testing.T) {
	rs, err := rules.NewRuleSet([]rules.ColumnRule{
		{Column: "SSN", Rule: rules.Remove{}},
		{Column: "Zip", Rule: rules.QIExact{}},
		{Column: "Gender", Rule: rules.QIExact{}},
		{Column: "LoS", Rule: rules.DeriveBinned{
			From: "In", To: "Out", Default: "unknown",
			Bins: rules.Bins{Edges: []float64{0, 7}, Labels: []string{"week"}},
		}},
	})
	require.NoError(t, err)
	engine, err := NewEngine(rs, helpers.QuietLogger())
	require.NoError(t, err)

	raw := helpers.NewDataset(t, []string{"Gender"}, []string{"F"}, []string{"M"})
	res, err := engine.Anonymize(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"LoS", "Gender"}, res.QIColumns)
	helpers.AssertColumn(t, res.Dataset, "LoS", []interface{}{"unknown", "unknown"})

	kinds := map[WarningKind][]string{}
	for _, w := range res.Warnings {
		kinds[w.Kind] = append(kinds[w.Kind], w.Column)
	}
	assert.Equal(t, []string{"LoS"}, kinds[WarningDerivationFailed])
	assert.ElementsMatch(t, []string{"SSN", "Zip"}, kinds[WarningMissingColumn])
}

func TestAnonymizeBinBoundaries(t *testing.T) {
	rs, err := rules.NewRuleSet([]rules.ColumnRule{
		{Column: "Billing", Rule: rules.GeneralizeBin{Bins: rules.Bins{
			Edges:  []float64{0, 30000, math.Inf(1)},
			Labels: []string{"0-30k", "30k+"},
		}}},
	})
	require.NoError(t, err)
	engine, err := NewEngine(rs, helpers.QuietLogger())
	require.NoError(t, err)

	raw := helpers.NewDataset(t, []string{"Billing"},
		[]string{"0"}, []string{"29999.99"}, []string{"30000"}, []string{" 45000.5 "},
		[]string{"-3"}, []string{""}, []string{"n/a"})

	res, err := engine.Anonymize(context.Background(), raw)
	require.NoError(t, err)
	helpers.AssertColumn(t, res.Dataset, "Billing", []interface{}{"0-30k", "0-30k", "30k+", "30k+", nil, nil, nil})
}

func TestAnonymizeRespectsContext(t *testing.T) {
	engine, err := NewEngine(healthcareRules(t), helpers.QuietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := helpers.NewDataset(t, []string{"Age"}, []string{"30"})
	_, err = engine.Anonymize(ctx, raw)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeriveDurations(t *testing.T) {
	engine, err := NewEngine(healthcareRules(t), helpers.QuietLogger())
	require.NoError(t, err)

	raw := helpers.NewDataset(t, []string{"Admitted", "Discharged"},
		[]string{"2024-01-01", "2024-01-05"},
		[]string{"2024-01-01 12:00:00", "2024-01-02 06:00:00"},
		[]string{"2024-01-05", "2024-01-01"},
		[]string{"garbage", "2024-01-01"},
	)

	out, warnings, err := engine.DeriveDurations(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	helpers.AssertColumn(t, out, "Length of Stay", []interface{}{"4", "0", "-4", nil})
	assert.Equal(t, []string{"Admitted", "Discharged"}, raw.Columns)
}

func TestDeriveDurationsMissingSource(t *testing.T) {
	engine, err := NewEngine(healthcareRules(t), helpers.QuietLogger())
	require.NoError(t, err)

	raw := helpers.NewDataset(t, []string{"Admitted"},
		[]string{"2024-01-01"},
		[]string{"2024-01-03"},
	)

	out, warnings, err := engine.DeriveDurations(raw)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningDerivationFailed, warnings[0].Kind)
	assert.Equal(t, "Length of Stay", warnings[0].Column)
	assert.Equal(t, 2, warnings[0].Rows)
	helpers.AssertColumn(t, out, "Length of Stay", []interface{}{nil, nil})
}
