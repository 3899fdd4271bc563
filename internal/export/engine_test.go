package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/internal/validation/metrics"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/tests/helpers"
)

func createTestReport() *validation.Report {
	return &validation.Report{
		RunID:   "run-1",
		TargetK: 5,
		TargetL: 2,
		Records: 12,
		Phases: []validation.PhaseResult{
			{Phase: constants.PhasePIIAbsence, Status: constants.StatusPassed, Message: "no direct identifier columns found"},
			{
				Phase:         constants.PhaseKAnonymity,
				Status:        constants.StatusFailed,
				Message:       "1 groups fail k=5 (minimum k found 2)",
				FailingGroups: 1,
				Examples:      []validation.GroupExample{{Key: []string{"65+", "M"}, Count: 2}},
			},
			{Phase: constants.PhaseLDiversity, Status: constants.StatusSkipped, Message: "skipped because k_anonymity failed"},
		},
	}
}

func createTestComparison() *metrics.Comparison {
	return &metrics.Comparison{
		Original:      &metrics.RiskMetrics{Name: "original", Records: 4, Groups: 4, MinK: 1, MinL: 1, UniqueGroups: 4, RiskPercent: 100},
		Anonymized:    &metrics.RiskMetrics{Name: "anonymized", Records: 4, Groups: 2, MinK: 2, MinL: 2, RiskPercent: 0},
		RiskReduction: 100,
	}
}

func TestNewExportEngine(t *testing.T) {
	logger := logrus.New()
	engine := NewExportEngine(logger)

	assert.Equal(t, logger, engine.logger)
	assert.Equal(t, []ExportFormat{FormatCSV, FormatJSON, FormatText}, engine.GetSupportedFormats())
}

func TestExportDatasetCSV(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())
	ds := helpers.NewDataset(t, []string{"Age", "Condition"},
		[]string{"18-64", "Flu"},
		[]string{"65+", ""},
		[]string{"0-17", "Asthma, mild"},
	)

	var buf bytes.Buffer
	err := engine.Export(context.Background(), FormatCSV, &buf, ds, DefaultExportOptions())
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Age", "Condition"},
		{"18-64", "Flu"},
		{"65+", ""},
		{"0-17", "Asthma, mild"},
	}, records)
}

func TestExportDatasetCSVOptions(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())
	ds := helpers.NewDataset(t, []string{"Age", "Condition"}, []string{"65+", ""})

	var buf bytes.Buffer
	err := engine.Export(context.Background(), FormatCSV, &buf, ds, ExportOptions{
		Delimiter: ';',
		NullValue: "NA",
	})
	require.NoError(t, err)
	assert.Equal(t, "65+;NA\n", buf.String())

	err = engine.Export(context.Background(), FormatCSV, &buf, ds, ExportOptions{Delimiter: '"'})
	assert.Error(t, err)
}

func TestExportDatasetGzip(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())
	ds := helpers.NewDataset(t, []string{"Age"}, []string{"18-64"})

	options := DefaultExportOptions()
	options.Compression = CompressionGzip

	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), FormatCSV, &buf, ds, options))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "Age\n18-64\n", string(plain))
}

func TestExportDatasetJSON(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())
	ds := helpers.NewDataset(t, []string{"Age", "Condition"}, []string{"65+", ""})

	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), FormatJSON, &buf, ds, DefaultExportOptions()))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []interface{}{"Age", "Condition"}, decoded["columns"])
	assert.Equal(t, []interface{}{[]interface{}{"65+", nil}}, decoded["rows"])
	assert.Equal(t, float64(1), decoded["count"])
}

func TestExportReportJSON(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())

	var buf bytes.Buffer
	options := DefaultExportOptions()
	options.Pretty = true
	require.NoError(t, engine.Export(context.Background(), FormatJSON, &buf, createTestReport(), options))

	var decoded validation.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Phases, 3)
	assert.Equal(t, []string{"65+", "M"}, decoded.Phases[1].Examples[0].Key)
}

func TestExportReportText(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())

	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), FormatText, &buf, createTestReport(), DefaultExportOptions()))

	out := buf.String()
	assert.Contains(t, out, "Phase 2: k-Anonymity Test")
	assert.Contains(t, out, "(65+, M)  ->  k=2")
	assert.Contains(t, out, "Phase 3 (l-Diversity):")
	assert.Contains(t, out, "SKIPPED")
	assert.Contains(t, out, "Overall Result: FAILED")
}

func TestExportReportCSV(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())

	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), FormatCSV, &buf, createTestReport(), DefaultExportOptions()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"run-1", constants.PhaseKAnonymity, constants.StatusFailed, "1 groups fail k=5 (minimum k found 2)", ""}, records[2])
}

func TestExportComparison(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())

	var text bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), FormatText, &text, createTestComparison(), DefaultExportOptions()))
	lines := strings.Split(text.String(), "\n")
	assert.Contains(t, lines[0], "ORIGINAL")
	assert.Contains(t, lines[0], "ANONYMIZED")
	assert.Contains(t, text.String(), "100.00%")
	assert.Contains(t, text.String(), "Risk reduced by 100.00 percentage points")

	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), FormatCSV, &buf, createTestComparison(), DefaultExportOptions()))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"original", "4", "4", "1", "1", "4", "100.00"}, records[1])
	assert.Equal(t, []string{"anonymized", "4", "2", "2", "2", "0", "0.00"}, records[2])
}

func TestExportUnsupported(t *testing.T) {
	engine := NewExportEngine(helpers.QuietLogger())

	var buf bytes.Buffer
	err := engine.Export(context.Background(), ExportFormat("parquet"), &buf, createTestReport(), DefaultExportOptions())
	assert.Error(t, err)

	err = engine.Export(context.Background(), FormatJSON, &buf, "not a document", DefaultExportOptions())
	assert.Error(t, err)
}
