package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/internal/validation/metrics"
	"github.com/inferloop/deident/pkg/models"
)

// CSVExporter implements CSV export functionality
type CSVExporter struct{}

// Name returns the exporter name
func (ce *CSVExporter) Name() string {
	return "csv"
}

// SupportedFormats returns supported formats
func (ce *CSVExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatCSV}
}

// Export writes a dataset as one CSV row per record, a report as one row per
// phase, and metrics as one row per dataset.
func (ce *CSVExporter) Export(ctx context.Context, writer io.Writer, doc interface{}, options ExportOptions) error {
	csvWriter := csv.NewWriter(writer)
	if options.Delimiter != 0 {
		csvWriter.Comma = options.Delimiter
	}

	var err error
	switch d := doc.(type) {
	case *models.Dataset:
		err = ce.writeDataset(ctx, csvWriter, d, options)
	case *validation.Report:
		err = ce.writeReport(csvWriter, d, options)
	case *metrics.RiskMetrics:
		err = ce.writeMetrics(csvWriter, []*metrics.RiskMetrics{d}, options)
	case *metrics.Comparison:
		err = ce.writeMetrics(csvWriter, []*metrics.RiskMetrics{d.Original, d.Anonymized}, options)
	default:
		return unsupportedDocument(ce.Name(), doc)
	}
	if err != nil {
		return err
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ValidateOptions validates CSV export options
func (ce *CSVExporter) ValidateOptions(options ExportOptions) error {
	switch options.Delimiter {
	case '"', '\r', '\n':
		return fmt.Errorf("invalid CSV delimiter %q", options.Delimiter)
	}
	return nil
}

func (ce *CSVExporter) writeDataset(ctx context.Context, w *csv.Writer, ds *models.Dataset, options ExportOptions) error {
	if options.IncludeHeaders {
		if err := w.Write(ds.Columns); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := make([]string, len(ds.Columns))
	for i, row := range ds.Rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j, v := range row {
			if v.Valid {
				record[j] = v.Text
			} else {
				record[j] = options.NullValue
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	return nil
}

func (ce *CSVExporter) writeReport(w *csv.Writer, report *validation.Report, options ExportOptions) error {
	if options.IncludeHeaders {
		if err := w.Write([]string{"run_id", "phase", "status", "message", "offenders"}); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, p := range report.Phases {
		row := []string{report.RunID, p.Phase, p.Status, p.Message, strings.Join(p.Offenders, ";")}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	return nil
}

func (ce *CSVExporter) writeMetrics(w *csv.Writer, rows []*metrics.RiskMetrics, options ExportOptions) error {
	if options.IncludeHeaders {
		header := []string{"dataset", "records", "groups", "min_k", "min_l", "unique_groups", "risk_percent"}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, m := range rows {
		row := []string{
			m.Name,
			strconv.Itoa(m.Records),
			strconv.Itoa(m.Groups),
			strconv.Itoa(m.MinK),
			strconv.Itoa(m.MinL),
			strconv.Itoa(m.UniqueGroups),
			strconv.FormatFloat(m.RiskPercent, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	return nil
}
