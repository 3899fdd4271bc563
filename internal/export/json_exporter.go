package export

import (
	"context"
	"encoding/json"
	"io"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/internal/validation/metrics"
	"github.com/inferloop/deident/pkg/models"
)

// JSONExporter implements JSON export functionality
type JSONExporter struct{}

// JSONDataset is the JSON form of a dataset. Undefined cells are null.
type JSONDataset struct {
	Columns []string    `json:"columns"`
	Rows    [][]*string `json:"rows"`
	Count   int         `json:"count"`
}

// Name returns the exporter name
func (je *JSONExporter) Name() string {
	return "json"
}

// SupportedFormats returns supported formats
func (je *JSONExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatJSON}
}

// Export encodes doc as a single JSON document.
func (je *JSONExporter) Export(ctx context.Context, writer io.Writer, doc interface{}, options ExportOptions) error {
	encoder := json.NewEncoder(writer)
	if options.Pretty {
		encoder.SetIndent("", "  ")
	}

	switch d := doc.(type) {
	case *models.Dataset:
		return encoder.Encode(je.convertDataset(d))
	case *validation.Report, *metrics.RiskMetrics, *metrics.Comparison:
		return encoder.Encode(d)
	default:
		return unsupportedDocument(je.Name(), doc)
	}
}

// ValidateOptions validates JSON export options
func (je *JSONExporter) ValidateOptions(options ExportOptions) error {
	return nil
}

func (je *JSONExporter) convertDataset(ds *models.Dataset) JSONDataset {
	rows := make([][]*string, len(ds.Rows))
	for i, row := range ds.Rows {
		out := make([]*string, len(row))
		for j := range row {
			if row[j].Valid {
				text := row[j].Text
				out[j] = &text
			}
		}
		rows[i] = out
	}
	return JSONDataset{Columns: ds.Columns, Rows: rows, Count: len(rows)}
}
