// Package codec converts datasets to and from delimited text.
package codec

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/inferloop/deident/internal/export"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/models"
)

// CSVOptions controls delimited-text encoding.
type CSVOptions struct {
	Delimiter rune `json:"delimiter" yaml:"delimiter" mapstructure:"delimiter"`
	// MissingValues are read as undefined cells
	MissingValues []string `json:"missing_values" yaml:"missing_values" mapstructure:"missing_values"`
	// NullValue is written for undefined cells
	NullValue string `json:"null_value" yaml:"null_value" mapstructure:"null_value"`
}

// DefaultCSVOptions reads the usual NA spellings and writes undefined cells as empty.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:     constants.DefaultCSVDelimiter,
		MissingValues: constants.MissingValueSpellings,
	}
}

// ReadCSV parses a header row followed by records. Every record must have as
// many fields as the header.
func ReadCSV(r io.Reader, options CSVOptions) (*models.Dataset, error) {
	reader := csv.NewReader(r)
	if options.Delimiter != 0 {
		reader.Comma = options.Delimiter
	}

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV records: %w", err)
	}

	ds, err := models.FromStrings(header, records, options.MissingValues)
	if err != nil {
		return nil, fmt.Errorf("malformed CSV: %w", err)
	}
	return ds, nil
}

// WriteCSV writes a header row and one record per row.
func WriteCSV(ctx context.Context, w io.Writer, ds *models.Dataset, options CSVOptions) error {
	exporter := &export.CSVExporter{}
	return exporter.Export(ctx, w, ds, export.ExportOptions{
		IncludeHeaders: true,
		Delimiter:      options.Delimiter,
		NullValue:      options.NullValue,
	})
}
