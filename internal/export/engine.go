// Package export renders datasets, validation reports and risk comparisons as
// CSV, JSON or plain text.
package export

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/internal/validation/metrics"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/models"
)

// ExportEngine dispatches documents to the exporter registered for a format.
type ExportEngine struct {
	logger    *logrus.Logger
	mu        sync.RWMutex
	exporters map[ExportFormat]Exporter
}

// ExportFormat defines supported export formats
type ExportFormat string

const (
	FormatCSV  ExportFormat = constants.FormatCSV
	FormatJSON ExportFormat = constants.FormatJSON
	FormatText ExportFormat = constants.FormatText
)

// CompressionType defines output compression
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
)

// ExportOptions holds per-call rendering options
type ExportOptions struct {
	IncludeHeaders bool            `json:"include_headers"`
	NullValue      string          `json:"null_value"`
	Delimiter      rune            `json:"delimiter"`
	Pretty         bool            `json:"pretty"`
	Compression    CompressionType `json:"compression"`
}

// DefaultExportOptions writes headers, renders undefined cells as empty and
// uses a comma delimiter.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		IncludeHeaders: true,
		Delimiter:      constants.DefaultCSVDelimiter,
		Compression:    CompressionNone,
	}
}

// Exporter renders one or more document types. Documents are
// *models.Dataset, *validation.Report, *metrics.RiskMetrics and
// *metrics.Comparison.
type Exporter interface {
	Name() string
	SupportedFormats() []ExportFormat
	Export(ctx context.Context, writer io.Writer, doc interface{}, options ExportOptions) error
	ValidateOptions(options ExportOptions) error
}

func NewExportEngine(logger *logrus.Logger) *ExportEngine {
	if logger == nil {
		logger = logrus.New()
	}

	engine := &ExportEngine{
		logger:    logger,
		exporters: make(map[ExportFormat]Exporter),
	}
	engine.registerDefaultExporters()

	return engine
}

// RegisterExporter registers an exporter for every format it supports,
// replacing any previous registration.
func (ee *ExportEngine) RegisterExporter(exporter Exporter) {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	for _, format := range exporter.SupportedFormats() {
		ee.exporters[format] = exporter
	}
}

// Export writes doc to writer in the given format.
func (ee *ExportEngine) Export(ctx context.Context, format ExportFormat, writer io.Writer, doc interface{}, options ExportOptions) error {
	ee.mu.RLock()
	exporter, exists := ee.exporters[ExportFormat(strings.ToLower(string(format)))]
	ee.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no exporter found for format %s", format)
	}

	if err := exporter.ValidateOptions(options); err != nil {
		return fmt.Errorf("invalid export options: %w", err)
	}

	out := writer
	var gz *gzip.Writer
	if options.Compression == CompressionGzip {
		gz = gzip.NewWriter(writer)
		out = gz
	}

	start := time.Now()
	err := exporter.Export(ctx, out, doc, options)
	if gz != nil {
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
	}

	ee.logger.WithFields(logrus.Fields{
		"format":   format,
		"document": documentKind(doc),
		"duration": time.Since(start),
	}).Debug("Export completed")

	return err
}

// GetSupportedFormats returns all supported export formats, sorted.
func (ee *ExportEngine) GetSupportedFormats() []ExportFormat {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	result := make([]ExportFormat, 0, len(ee.exporters))
	for format := range ee.exporters {
		result = append(result, format)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result
}

func (ee *ExportEngine) registerDefaultExporters() {
	ee.RegisterExporter(&CSVExporter{})
	ee.RegisterExporter(&JSONExporter{})
	ee.RegisterExporter(&TextExporter{})
}

func documentKind(doc interface{}) string {
	switch doc.(type) {
	case *models.Dataset:
		return "dataset"
	case *validation.Report:
		return "report"
	case *metrics.RiskMetrics:
		return "metrics"
	case *metrics.Comparison:
		return "comparison"
	default:
		return fmt.Sprintf("%T", doc)
	}
}

func unsupportedDocument(exporter string, doc interface{}) error {
	return fmt.Errorf("%s exporter cannot render %s", exporter, documentKind(doc))
}
