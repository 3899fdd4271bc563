package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/inferloop/deident/internal/privacy"
	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/internal/validation/metrics"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/models"
)

var phaseTitles = map[string]string{
	constants.PhasePIIAbsence: "Phase 1: Direct Identifier (PII) Removal Test",
	constants.PhaseKAnonymity: "Phase 2: k-Anonymity Test",
	constants.PhaseLDiversity: "Phase 3: l-Diversity Test",
}

var phaseLabels = map[string]string{
	constants.PhasePIIAbsence: "Phase 1 (PII Removal):",
	constants.PhaseKAnonymity: "Phase 2 (k-Anonymity):",
	constants.PhaseLDiversity: "Phase 3 (l-Diversity):",
}

// TextExporter renders documents for a terminal.
type TextExporter struct{}

// Name returns the exporter name
func (te *TextExporter) Name() string {
	return "text"
}

// SupportedFormats returns supported formats
func (te *TextExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatText}
}

// Export writes doc as aligned, human-readable text.
func (te *TextExporter) Export(ctx context.Context, writer io.Writer, doc interface{}, options ExportOptions) error {
	switch d := doc.(type) {
	case *validation.Report:
		return te.writeReport(writer, d)
	case *metrics.RiskMetrics:
		return te.writeMetrics(writer, []*metrics.RiskMetrics{d}, nil)
	case *metrics.Comparison:
		return te.writeMetrics(writer, []*metrics.RiskMetrics{d.Original, d.Anonymized}, d)
	case *models.Dataset:
		return te.writeDataset(writer, d, options)
	default:
		return unsupportedDocument(te.Name(), doc)
	}
}

// ValidateOptions validates text export options
func (te *TextExporter) ValidateOptions(options ExportOptions) error {
	return nil
}

func (te *TextExporter) writeReport(w io.Writer, report *validation.Report) error {
	b := &strings.Builder{}

	fmt.Fprintf(b, "Privacy validation %s (k=%d, l=%d, %d records)\n", report.RunID, report.TargetK, report.TargetL, report.Records)

	for _, p := range report.Phases {
		header(b, phaseTitles[p.Phase])
		fmt.Fprintf(b, "--- %s ---\n", strings.ToUpper(p.Status))
		fmt.Fprintln(b, p.Message)
		for _, warn := range p.Warnings {
			fmt.Fprintf(b, "Warning: %s\n", warn)
		}
		if len(p.Examples) > 0 {
			fmt.Fprintf(b, "Example failing groups (first %d):\n", len(p.Examples))
			for _, ex := range p.Examples {
				fmt.Fprintf(b, "  %s  ->  k=%d\n", privacy.FormatKey(ex.Key), ex.Count)
			}
		}
		for _, c := range p.Columns {
			fmt.Fprintf(b, "\n'%s': %s (minimum l found %d)\n", c.Column, strings.ToUpper(c.Status), c.MinL)
			if c.Message != "" {
				fmt.Fprintf(b, "  %s\n", c.Message)
			}
			for _, ex := range c.Examples {
				fmt.Fprintf(b, "  %s  ->  l=%d\n", privacy.FormatKey(ex.Key), ex.Count)
			}
		}
	}

	header(b, "Final Validation Summary")
	for _, p := range report.Phases {
		fmt.Fprintf(b, "%-24s %s\n", phaseLabels[p.Phase], strings.ToUpper(p.Status))
	}
	fmt.Fprintln(b, strings.Repeat("=", 60))
	if report.Passed {
		fmt.Fprintln(b, "\nOverall Result: PASSED. The data meets the configured privacy targets.")
	} else {
		fmt.Fprintln(b, "\nOverall Result: FAILED. Review the phases above to identify privacy risks.")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (te *TextExporter) writeMetrics(w io.Writer, rows []*metrics.RiskMetrics, cmp *metrics.Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprint(tw, "METRIC")
	for _, m := range rows {
		fmt.Fprintf(tw, "\t%s", strings.ToUpper(m.Name))
	}
	fmt.Fprintln(tw)

	line := func(label string, value func(*metrics.RiskMetrics) string) {
		fmt.Fprint(tw, label)
		for _, m := range rows {
			fmt.Fprintf(tw, "\t%s", value(m))
		}
		fmt.Fprintln(tw)
	}
	line("Records", func(m *metrics.RiskMetrics) string { return fmt.Sprint(m.Records) })
	line("QI groups", func(m *metrics.RiskMetrics) string { return fmt.Sprint(m.Groups) })
	line("Min k-anonymity", func(m *metrics.RiskMetrics) string { return fmt.Sprint(m.MinK) })
	line("Min l-diversity", func(m *metrics.RiskMetrics) string { return fmt.Sprint(m.MinL) })
	line("Unique records", func(m *metrics.RiskMetrics) string { return fmt.Sprint(m.UniqueGroups) })
	line("Re-identification risk", func(m *metrics.RiskMetrics) string { return fmt.Sprintf("%.2f%%", m.RiskPercent) })
	line("Mean group size", func(m *metrics.RiskMetrics) string { return fmt.Sprintf("%.2f", m.MeanGroupSize) })

	if err := tw.Flush(); err != nil {
		return err
	}
	if cmp != nil {
		_, err := fmt.Fprintf(w, "\nRisk reduced by %.2f percentage points\n", cmp.RiskReduction)
		return err
	}
	return nil
}

func (te *TextExporter) writeDataset(w io.Writer, ds *models.Dataset, options ExportOptions) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	if options.IncludeHeaders {
		fmt.Fprintln(tw, strings.Join(ds.Columns, "\t"))
	}
	for _, row := range ds.Strings(options.NullValue) {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func header(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n %s \n%s\n", strings.Repeat("=", 60), title, strings.Repeat("=", 60))
}
