// Package pipeline runs the batch de-identification flow: load, anonymize,
// augment, validate, evaluate and store.
package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/anonymizer"
	obsmetrics "github.com/inferloop/deident/internal/observability/metrics"
	"github.com/inferloop/deident/internal/privacy"
	"github.com/inferloop/deident/internal/rules"
	"github.com/inferloop/deident/internal/storage"
	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/internal/validation/metrics"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// Stage names, used for timings and metrics
const (
	StageLoad      = "load"
	StageAnonymize = "anonymize"
	StageAugment   = "augment"
	StageValidate  = "validate"
	StageEvaluate  = "evaluate"
	StageStore     = "store"
)

// Config contains pipeline configuration
type Config struct {
	Input  string `json:"input" yaml:"input" mapstructure:"input"`
	Output string `json:"output" yaml:"output" mapstructure:"output"`

	TargetK       int      `json:"target_k" yaml:"target_k" mapstructure:"target_k"`
	TargetL       int      `json:"target_l" yaml:"target_l" mapstructure:"target_l"`
	PIIColumns    []string `json:"pii_columns" yaml:"pii_columns" mapstructure:"pii_columns"`
	HaltOnFailure bool     `json:"halt_on_failure" yaml:"halt_on_failure" mapstructure:"halt_on_failure"`

	// SkipAugmentation writes the rule engine output without padding.
	SkipAugmentation bool `json:"skip_augmentation" yaml:"skip_augmentation" mapstructure:"skip_augmentation"`
	// Seed fixes the augmentation random source; 0 seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed" mapstructure:"seed"`
	// Evaluate compares the raw input against the output.
	Evaluate bool `json:"evaluate" yaml:"evaluate" mapstructure:"evaluate"`
}

// Validate checks the configuration before any data is read
func (c *Config) Validate() error {
	verrs := errors.NewValidationErrors()
	if c.Input == "" {
		verrs.Add("input", errors.CodeMissingField, "input location is required", c.Input)
	}
	if c.TargetK < 1 {
		verrs.Add("target_k", errors.CodeInvalidThreshold, "must be at least 1", c.TargetK)
	}
	if c.TargetL < 1 {
		verrs.Add("target_l", errors.CodeInvalidThreshold, "must be at least 1", c.TargetL)
	}
	return verrs.ErrorOrNil()
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() *Config {
	return &Config{
		TargetK:       constants.DefaultTargetK,
		TargetL:       constants.DefaultTargetL,
		HaltOnFailure: true,
	}
}

// Result is the outcome of one pipeline run
type Result struct {
	RunID          string                      `json:"run_id"`
	Status         string                      `json:"status"`
	StartedAt      time.Time                   `json:"started_at"`
	CompletedAt    time.Time                   `json:"completed_at"`
	InputRecords   int                         `json:"input_records"`
	OutputRecords  int                         `json:"output_records"`
	QIColumns      []string                    `json:"qi_columns"`
	Sensitive      []string                    `json:"sensitive_columns"`
	Warnings       []anonymizer.Warning        `json:"warnings,omitempty"`
	Augmentation   *privacy.AugmentationResult `json:"augmentation,omitempty"`
	Report         *validation.Report          `json:"report"`
	Comparison     *metrics.Comparison         `json:"comparison,omitempty"`
	StageDurations map[string]time.Duration    `json:"stage_durations"`
	Dataset        *models.Dataset             `json:"-"`
}

// Passed reports whether every validation phase passed
func (r *Result) Passed() bool {
	return r.Report != nil && r.Report.Passed
}

// Pipeline wires the rule engine, augmentation, validation and storage
type Pipeline struct {
	config  *Config
	rules   *rules.RuleSet
	factory *storage.Factory
	reports interfaces.ReportStore
	metrics *obsmetrics.PrometheusMetrics
	rng     privacy.RandomSource
	logger  *logrus.Logger
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithReportStore saves every validation report to store
func WithReportStore(store interfaces.ReportStore) Option {
	return func(p *Pipeline) { p.reports = store }
}

// WithMetrics records run metrics into pm
func WithMetrics(pm *obsmetrics.PrometheusMetrics) Option {
	return func(p *Pipeline) { p.metrics = pm }
}

// WithRandomSource overrides the augmentation random source
func WithRandomSource(rng privacy.RandomSource) Option {
	return func(p *Pipeline) { p.rng = rng }
}

// New creates a pipeline for rs. A nil factory resolves every location with
// the default backend settings.
func New(config *Config, rs *rules.RuleSet, factory *storage.Factory, logger *logrus.Logger, opts ...Option) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "rule set is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if factory == nil {
		factory = storage.NewFactory(nil, logger)
	}

	p := &Pipeline{
		config:  config,
		rules:   rs,
		factory: factory,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil && config.Seed != 0 {
		p.rng = rand.New(rand.NewSource(config.Seed))
	}

	return p, nil
}

// Run executes every stage in order. Validation failures are reported in the
// result and are not errors; the output is written either way.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:          uuid.New().String(),
		StartedAt:      time.Now().UTC(),
		StageDurations: make(map[string]time.Duration),
	}
	log := p.logger.WithField("run_id", result.RunID)
	log.WithFields(logrus.Fields{
		"input":  p.config.Input,
		"output": p.config.Output,
		"k":      p.config.TargetK,
		"l":      p.config.TargetL,
	}).Info("Starting de-identification run")

	res, err := p.run(ctx, result)
	if err != nil {
		p.finish(result, "error")
		log.WithError(err).Error("De-identification run failed")
		return nil, err
	}

	status := constants.StatusFailed
	if res.Passed() {
		status = constants.StatusPassed
	}
	p.finish(res, status)

	log.WithFields(logrus.Fields{
		"status":   status,
		"records":  res.OutputRecords,
		"duration": res.CompletedAt.Sub(res.StartedAt),
	}).Info("De-identification run complete")

	return res, nil
}

func (p *Pipeline) run(ctx context.Context, result *Result) (*Result, error) {
	engine, err := anonymizer.NewEngine(p.rules, p.logger)
	if err != nil {
		return nil, err
	}

	var raw *models.Dataset
	if err := p.stage(result, StageLoad, func() error {
		raw, err = p.Load(ctx, p.config.Input)
		return err
	}); err != nil {
		return nil, err
	}
	result.InputRecords = raw.Len()
	p.setRecords("input", raw.Len())

	var anon *anonymizer.Result
	if err := p.stage(result, StageAnonymize, func() error {
		anon, err = engine.Anonymize(ctx, raw)
		return err
	}); err != nil {
		return nil, err
	}
	result.QIColumns = anon.QIColumns
	result.Sensitive = anon.SensitiveColumns
	result.Warnings = anon.Warnings
	p.recordWarnings(anon.Warnings)

	out := anon.Dataset
	if !p.config.SkipAugmentation {
		if err := p.stage(result, StageAugment, func() error {
			processor := privacy.NewKAnonymityProcessor(&privacy.KAnonymityConfig{
				K:                   p.config.TargetK,
				QuasiIdentifiers:    anon.QIColumns,
				SensitiveAttributes: anon.SensitiveColumns,
			}, p.rng, p.logger)
			aug, err := processor.Augment(ctx, out)
			if err != nil {
				return err
			}
			result.Augmentation = aug
			out = aug.Dataset
			return nil
		}); err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.SetAugmentation(result.Augmentation.Added, result.Augmentation.GroupsAugmented)
		}
	}
	result.Dataset = out
	result.OutputRecords = out.Len()
	p.setRecords("output", out.Len())

	if err := p.stage(result, StageValidate, func() error {
		validator := validation.NewValidationEngine(&validation.ValidationEngineConfig{
			TargetK:             p.config.TargetK,
			TargetL:             p.config.TargetL,
			PIIColumns:          p.config.PIIColumns,
			QuasiIdentifiers:    anon.QIColumns,
			SensitiveAttributes: anon.SensitiveColumns,
			HaltOnFailure:       p.config.HaltOnFailure,
		}, p.logger)
		report, err := validator.Run(ctx, out)
		if err != nil {
			return err
		}
		report.RunID = result.RunID
		result.Report = report
		return nil
	}); err != nil {
		return nil, err
	}
	if p.metrics != nil {
		for _, phase := range result.Report.Phases {
			p.metrics.SetPhase(phase.Phase, phase.Passed())
		}
	}

	// Evaluation is advisory: a failure is logged and the run goes on to store
	// the output.
	if p.config.Evaluate {
		p.stage(result, StageEvaluate, func() error {
			comparison, err := p.evaluate(engine, raw, out, anon)
			if err != nil {
				p.logger.WithError(err).WithField("run_id", result.RunID).Warn("Risk evaluation failed; continuing without comparison")
				return err
			}
			result.Comparison = comparison
			return nil
		})
	}

	if p.config.Output != "" {
		if err := p.stage(result, StageStore, func() error {
			return p.Store(ctx, p.config.Output, out)
		}); err != nil {
			return nil, err
		}
	}

	if p.reports != nil {
		if err := p.reports.SaveReport(ctx, result.Report); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// evaluate measures the raw input, with derived columns as unbinned day
// counts, against the output on the output's QI set.
func (p *Pipeline) evaluate(engine *anonymizer.Engine, raw, out *models.Dataset, anon *anonymizer.Result) (*metrics.Comparison, error) {
	if len(anon.SensitiveColumns) == 0 {
		p.logger.Warn("No sensitive column declared; skipping risk evaluation")
		return nil, nil
	}
	sensitive := anon.SensitiveColumns[0]

	original, warnings, err := engine.DeriveDurations(raw)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		p.logger.WithField("column", w.Column).Warn(w.Message)
	}

	comparison, err := metrics.Compare(original, out, anon.QIColumns, sensitive)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.SetRisk("original", comparison.Original.MinK, comparison.Original.MinL, comparison.Original.RiskPercent)
		p.metrics.SetRisk("anonymized", comparison.Anonymized.MinK, comparison.Anonymized.MinL, comparison.Anonymized.RiskPercent)
	}
	return comparison, nil
}

func (p *Pipeline) stage(result *Result, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	result.StageDurations[name] = elapsed
	if p.metrics != nil {
		p.metrics.ObserveStage(name, elapsed)
		if err != nil {
			p.metrics.RecordError(name, errorType(err))
		}
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"stage":    name,
		"duration": elapsed,
	}).Debug("Stage finished")

	return err
}

func (p *Pipeline) finish(result *Result, status string) {
	result.Status = status
	result.CompletedAt = time.Now().UTC()

	if p.metrics == nil {
		return
	}
	p.metrics.RecordRun("anonymize", status)
	if err := p.metrics.WriteTextfile(); err != nil {
		p.logger.WithError(err).Warn("Failed to write metrics textfile")
	}
}

func (p *Pipeline) recordWarnings(warnings []anonymizer.Warning) {
	if p.metrics == nil {
		return
	}
	for _, w := range warnings {
		rows := w.Rows
		if rows == 0 {
			rows = 1
		}
		p.metrics.RecordDerivationWarning(string(w.Kind), rows)
	}
}

func (p *Pipeline) setRecords(dataset string, n int) {
	if p.metrics != nil {
		p.metrics.SetRecords(dataset, n)
	}
}
