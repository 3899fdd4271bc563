// Package validation certifies an anonymized dataset against PII absence,
// k-anonymity and l-diversity targets.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

type ValidationEngineConfig struct {
	TargetK             int      `json:"target_k" yaml:"target_k" mapstructure:"target_k"`
	TargetL             int      `json:"target_l" yaml:"target_l" mapstructure:"target_l"`
	PIIColumns          []string `json:"pii_columns" yaml:"pii_columns" mapstructure:"pii_columns"`
	QuasiIdentifiers    []string `json:"quasi_identifiers" yaml:"quasi_identifiers" mapstructure:"quasi_identifiers"`
	SensitiveAttributes []string `json:"sensitive_attributes" yaml:"sensitive_attributes" mapstructure:"sensitive_attributes"`
	// HaltOnFailure skips later phases once one fails.
	HaltOnFailure bool `json:"halt_on_failure" yaml:"halt_on_failure" mapstructure:"halt_on_failure"`
}

// Validate checks the thresholds.
func (c *ValidationEngineConfig) Validate() error {
	verrs := errors.NewValidationErrors()
	if c.TargetK < 1 {
		verrs.Add("target_k", errors.CodeInvalidThreshold, "must be at least 1", c.TargetK)
	}
	if c.TargetL < 1 {
		verrs.Add("target_l", errors.CodeInvalidThreshold, "must be at least 1", c.TargetL)
	}
	return verrs.ErrorOrNil()
}

// ValidationEngine runs the three phases in order.
type ValidationEngine struct {
	config *ValidationEngineConfig
	logger *logrus.Logger
}

// Report is the structured outcome of one validation run.
type Report struct {
	RunID     string        `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	TargetK   int           `json:"target_k"`
	TargetL   int           `json:"target_l"`
	Records   int           `json:"records"`
	Phases    []PhaseResult `json:"phases"`
	Passed    bool          `json:"passed"`
}

// Phase returns the named phase result.
func (r *Report) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Phase == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

func NewValidationEngine(config *ValidationEngineConfig, logger *logrus.Logger) *ValidationEngine {
	if config == nil {
		config = getDefaultValidationEngineConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &ValidationEngine{
		config: config,
		logger: logger,
	}
}

// Run validates ds. The overall result passes only if all three phases ran and
// passed. Failing phases are a normal outcome; an error is returned only for
// bad thresholds or a cancelled context.
func (e *ValidationEngine) Run(ctx context.Context, ds *models.Dataset) (*Report, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Timestamp: time.Now().UTC(),
		TargetK:   e.config.TargetK,
		TargetL:   e.config.TargetL,
		Records:   ds.Len(),
	}

	e.logger.WithFields(logrus.Fields{
		"run_id":  report.RunID,
		"records": report.Records,
		"k":       e.config.TargetK,
		"l":       e.config.TargetL,
	}).Info("Starting privacy validation")

	pii := e.config.PIIColumns
	if pii == nil {
		pii = constants.DefaultPIIColumns
	}

	phases := []struct {
		name string
		run  func() PhaseResult
	}{
		{constants.PhasePIIAbsence, func() PhaseResult { return CheckPIIAbsence(ds, pii) }},
		{constants.PhaseKAnonymity, func() PhaseResult {
			return CheckKAnonymity(ds, e.config.QuasiIdentifiers, e.config.TargetK)
		}},
		{constants.PhaseLDiversity, func() PhaseResult {
			return CheckLDiversity(ds, e.config.QuasiIdentifiers, e.config.SensitiveAttributes, e.config.TargetL)
		}},
	}

	halted := ""
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if halted != "" {
			report.Phases = append(report.Phases, skippedPhase(phase.name, fmt.Sprintf("skipped because %s failed", halted)))
			continue
		}

		result := phase.run()
		report.Phases = append(report.Phases, result)
		e.logPhase(report.RunID, result)

		if !result.Passed() && e.config.HaltOnFailure {
			halted = phase.name
		}
	}

	report.Passed = true
	for _, p := range report.Phases {
		if !p.Passed() {
			report.Passed = false
		}
	}

	e.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"passed": report.Passed,
	}).Info("Privacy validation completed")

	return report, nil
}

func (e *ValidationEngine) logPhase(runID string, result PhaseResult) {
	entry := e.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"phase":  result.Phase,
		"status": result.Status,
	})
	for _, w := range result.Warnings {
		entry.Warn(w)
	}
	if result.Passed() {
		entry.Info(result.Message)
	} else {
		entry.Warn(result.Message)
	}
}

func getDefaultValidationEngineConfig() *ValidationEngineConfig {
	return &ValidationEngineConfig{
		TargetK:       constants.DefaultTargetK,
		TargetL:       constants.DefaultTargetL,
		PIIColumns:    constants.DefaultPIIColumns,
		HaltOnFailure: true,
	}
}
