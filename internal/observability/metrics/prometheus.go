package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics collects per-run pipeline metrics. A batch run has no
// scrape endpoint, so the registry is written to a node-exporter textfile
// when the run ends.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	config   *PrometheusConfig

	runsTotal              *prometheus.CounterVec
	stageDuration          *prometheus.HistogramVec
	records                *prometheus.GaugeVec
	syntheticRecords       prometheus.Gauge
	groupsAugmented        prometheus.Gauge
	derivationWarnings     *prometheus.CounterVec
	validationPhasePassed  *prometheus.GaugeVec
	minK                   *prometheus.GaugeVec
	minL                   *prometheus.GaugeVec
	riskPercent            *prometheus.GaugeVec
	storageOperationsTotal *prometheus.CounterVec
	storageDuration        *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	lastRunTimestamp       prometheus.Gauge
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Namespace    string            `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Subsystem    string            `json:"subsystem" yaml:"subsystem" mapstructure:"subsystem"`
	TextfilePath string            `json:"textfile_path" yaml:"textfile_path" mapstructure:"textfile_path"`
	Labels       map[string]string `json:"labels" yaml:"labels" mapstructure:"labels"`
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = getDefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Registry exposes the underlying registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordRun counts a finished run of command
func (pm *PrometheusMetrics) RecordRun(command, status string) {
	pm.runsTotal.WithLabelValues(command, status).Inc()
	pm.lastRunTimestamp.SetToCurrentTime()
}

// ObserveStage records how long a pipeline stage took
func (pm *PrometheusMetrics) ObserveStage(stage string, duration time.Duration) {
	pm.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetRecords records the row count of a named dataset
func (pm *PrometheusMetrics) SetRecords(dataset string, count int) {
	pm.records.WithLabelValues(dataset).Set(float64(count))
}

// SetAugmentation records the synthetic rows added and the groups they repaired
func (pm *PrometheusMetrics) SetAugmentation(added, groups int) {
	pm.syntheticRecords.Set(float64(added))
	pm.groupsAugmented.Set(float64(groups))
}

func (pm *PrometheusMetrics) RecordDerivationWarning(kind string, rows int) {
	pm.derivationWarnings.WithLabelValues(kind).Add(float64(rows))
}

// SetPhase records 1 for a passed validation phase and 0 otherwise
func (pm *PrometheusMetrics) SetPhase(phase string, passed bool) {
	value := 0.0
	if passed {
		value = 1
	}
	pm.validationPhasePassed.WithLabelValues(phase).Set(value)
}

// SetRisk records the group statistics of a named dataset
func (pm *PrometheusMetrics) SetRisk(dataset string, minK, minL int, riskPercent float64) {
	pm.minK.WithLabelValues(dataset).Set(float64(minK))
	pm.minL.WithLabelValues(dataset).Set(float64(minL))
	pm.riskPercent.WithLabelValues(dataset).Set(riskPercent)
}

// RecordStorageOperation counts a storage call and its latency
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string, duration time.Duration) {
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) RecordError(component, errorType string) {
	pm.errorsTotal.WithLabelValues(component, errorType).Inc()
}

// WriteTextfile writes the registry to the configured textfile. It does
// nothing when metrics are disabled or no path is set.
func (pm *PrometheusMetrics) WriteTextfile() error {
	if !pm.config.Enabled || pm.config.TextfilePath == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(pm.config.TextfilePath, pm.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	pm.logger.WithField("path", pm.config.TextfilePath).Debug("Metrics textfile written")
	return nil
}

func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"command", "status"},
	)

	pm.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"stage"},
	)

	pm.records = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records",
			Help:      "Number of records in a dataset",
		},
		[]string{"dataset"},
	)

	pm.syntheticRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthetic_records",
			Help:      "Synthetic records added by k-anonymity augmentation",
		},
	)

	pm.groupsAugmented = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "groups_augmented",
			Help:      "Equivalence classes padded up to the target k",
		},
	)

	pm.derivationWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "derivation_fallback_rows_total",
			Help:      "Rows that received a derived column's default label",
		},
		[]string{"kind"},
	)

	pm.validationPhasePassed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "validation_phase_passed",
			Help:      "1 when the validation phase passed, 0 when it failed or was skipped",
		},
		[]string{"phase"},
	)

	pm.minK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "min_k",
			Help:      "Smallest equivalence class size",
		},
		[]string{"dataset"},
	)

	pm.minL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "min_l",
			Help:      "Smallest number of distinct sensitive values in any equivalence class",
		},
		[]string{"dataset"},
	)

	pm.riskPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reidentification_risk_percent",
			Help:      "Share of equivalence classes with exactly one record",
		},
		[]string{"dataset"},
	)

	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	pm.lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() error {
	var registerer prometheus.Registerer = pm.registry
	if len(pm.config.Labels) > 0 {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels(pm.config.Labels), pm.registry)
	}

	metrics := []prometheus.Collector{
		pm.runsTotal,
		pm.stageDuration,
		pm.records,
		pm.syntheticRecords,
		pm.groupsAugmented,
		pm.derivationWarnings,
		pm.validationPhasePassed,
		pm.minK,
		pm.minL,
		pm.riskPercent,
		pm.storageOperationsTotal,
		pm.storageDuration,
		pm.errorsTotal,
		pm.lastRunTimestamp,
	}

	for _, metric := range metrics {
		if err := registerer.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

func getDefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   true,
		Namespace: "deident",
		Subsystem: "pipeline",
		Labels:    make(map[string]string),
	}
}
