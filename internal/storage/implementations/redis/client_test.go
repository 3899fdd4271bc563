package redis

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
)

func TestNewRedisReportStore(t *testing.T) {
	config := &RedisConfig{
		Addr: "localhost:6379",
		DB:   0,
	}

	logger := logrus.New()
	store, err := NewRedisReportStore(config, logger)

	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, config, store.config)
	assert.Equal(t, logger, store.logger)
}

func TestNewRedisReportStoreInvalidConfig(t *testing.T) {
	_, err := NewRedisReportStore(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewRedisReportStore(&RedisConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address or cluster addresses are required")

	_, err = NewRedisReportStore(&RedisConfig{ClusterAddrs: []string{"a:7000", "b:7000"}, UseClustering: true}, nil)
	assert.NoError(t, err)
}

func TestRedisReportStoreGenerateKeys(t *testing.T) {
	store, err := NewRedisReportStore(&RedisConfig{Addr: "localhost:6379", KeyPrefix: "deident", Stream: "runs"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "deident:report:run-1", store.generateReportKey("run-1"))
	assert.Equal(t, "deident:reports", store.generateIndexKey())
	assert.Equal(t, "deident:runs", store.generateStreamKey())

	bare, err := NewRedisReportStore(&RedisConfig{Addr: "localhost:6379", Stream: "runs"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "report:run-1", bare.generateReportKey("run-1"))
	assert.Equal(t, "reports", bare.generateIndexKey())
	assert.Equal(t, "runs", bare.generateStreamKey())
}

func TestReportSummary(t *testing.T) {
	summary := reportSummary(createTestReport())

	assert.Equal(t, "run-1", summary["run_id"])
	assert.Equal(t, false, summary["passed"])
	assert.Equal(t, 12, summary["records"])
	assert.Equal(t, constants.StatusPassed, summary[constants.PhasePIIAbsence])
	assert.Equal(t, constants.StatusFailed, summary[constants.PhaseKAnonymity])
}

func TestRedisReportStoreMetricsIncrements(t *testing.T) {
	store, err := NewRedisReportStore(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, int64(0), store.metrics.readOps)
	assert.Equal(t, int64(0), store.metrics.writeOps)

	store.incrementReadOps()
	store.incrementWriteOps()
	store.incrementErrorCount()
	store.incrementHitCount()
	store.incrementMissCount()

	assert.Equal(t, StoreStats{ReadOps: 1, WriteOps: 1, Errors: 1, Hits: 1, Misses: 1}, store.GetStats())
}

func TestRedisReportStoreDisconnected(t *testing.T) {
	store, err := NewRedisReportStore(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	err = store.SaveReport(ctx, createTestReport())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))

	_, err = store.GetReport(ctx, "run-1")
	assert.Error(t, err)

	_, err = store.ListReports(ctx, 10)
	assert.Error(t, err)

	assert.NoError(t, store.Close())
}

// The following test requires a running Redis instance.

func TestRedisReportStoreIntegration(t *testing.T) {
	t.Skip("Integration test - requires running Redis instance")

	store, err := NewRedisReportStore(&RedisConfig{
		Addr:      "localhost:6379",
		DB:        15,
		TTL:       time.Hour,
		KeyPrefix: "deident-test",
	}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Connect(ctx))
	defer store.Close()

	report := createTestReport()
	require.NoError(t, store.SaveReport(ctx, report))

	got, err := store.GetReport(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, got.RunID)
	assert.Len(t, got.Phases, len(report.Phases))

	ids, err := store.ListReports(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{report.RunID}, ids)

	_, err = store.GetReport(ctx, "does-not-exist")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func createTestReport() *validation.Report {
	return &validation.Report{
		RunID:     "run-1",
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		TargetK:   5,
		TargetL:   2,
		Records:   12,
		Phases: []validation.PhaseResult{
			{Phase: constants.PhasePIIAbsence, Status: constants.StatusPassed},
			{Phase: constants.PhaseKAnonymity, Status: constants.StatusFailed},
			{Phase: constants.PhaseLDiversity, Status: constants.StatusSkipped},
		},
	}
}
