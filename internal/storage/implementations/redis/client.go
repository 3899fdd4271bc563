package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/pkg/errors"
)

// RedisConfig holds configuration for the Redis report store
type RedisConfig struct {
	Addr          string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password      string        `json:"password" yaml:"password" mapstructure:"password"`
	DB            int           `json:"db" yaml:"db" mapstructure:"db"`
	DialTimeout   time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	PoolSize      int           `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	TTL           time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix     string        `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
	UseClustering bool          `json:"use_clustering" yaml:"use_clustering" mapstructure:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs" yaml:"cluster_addrs" mapstructure:"cluster_addrs"`

	// Stream, when set, receives one summary entry per saved report.
	Stream       string `json:"stream" yaml:"stream" mapstructure:"stream"`
	StreamMaxLen int64  `json:"stream_max_len" yaml:"stream_max_len" mapstructure:"stream_max_len"`
}

// RedisReportStore keeps validation reports as JSON strings indexed by a
// sorted set scored by report timestamp.
type RedisReportStore struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storeMetrics
	closed  bool
}

type storeMetrics struct {
	readOps    int64
	writeOps   int64
	errorCount int64
	hitCount   int64
	missCount  int64
	mu         sync.RWMutex
}

// NewRedisReportStore creates a new Redis report store
func NewRedisReportStore(config *RedisConfig, logger *logrus.Logger) (*RedisReportStore, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address or cluster addresses are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisReportStore{
		config:  config,
		logger:  logger,
		metrics: &storeMetrics{},
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisReportStore) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	var client redis.UniversalClient
	if r.config.UseClustering && len(r.config.ClusterAddrs) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        r.config.ClusterAddrs,
			Password:     r.config.Password,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MaxRetries:   r.config.MaxRetries,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         r.config.Addr,
			Password:     r.config.Password,
			DB:           r.config.DB,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MaxRetries:   r.config.MaxRetries,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectFailed, "failed to connect to Redis")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (r *RedisReportStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.client == nil {
		r.closed = true
		return nil
	}

	err := r.client.Close()
	r.client = nil
	r.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInternalError, "failed to close Redis connection")
	}

	stats := r.GetStats()
	r.logger.WithFields(logrus.Fields{
		"reads":  stats.ReadOps,
		"writes": stats.WriteOps,
		"errors": stats.Errors,
		"hits":   stats.Hits,
		"misses": stats.Misses,
	}).Debug("Redis connection closed")
	return nil
}

// StoreStats counts report store operations since the store was created.
type StoreStats struct {
	ReadOps  int64 `json:"read_ops"`
	WriteOps int64 `json:"write_ops"`
	Errors   int64 `json:"errors"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// GetStats returns the operation counters
func (r *RedisReportStore) GetStats() StoreStats {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return StoreStats{
		ReadOps:  r.metrics.readOps,
		WriteOps: r.metrics.writeOps,
		Errors:   r.metrics.errorCount,
		Hits:     r.metrics.hitCount,
		Misses:   r.metrics.missCount,
	}
}

// SaveReport stores report under its run ID and records it in the index
func (r *RedisReportStore) SaveReport(ctx context.Context, report *validation.Report) error {
	client, err := r.getClient()
	if err != nil {
		return err
	}
	if report == nil || report.RunID == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "report with a run ID is required")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to encode report")
	}

	ts := report.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, r.generateReportKey(report.RunID), payload, r.config.TTL)
	pipe.ZAdd(ctx, r.generateIndexKey(), &redis.Z{
		Score:  float64(ts.UnixNano()),
		Member: report.RunID,
	})
	if r.config.Stream != "" {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.generateStreamKey(),
			MaxLen: r.config.StreamMaxLen,
			Approx: r.config.StreamMaxLen > 0,
			Values: reportSummary(report),
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to save report to Redis")
	}

	r.incrementWriteOps()
	r.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"passed": report.Passed,
	}).Info("Validation report stored in Redis")

	return nil
}

// GetReport loads the report stored for runID
func (r *RedisReportStore) GetReport(ctx context.Context, runID string) (*validation.Report, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	payload, err := client.Get(ctx, r.generateReportKey(runID)).Bytes()
	if err == redis.Nil {
		r.incrementMissCount()
		return nil, errors.WrapError(errors.ErrNotFound, errors.ErrorTypeStorage, errors.CodeNotFound,
			fmt.Sprintf("report %s not found", runID))
	}
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to read report from Redis")
	}

	var report validation.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("report %s is corrupted", runID))
	}

	r.incrementHitCount()
	r.incrementReadOps()
	return &report, nil
}

// ListReports returns up to limit run IDs, newest first. A limit of zero or
// less returns every indexed run.
func (r *RedisReportStore) ListReports(ctx context.Context, limit int64) ([]string, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}

	ids, err := client.ZRevRange(ctx, r.generateIndexKey(), 0, stop).Result()
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to list reports")
	}

	r.incrementReadOps()
	return ids, nil
}

func (r *RedisReportStore) getClient() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}
	return r.client, nil
}

func (r *RedisReportStore) generateReportKey(runID string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:report:%s", r.config.KeyPrefix, runID)
	}
	return fmt.Sprintf("report:%s", runID)
}

func (r *RedisReportStore) generateIndexKey() string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:reports", r.config.KeyPrefix)
	}
	return "reports"
}

func (r *RedisReportStore) generateStreamKey() string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, r.config.Stream)
	}
	return r.config.Stream
}

func reportSummary(report *validation.Report) map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":  report.RunID,
		"passed":  report.Passed,
		"records": report.Records,
		"k":       report.TargetK,
		"l":       report.TargetL,
	}
	for _, p := range report.Phases {
		fields[p.Phase] = p.Status
	}
	return fields
}

func (r *RedisReportStore) incrementReadOps() {
	r.metrics.mu.Lock()
	r.metrics.readOps++
	r.metrics.mu.Unlock()
}

func (r *RedisReportStore) incrementWriteOps() {
	r.metrics.mu.Lock()
	r.metrics.writeOps++
	r.metrics.mu.Unlock()
}

func (r *RedisReportStore) incrementErrorCount() {
	r.metrics.mu.Lock()
	r.metrics.errorCount++
	r.metrics.mu.Unlock()
}

func (r *RedisReportStore) incrementHitCount() {
	r.metrics.mu.Lock()
	r.metrics.hitCount++
	r.metrics.mu.Unlock()
}

func (r *RedisReportStore) incrementMissCount() {
	r.metrics.mu.Lock()
	r.metrics.missCount++
	r.metrics.mu.Unlock()
}
