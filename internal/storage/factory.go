// Package storage resolves dataset location URIs to storage backends.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/storage/implementations/file"
	"github.com/inferloop/deident/internal/storage/implementations/postgres"
	"github.com/inferloop/deident/internal/storage/implementations/redis"
	"github.com/inferloop/deident/internal/storage/implementations/s3"
	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// Config carries per-backend settings. Values in a location URI override them.
type Config struct {
	File     file.FileStorageConfig  `json:"file" yaml:"file" mapstructure:"file"`
	S3       s3.S3Config             `json:"s3" yaml:"s3" mapstructure:"s3"`
	Postgres postgres.PostgresConfig `json:"postgres" yaml:"postgres" mapstructure:"postgres"`
	Redis    redis.RedisConfig       `json:"redis" yaml:"redis" mapstructure:"redis"`
}

// CreateFunc builds a backend for u and returns the backend-relative location.
type CreateFunc func(u *url.URL) (interfaces.DatasetStorage, string, error)

// Factory maps URI schemes to storage backends
type Factory struct {
	config   *Config
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the file, s3 and postgres
// backends registered.
func NewFactory(config *Config, logger *logrus.Logger) *Factory {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		config:   config,
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}

	factory.registerDefaults()

	return factory
}

// RegisterStorage registers a backend for a URI scheme
func (f *Factory) RegisterStorage(scheme string, createFunc CreateFunc) error {
	if scheme == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "storage scheme cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[strings.ToLower(scheme)] = createFunc

	f.logger.WithField("scheme", scheme).Debug("Registered storage type")
	return nil
}

// GetSupportedTypes returns the registered schemes, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for scheme := range f.creators {
		types = append(types, scheme)
	}
	sort.Strings(types)

	return types
}

// IsSupported checks if a scheme is registered
func (f *Factory) IsSupported(scheme string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[strings.ToLower(scheme)]
	return exists
}

// Resolve returns an unconnected backend for location along with the
// location as that backend understands it. A location without a scheme is a
// local file path.
func (f *Factory) Resolve(location string) (interfaces.DatasetStorage, string, error) {
	if strings.TrimSpace(location) == "" {
		return nil, "", errors.NewValidationError(errors.CodeInvalidInput, "storage location is required")
	}

	scheme := constants.StorageTypeFile
	u := &url.URL{Scheme: scheme, Path: location}
	if strings.Contains(location, "://") {
		parsed, err := url.Parse(location)
		if err != nil {
			return nil, "", errors.WrapError(errors.ErrUnsupportedURI, errors.ErrorTypeStorage, errors.CodeUnsupportedURI,
				fmt.Sprintf("invalid location %q", location)).WithDetails(err.Error())
		}
		u = parsed
		scheme = strings.ToLower(parsed.Scheme)
	}

	f.mu.RLock()
	createFunc, exists := f.creators[scheme]
	f.mu.RUnlock()

	if !exists {
		return nil, "", errors.WrapError(errors.ErrUnsupportedURI, errors.ErrorTypeStorage, errors.CodeUnsupportedURI,
			fmt.Sprintf("storage scheme %q is not supported", scheme))
	}

	storage, target, err := createFunc(u)
	if err != nil {
		return nil, "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidConfig,
			fmt.Sprintf("failed to create %s storage", scheme))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": scheme,
		"location":     target,
	}).Debug("Resolved storage location")

	return storage, target, nil
}

// Open resolves location and connects the backend. The caller closes it.
func (f *Factory) Open(ctx context.Context, location string) (interfaces.DatasetStorage, string, error) {
	storage, target, err := f.Resolve(location)
	if err != nil {
		return nil, "", err
	}
	if err := storage.Connect(ctx); err != nil {
		return nil, "", err
	}
	return storage, target, nil
}

// ReadDataset loads the dataset at location with a short-lived backend
func (f *Factory) ReadDataset(ctx context.Context, location string) (*models.Dataset, error) {
	storage, target, err := f.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer storage.Close()

	return storage.ReadDataset(ctx, target)
}

// WriteDataset stores ds at location with a short-lived backend
func (f *Factory) WriteDataset(ctx context.Context, location string, ds *models.Dataset) error {
	storage, target, err := f.Open(ctx, location)
	if err != nil {
		return err
	}
	defer storage.Close()

	return storage.WriteDataset(ctx, target, ds)
}

// NewReportStore creates the Redis report store. A non-empty addr overrides
// the configured address.
func (f *Factory) NewReportStore(addr string) (*redis.RedisReportStore, error) {
	config := f.config.Redis
	if addr != "" {
		config.Addr = addr
		config.UseClustering = false
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = constants.DefaultReportPrefix
	}
	if config.TTL == 0 {
		config.TTL = constants.DefaultReportTTL
	}
	return redis.NewRedisReportStore(&config, f.logger)
}

func (f *Factory) registerDefaults() {
	f.RegisterStorage(constants.StorageTypeFile, func(u *url.URL) (interfaces.DatasetStorage, string, error) {
		config := f.config.File
		location := u.Path
		if u.Host != "" {
			location = u.Host + u.Path
		}
		storage, err := file.NewFileStorage(&config, f.logger)
		return storage, location, err
	})

	f.RegisterStorage(constants.StorageTypeS3, func(u *url.URL) (interfaces.DatasetStorage, string, error) {
		config := f.config.S3
		config.Bucket = u.Host
		key := strings.TrimPrefix(u.Path, "/")
		if key == "" {
			return nil, "", fmt.Errorf("s3 location %q has no object key", u.String())
		}
		storage, err := s3.NewS3Storage(&config, f.logger)
		return storage, key, err
	})

	postgresCreator := func(u *url.URL) (interfaces.DatasetStorage, string, error) {
		query := u.Query()
		table := query.Get("table")
		if table == "" {
			return nil, "", fmt.Errorf("postgres location needs a table parameter")
		}
		query.Del("table")

		dsn := *u
		dsn.Scheme = "postgres"
		dsn.RawQuery = query.Encode()

		config := f.config.Postgres
		config.DSN = dsn.String()
		storage, err := postgres.NewPostgresStorage(&config, f.logger)
		return storage, table, err
	}
	f.RegisterStorage(constants.StorageTypePostgres, postgresCreator)
	f.RegisterStorage("postgresql", postgresCreator)
}
