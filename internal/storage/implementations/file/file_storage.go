package file

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/storage/codec"
	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath   string           `json:"base_path" yaml:"base_path" mapstructure:"base_path"`
	CreateDirs bool             `json:"create_dirs" yaml:"create_dirs" mapstructure:"create_dirs"`
	CSV        codec.CSVOptions `json:"csv" yaml:"csv" mapstructure:"csv"`
}

// FileStorage keeps datasets as delimited text files. Locations ending in
// ".gz" are gzip-compressed.
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
	readOps   int64
	writeOps  int64
	since     time.Time
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		config = &FileStorageConfig{CreateDirs: true}
	}
	if config.CSV.Delimiter == 0 {
		defaults := codec.DefaultCSVOptions()
		config.CSV.Delimiter = defaults.Delimiter
		if config.CSV.MissingValues == nil {
			config.CSV.MissingValues = defaults.MissingValues
		}
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
		since:  time.Now(),
	}, nil
}

// Connect checks the base path, creating it when configured to
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.BasePath != "" {
		if fs.config.CreateDirs {
			if err := os.MkdirAll(fs.config.BasePath, 0755); err != nil {
				return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectFailed,
					fmt.Sprintf("failed to create directory: %s", fs.config.BasePath))
			}
		}
		info, err := os.Stat(fs.config.BasePath)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectFailed,
				fmt.Sprintf("base path not usable: %s", fs.config.BasePath))
		}
		if !info.IsDir() {
			return errors.NewStorageError(errors.CodeInvalidConfig, fmt.Sprintf("base path is not a directory: %s", fs.config.BasePath))
		}
	}

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Debug("File storage ready")
	return nil
}

// ReadDataset loads the CSV file at location
func (fs *FileStorage) ReadDataset(ctx context.Context, location string) (*models.Dataset, error) {
	if err := fs.checkConnected(); err != nil {
		return nil, err
	}

	path := fs.resolvePath(location)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapError(errors.ErrNotFound, errors.ErrorTypeStorage, errors.CodeNotFound,
				fmt.Sprintf("file not found: %s", path))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("failed to open %s", path))
	}
	defer f.Close()

	var r io.Reader = f
	if isGzip(path) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("failed to decompress %s", path))
		}
		defer zr.Close()
		r = zr
	}

	ds, err := codec.ReadCSV(r, fs.config.CSV)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("failed to parse %s", path))
	}

	fs.mu.Lock()
	fs.readOps++
	fs.mu.Unlock()

	fs.logger.WithFields(logrus.Fields{
		"path":    path,
		"rows":    ds.Len(),
		"columns": len(ds.Columns),
	}).Info("Dataset loaded")

	return ds, nil
}

// WriteDataset writes ds to location through a temporary file in the same
// directory, so readers never observe a partial file.
func (fs *FileStorage) WriteDataset(ctx context.Context, location string, ds *models.Dataset) error {
	if err := fs.checkConnected(); err != nil {
		return err
	}
	if ds == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "dataset cannot be nil")
	}

	path := fs.resolvePath(location)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("failed to create directory: %s", dir))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("failed to create temp file in %s", dir))
	}
	defer os.Remove(tmp.Name())

	if err := fs.encode(ctx, tmp, path, ds); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("failed to write %s", path))
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("failed to write %s", path))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("failed to move output into %s", path))
	}

	fs.mu.Lock()
	fs.writeOps++
	fs.mu.Unlock()

	fs.logger.WithFields(logrus.Fields{
		"path": path,
		"rows": ds.Len(),
	}).Info("Dataset written")

	return nil
}

// GetInfo returns information about the file storage
func (fs *FileStorage) GetInfo() interfaces.StorageInfo {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return interfaces.StorageInfo{
		Type:        "file",
		Description: "Delimited text files on the local filesystem",
		Connected:   fs.connected,
		ReadOps:     fs.readOps,
		WriteOps:    fs.writeOps,
		Since:       fs.since,
	}
}

// Close releases the storage
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.connected = false
	return nil
}

func (fs *FileStorage) encode(ctx context.Context, w io.Writer, path string, ds *models.Dataset) error {
	if !isGzip(path) {
		return codec.WriteCSV(ctx, w, ds, fs.config.CSV)
	}
	zw := gzip.NewWriter(w)
	if err := codec.WriteCSV(ctx, zw, ds, fs.config.CSV); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (fs *FileStorage) checkConnected() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return errors.NewStorageError(errors.CodeNotConnected, "file storage is not connected")
	}
	return nil
}

func (fs *FileStorage) resolvePath(location string) string {
	location = strings.TrimPrefix(location, "file://")
	if fs.config.BasePath == "" || filepath.IsAbs(location) {
		return filepath.Clean(location)
	}
	return filepath.Join(fs.config.BasePath, location)
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
