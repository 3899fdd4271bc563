package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/storage/codec"
	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string           `json:"region" yaml:"region" mapstructure:"region"`
	Bucket          string           `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string           `json:"access_key_id" yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string           `json:"secret_access_key" yaml:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string           `json:"session_token,omitempty" yaml:"session_token" mapstructure:"session_token"`
	Endpoint        string           `json:"endpoint,omitempty" yaml:"endpoint" mapstructure:"endpoint"`
	ForcePathStyle  bool             `json:"force_path_style" yaml:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool             `json:"disable_ssl" yaml:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string           `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	MaxRetries      int              `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	PartSize        int64            `json:"part_size" yaml:"part_size" mapstructure:"part_size"`
	UseCompression  bool             `json:"use_compression" yaml:"use_compression" mapstructure:"use_compression"`
	StorageClass    string           `json:"storage_class" yaml:"storage_class" mapstructure:"storage_class"`
	CSV             codec.CSVOptions `json:"csv" yaml:"csv" mapstructure:"csv"`
}

// S3Storage keeps datasets as CSV objects in one bucket.
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	metrics    *storageMetrics
	closed     bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	if config.CSV.Delimiter == 0 {
		config.CSV = codec.DefaultCSVOptions()
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes connection to S3
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectFailed, "failed to create AWS session")
	}

	s.s3Client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)

	if s.config.PartSize > 0 {
		s.uploader.PartSize = s.config.PartSize
	}

	_, err = s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		s.s3Client = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectFailed,
			fmt.Sprintf("failed to access bucket '%s'", s.config.Bucket))
	}

	s.closed = false
	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")

	return nil
}

// Close closes the S3 connection
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true

	s.logger.Debug("S3 connection closed")
	return nil
}

// GetInfo returns information about the S3 storage
func (s *S3Storage) GetInfo() interfaces.StorageInfo {
	s.mu.RLock()
	connected := !s.closed && s.s3Client != nil
	s.mu.RUnlock()

	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return interfaces.StorageInfo{
		Type:         "s3",
		Description:  fmt.Sprintf("CSV objects in s3://%s/%s", s.config.Bucket, s.config.Prefix),
		Connected:    connected,
		ReadOps:      s.metrics.readOps,
		WriteOps:     s.metrics.writeOps,
		Errors:       s.metrics.errorCount,
		BytesRead:    s.metrics.bytesRead,
		BytesWritten: s.metrics.bytesWritten,
		Since:        s.metrics.startTime,
	}
}

// ReadDataset downloads and parses the object at key
func (s *S3Storage) ReadDataset(ctx context.Context, key string) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "S3 not connected")
	}

	objectKey := s.generateKey(key)
	buf := aws.NewWriteAtBuffer(nil)
	n, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		s.incrementErrorCount()
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.WrapError(errors.ErrNotFound, errors.ErrorTypeStorage, errors.CodeNotFound,
				fmt.Sprintf("object not found: s3://%s/%s", s.config.Bucket, objectKey))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("failed to download s3://%s/%s", s.config.Bucket, objectKey))
	}

	var r io.Reader = bytes.NewReader(buf.Bytes())
	if isCompressed(objectKey, buf.Bytes()) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to decompress object")
		}
		defer zr.Close()
		r = zr
	}

	ds, err := codec.ReadCSV(r, s.config.CSV)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("failed to parse s3://%s/%s", s.config.Bucket, objectKey))
	}

	s.incrementReadOps()
	s.incrementBytesRead(n)
	s.logger.WithFields(logrus.Fields{
		"key":  objectKey,
		"rows": ds.Len(),
	}).Info("Dataset downloaded from S3")

	return ds, nil
}

// WriteDataset encodes ds as CSV and uploads it to key
func (s *S3Storage) WriteDataset(ctx context.Context, key string, ds *models.Dataset) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "S3 not connected")
	}
	if ds == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "dataset cannot be nil")
	}

	objectKey := s.generateKey(key)
	body, encoding, err := s.encode(ctx, objectKey, ds)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to encode dataset")
	}

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]*string{
			"rows":    aws.String(fmt.Sprint(ds.Len())),
			"columns": aws.String(fmt.Sprint(len(ds.Columns))),
		},
	}
	if encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to upload s3://%s/%s", s.config.Bucket, objectKey))
	}

	s.incrementWriteOps()
	s.incrementBytesWritten(int64(len(body)))
	s.logger.WithFields(logrus.Fields{
		"key":   objectKey,
		"rows":  ds.Len(),
		"bytes": len(body),
	}).Info("Dataset uploaded to S3")

	return nil
}

func (s *S3Storage) encode(ctx context.Context, key string, ds *models.Dataset) ([]byte, string, error) {
	var buf bytes.Buffer
	if !s.config.UseCompression && !strings.HasSuffix(key, ".gz") {
		err := codec.WriteCSV(ctx, &buf, ds, s.config.CSV)
		return buf.Bytes(), "", err
	}

	zw := gzip.NewWriter(&buf)
	if err := codec.WriteCSV(ctx, zw, ds, s.config.CSV); err != nil {
		zw.Close()
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "gzip", nil
}

func (s *S3Storage) generateKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.config.Prefix != "" {
		return path.Join(s.config.Prefix, key)
	}
	return key
}

// isCompressed reports gzip content by suffix or magic bytes.
func isCompressed(key string, data []byte) bool {
	if strings.HasSuffix(key, ".gz") {
		return true
	}
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func (s *S3Storage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesRead(bytes int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesRead += bytes
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesWritten(bytes int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesWritten += bytes
	s.metrics.mu.Unlock()
}
