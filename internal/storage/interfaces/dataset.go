// Package interfaces declares the storage contracts used by the pipeline.
package interfaces

import (
	"context"
	"time"

	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/pkg/models"
)

// DatasetStorage reads and writes whole datasets at a location. The meaning
// of a location depends on the backend: a file path, an object key, a table.
type DatasetStorage interface {
	// Connect prepares the backend; it is a no-op when already connected
	Connect(ctx context.Context) error

	// ReadDataset loads the complete dataset stored at location
	ReadDataset(ctx context.Context, location string) (*models.Dataset, error)

	// WriteDataset replaces whatever is stored at location with ds
	WriteDataset(ctx context.Context, location string, ds *models.Dataset) error

	// GetInfo describes the backend
	GetInfo() StorageInfo

	Close() error
}

// ReportStore keeps validation reports by run ID.
type ReportStore interface {
	SaveReport(ctx context.Context, report *validation.Report) error
	GetReport(ctx context.Context, runID string) (*validation.Report, error)

	// ListReports returns run IDs, newest first
	ListReports(ctx context.Context, limit int64) ([]string, error)

	Close() error
}

// StorageInfo describes a storage backend
type StorageInfo struct {
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	Connected    bool      `json:"connected"`
	ReadOps      int64     `json:"read_ops"`
	WriteOps     int64     `json:"write_ops"`
	Errors       int64     `json:"errors,omitempty"`
	BytesRead    int64     `json:"bytes_read,omitempty"`
	BytesWritten int64     `json:"bytes_written,omitempty"`
	Since        time.Time `json:"since"`
}
