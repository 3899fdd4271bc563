package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// Load reads the dataset at location through the storage factory
func (p *Pipeline) Load(ctx context.Context, location string) (*models.Dataset, error) {
	var ds *models.Dataset
	err := p.withStorage(ctx, location, "read", func(s interfaces.DatasetStorage, target string) error {
		var err error
		ds, err = s.ReadDataset(ctx, target)
		return err
	})
	return ds, err
}

// Store writes ds to location through the storage factory
func (p *Pipeline) Store(ctx context.Context, location string, ds *models.Dataset) error {
	return p.withStorage(ctx, location, "write", func(s interfaces.DatasetStorage, target string) error {
		return s.WriteDataset(ctx, target, ds)
	})
}

func (p *Pipeline) withStorage(ctx context.Context, location, operation string, fn func(interfaces.DatasetStorage, string) error) error {
	start := time.Now()
	s, target, err := p.factory.Open(ctx, location)
	if err != nil {
		return err
	}
	backend := s.GetInfo().Type

	err = fn(s, target)
	if cerr := s.Close(); cerr != nil {
		p.logger.WithError(cerr).WithField("backend", backend).Warn("Failed to close storage")
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.RecordStorageOperation(backend, operation, status, time.Since(start))
	}

	p.logger.WithFields(logrus.Fields{
		"backend":   backend,
		"operation": operation,
		"location":  target,
		"status":    status,
	}).Debug("Storage operation")

	return err
}

func errorType(err error) string {
	if errType, ok := errors.TypeOf(err); ok {
		return string(errType)
	}
	return "unknown"
}
