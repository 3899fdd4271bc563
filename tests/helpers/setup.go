package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/models"
)

// TestEnvironment provides a logger and a bounded context for a test.
type TestEnvironment struct {
	Logger  *logrus.Logger
	Context context.Context
	Cancel  context.CancelFunc
	TempDir string
	T       *testing.T
}

// NewTestEnvironment creates a new test environment
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	return &TestEnvironment{
		Logger:  logger,
		Context: ctx,
		Cancel:  cancel,
		TempDir: t.TempDir(),
		T:       t,
	}
}

// QuietLogger returns a logger that only reports errors.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// NewDataset builds a dataset from text rows; empty cells and the usual NA
// spellings are undefined.
func NewDataset(t *testing.T, columns []string, rows ...[]string) *models.Dataset {
	t.Helper()

	ds, err := models.FromStrings(columns, rows, constants.MissingValueSpellings)
	require.NoError(t, err)
	return ds
}

// RepeatRows returns n copies of row.
func RepeatRows(row []string, n int) [][]string {
	out := make([][]string, n)
	for i := range out {
		out[i] = append([]string(nil), row...)
	}
	return out
}
