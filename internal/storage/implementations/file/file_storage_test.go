package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/tests/helpers"
)

func TestNewFileStorageDefaults(t *testing.T) {
	storage, err := NewFileStorage(nil, nil)
	require.NoError(t, err)

	assert.True(t, storage.config.CreateDirs)
	assert.Equal(t, ',', storage.config.CSV.Delimiter)
	assert.NotEmpty(t, storage.config.CSV.MissingValues)
	assert.NotNil(t, storage.logger)
}

func TestFileStorageRequiresConnect(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: env.TempDir}, env.Logger)
	require.NoError(t, err)

	_, err = storage.ReadDataset(env.Context, "in.csv")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestFileStorageRoundTrip(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: env.TempDir, CreateDirs: true}, env.Logger)
	require.NoError(t, err)
	require.NoError(t, storage.Connect(env.Context))

	ds := helpers.NewDataset(t, []string{"Age", "Condition"},
		[]string{"18-64", "Flu"},
		[]string{"65+", ""},
	)

	for _, name := range []string{"out/anonymized.csv", "out/anonymized.csv.gz"} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, storage.WriteDataset(env.Context, name, ds))

			back, err := storage.ReadDataset(env.Context, name)
			require.NoError(t, err)
			assert.Equal(t, ds, back)
		})
	}

	info := storage.GetInfo()
	assert.Equal(t, "file", info.Type)
	assert.True(t, info.Connected)
	assert.Equal(t, int64(2), info.ReadOps)
	assert.Equal(t, int64(2), info.WriteOps)

	entries, err := os.ReadDir(filepath.Join(env.TempDir, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must be cleaned up")
}

func TestFileStorageReadMissing(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: env.TempDir}, env.Logger)
	require.NoError(t, err)
	require.NoError(t, storage.Connect(env.Context))

	_, err = storage.ReadDataset(env.Context, "missing.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFileStorageResolvePath(t *testing.T) {
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: "/data"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/in.csv", storage.resolvePath("in.csv"))
	assert.Equal(t, "/tmp/in.csv", storage.resolvePath("/tmp/in.csv"))
	assert.Equal(t, "/tmp/in.csv", storage.resolvePath("file:///tmp/in.csv"))

	bare, err := NewFileStorage(&FileStorageConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "in.csv", bare.resolvePath("./in.csv"))
}

func TestFileStorageConnectRejectsFile(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	path := filepath.Join(env.TempDir, "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	storage, err := NewFileStorage(&FileStorageConfig{BasePath: path}, env.Logger)
	require.NoError(t, err)
	assert.Error(t, storage.Connect(env.Context))
}
