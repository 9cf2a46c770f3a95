package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/batchrun/internal/archive/drivers"
	"github.com/OpenNSW/batchrun/internal/config"
)

func TestNewStorageFromConfig(t *testing.T) {
	ctx := context.Background()

	driver, err := NewStorageFromConfig(ctx, config.StorageConfig{Type: "local", LocalBaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &drivers.LocalFSDriver{}, driver)

	driver, err = NewStorageFromConfig(ctx, config.StorageConfig{
		Type:        "s3",
		S3Bucket:    "results",
		S3Region:    "eu-west-1",
		S3Endpoint:  "http://127.0.0.1:9000",
		S3AccessKey: "key",
		S3SecretKey: "secret",
	})
	require.NoError(t, err)
	assert.IsType(t, &drivers.S3Driver{}, driver)

	_, err = NewStorageFromConfig(ctx, config.StorageConfig{Type: "gcs"})
	assert.ErrorContains(t, err, "unsupported storage type")
}
