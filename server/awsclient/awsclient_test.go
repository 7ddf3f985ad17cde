package awsclient

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_REGION", "eu-west-1")
}

func TestLoad_RegionOverride(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background(), "us-east-2")
	require.NoError(t, err)
	assert.Equal(t, "us-east-2", cfg.Region)
}

func TestLoad_EnvironmentRegion(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestS3_ReportsRegion(t *testing.T) {
	isolate(t)

	client, region, err := S3(context.Background(), "ap-south-1")
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, "ap-south-1", region)
}
