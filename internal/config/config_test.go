package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "aws:\n  enabled: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "MONTHLY", cfg.AWS.Granularity)
	assert.Equal(t, []string{"AmortizedCost"}, cfg.AWS.Metrics)
	assert.NotEmpty(t, cfg.AWS.Groupings)
	assert.Equal(t, time.Second, cfg.AWS.Throttle.Short)

	assert.Equal(t, "2025-03-01", cfg.Azure.APIVersion)
	assert.Equal(t, 10*time.Second, cfg.Azure.Throttle.Short)
	assert.Equal(t, 60*time.Second, cfg.Azure.Throttle.Long)
	assert.Equal(t, 3, cfg.Azure.Throttle.CallsBeforeLong)

	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 20, cfg.Report.TopN)
	assert.Equal(t, "INR", cfg.FX.From)
	assert.Equal(t, "USD", cfg.FX.To)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_SUBSCRIPTION", "1cbd30d4-5a1f-4cb1-839f-5b8b66807c1d")

	cfg, err := Load(writeConfig(t, `
azure:
  enabled: true
  subscription_id: ${TEST_SUBSCRIPTION}
`))
	require.NoError(t, err)
	assert.Equal(t, "1cbd30d4-5a1f-4cb1-839f-5b8b66807c1d", cfg.Azure.SubscriptionID)
}

func TestLoadExplicitValuesSurviveDefaulting(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
aws:
  granularity: DAILY
  groupings:
    - {type: DIMENSION, key: SERVICE}
azure:
  throttle:
    short: 2s
    long: 20s
    calls_before_long: 5
storage:
  backend: s3
  bucket: cost-reports
  endpoint: http://minio:9000
`))
	require.NoError(t, err)

	assert.Equal(t, "DAILY", cfg.AWS.Granularity)
	require.Len(t, cfg.AWS.Groupings, 1)
	assert.Equal(t, "SERVICE", cfg.AWS.Groupings[0].Key)
	assert.Equal(t, 2*time.Second, cfg.Azure.Throttle.Short)
	assert.Equal(t, 5, cfg.Azure.Throttle.CallsBeforeLong)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "http://minio:9000", cfg.Storage.Endpoint)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
