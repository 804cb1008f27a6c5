package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	config, err := FromEnv()
	require.NoError(t, err)

	assert.Empty(t, config.Scrape.CrawlID, "empty crawl id means resolve latest")
	assert.Equal(t, 4, config.Scrape.Concurrency)
	assert.Equal(t, 45*time.Second, config.Fetcher.Timeout)
	assert.Equal(t, 3, config.Fetcher.MaxRetries)
	assert.Equal(t, 5.0, config.Rate.InitialRPS)
	assert.False(t, config.Storage.R2.Enabled())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CRAWL_ID", "CC-MAIN-2024-33")
	t.Setenv("CONCURRENCY", "8")
	t.Setenv("RATE_LIMIT_RPS", "10")
	t.Setenv("MIN_RPS", "2")
	t.Setenv("MAX_RPS", "40")
	t.Setenv("TIMEOUT_MS", "30000")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("STORAGE_PATH", "/var/harvest")
	t.Setenv("DATABASE_URL", "postgres://user:pw@db/harvest")
	t.Setenv("EXTRACT_WORKERS", "6")
	t.Setenv("EXTRACT_OUTPUT_PREFIX", "texts")

	config, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "CC-MAIN-2024-33", config.Scrape.CrawlID)
	assert.Equal(t, 8, config.Scrape.Concurrency)
	assert.Equal(t, 10.0, config.Rate.InitialRPS)
	assert.Equal(t, 2.0, config.Rate.MinRPS)
	assert.Equal(t, 30*time.Second, config.Fetcher.Timeout)
	assert.Equal(t, 5, config.Fetcher.MaxRetries)
	assert.Equal(t, "/var/harvest", config.Storage.Path)
	assert.Equal(t, "postgres://user:pw@db/harvest", config.Database.URL)
	assert.Equal(t, 6, config.Extract.Workers)
	assert.Equal(t, "texts", config.Extract.OutputPrefix)
}

func TestFromEnvR2Selection(t *testing.T) {
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET_NAME", "harvest")

	config, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, config.Storage.R2.Enabled())
	assert.Equal(t, "harvest", config.Storage.R2.Bucket)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric concurrency", "CONCURRENCY", "many"},
		{"zero concurrency", "CONCURRENCY", "0"},
		{"concurrency over cap", "CONCURRENCY", "100"},
		{"negative timeout", "TIMEOUT_MS", "-1"},
		{"retries over cap", "MAX_RETRIES", "11"},
		{"min above initial", "MIN_RPS", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
