package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Caia-Tech/caia-harvest/internal/archive"
	"github.com/Caia-Tech/caia-harvest/internal/blob"
	"github.com/Caia-Tech/caia-harvest/internal/extract"
	"github.com/Caia-Tech/caia-harvest/internal/scrape"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
	"github.com/Caia-Tech/caia-harvest/pkg/ratelimit"
)

// Config holds the complete harvest pipeline configuration.
type Config struct {
	Logging *logging.LogConfig `json:"logging"`

	Scrape  *scrape.Config            `json:"scrape"`
	Rate    *ratelimit.AdaptiveConfig `json:"rate"`
	Fetcher *archive.FetcherConfig    `json:"fetcher"`
	Extract *extract.Config           `json:"extract"`

	Storage  *StorageConfig  `json:"storage"`
	Database *DatabaseConfig `json:"database"`
	Server   *ServerConfig   `json:"server"`
}

// StorageConfig selects the blob backend: when every R2 credential field is
// set the blob API is used, otherwise the local filesystem under Path.
type StorageConfig struct {
	Path string        `json:"path"`
	R2   blob.R2Config `json:"r2"`
}

// DatabaseConfig names the metadata database. A postgres:// URL selects
// Postgres; anything else is treated as a SQLite path.
type DatabaseConfig struct {
	URL string `json:"url"`
}

// ServerConfig holds the status server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DefaultConfig returns the defaults used without any environment.
func DefaultConfig() *Config {
	return &Config{
		Logging: &logging.LogConfig{
			Level:   "info",
			Format:  "json",
			Console: true,
		},
		Scrape: &scrape.Config{
			Concurrency: 4,
		},
		Rate:    ratelimit.DefaultAdaptiveConfig(),
		Fetcher: archive.DefaultFetcherConfig(),
		Extract: extract.DefaultConfig(),
		Storage: &StorageConfig{
			Path: "./data/blobs",
		},
		Database: &DatabaseConfig{
			URL: "./data/harvest.db",
		},
		Server: &ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// FromEnv loads configuration from the environment, reading a .env file
// first when present. Unset variables keep their defaults.
func FromEnv() (*Config, error) {
	// Missing .env is the normal production case.
	godotenv.Load()

	config := DefaultConfig()

	config.Scrape.CrawlID = os.Getenv("CRAWL_ID")
	if err := envInt("CONCURRENCY", &config.Scrape.Concurrency); err != nil {
		return nil, err
	}
	if err := envInt("BATCH_SIZE", &config.Scrape.BatchSize); err != nil {
		return nil, err
	}

	if err := envFloat("RATE_LIMIT_RPS", &config.Rate.InitialRPS); err != nil {
		return nil, err
	}
	if err := envFloat("MIN_RPS", &config.Rate.MinRPS); err != nil {
		return nil, err
	}
	if err := envFloat("MAX_RPS", &config.Rate.MaxRPS); err != nil {
		return nil, err
	}

	if err := envMillis("TIMEOUT_MS", &config.Fetcher.Timeout); err != nil {
		return nil, err
	}
	if err := envInt("MAX_RETRIES", &config.Fetcher.MaxRetries); err != nil {
		return nil, err
	}
	if err := envMillis("MAX_BACKOFF_MS", &config.Fetcher.MaxBackoff); err != nil {
		return nil, err
	}

	if v := os.Getenv("STORAGE_PATH"); v != "" {
		config.Storage.Path = v
	}
	config.Storage.R2 = blob.R2Config{
		AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		Bucket:          os.Getenv("R2_BUCKET_NAME"),
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}

	if v := os.Getenv("EXTRACT_INPUT_PREFIX"); v != "" {
		config.Extract.InputPrefix = v
	}
	if v := os.Getenv("EXTRACT_OUTPUT_PREFIX"); v != "" {
		config.Extract.OutputPrefix = v
	}
	if err := envInt("EXTRACT_BATCH_SIZE", &config.Extract.BatchLimit); err != nil {
		return nil, err
	}
	if err := envInt("EXTRACT_WORKERS", &config.Extract.Workers); err != nil {
		return nil, err
	}
	config.Extract.Command = os.Getenv("EXTRACT_COMMAND")
	if v := os.Getenv("EXTRACT_ARGS"); v != "" {
		config.Extract.Args = strings.Fields(v)
	}
	if err := envMillis("EXTRACT_TIMEOUT_MS", &config.Extract.DocTimeout); err != nil {
		return nil, err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if err := envInt("STATUS_PORT", &config.Server.Port); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Scrape.Concurrency < 1 || c.Scrape.Concurrency > 50 {
		return fmt.Errorf("CONCURRENCY must be between 1 and 50, got %d", c.Scrape.Concurrency)
	}
	if c.Rate.MinRPS <= 0 || c.Rate.InitialRPS < c.Rate.MinRPS || c.Rate.MaxRPS < c.Rate.InitialRPS {
		return fmt.Errorf("rate limits must satisfy 0 < MIN_RPS <= RATE_LIMIT_RPS <= MAX_RPS")
	}
	if c.Fetcher.MaxRetries < 0 || c.Fetcher.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES must be between 0 and 10, got %d", c.Fetcher.MaxRetries)
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("TIMEOUT_MS must be positive")
	}
	if !c.Storage.R2.Enabled() && c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required without R2 credentials")
	}
	return nil
}

// BlobStore opens the configured blob backend.
func (c *Config) BlobStore(ctx context.Context) (blob.Store, error) {
	if c.Storage.R2.Enabled() {
		return blob.NewR2Store(ctx, &c.Storage.R2)
	}
	return blob.NewLocalStore(c.Storage.Path)
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", name, v)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", name, v)
	}
	*dst = f
	return nil
}

func envMillis(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fmt.Errorf("%s: %q is not a positive millisecond count", name, v)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
