package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Caia-Tech/caia-harvest/internal/cdx"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
	"github.com/Caia-Tech/caia-harvest/pkg/ratelimit"
)

// DefaultBaseURL is the Common Crawl data endpoint holding the archive
// containers referenced by CDX records.
const DefaultBaseURL = "https://data.commoncrawl.org"

const userAgent = "caia-harvest/1.0 (https://github.com/Caia-Tech/caia-harvest; library@caiatech.com)"

// FetcherConfig configures the ranged fetcher.
type FetcherConfig struct {
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	MaxBackoff time.Duration `json:"max_backoff"`
}

// DefaultFetcherConfig returns the defaults used against the live endpoint.
func DefaultFetcherConfig() *FetcherConfig {
	return &FetcherConfig{
		BaseURL:    DefaultBaseURL,
		Timeout:    45 * time.Second,
		MaxRetries: 3,
		MaxBackoff: 60 * time.Second,
	}
}

// Result is a successfully fetched and parsed archive record.
type Result struct {
	Content       []byte
	HTTPStatus    int
	ContentType   string
	ContentLength int
}

// Fetcher pulls single archive records out of crawl containers with HTTP
// byte-range requests. Every request first acquires a token from the
// shared adaptive limiter.
type Fetcher struct {
	client  *http.Client
	config  *FetcherConfig
	limiter *ratelimit.AdaptiveLimiter
}

// NewFetcher builds a fetcher sharing the given rate limiter.
func NewFetcher(config *FetcherConfig, limiter *ratelimit.AdaptiveLimiter) *Fetcher {
	if config == nil {
		config = DefaultFetcherConfig()
	}
	return &Fetcher{
		// Per-request deadlines come from the context, not the client.
		client:  &http.Client{},
		config:  config,
		limiter: limiter,
	}
}

// Fetch downloads the byte range named by record, decompresses it, and
// parses out the stored HTTP response. 429/503 (and 403, which on this
// endpoint signals an hour-scale IP block) are retried with exponential
// backoff up to the retry budget; other non-2xx statuses fail immediately.
func (f *Fetcher) Fetch(ctx context.Context, record *cdx.Record) (*Result, error) {
	offset, length, err := record.ByteRange()
	if err != nil {
		return nil, fmt.Errorf("bad byte range in record for %s: %w", record.URL, err)
	}
	url := f.config.BaseURL + "/" + record.Filename
	logger := logging.GetLogger("fetcher")

	var lastStatus int
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		body, status, err := f.get(ctx, url, offset, length)
		if err != nil {
			// Timeout or network failure. The rate stays put; only the
			// success streak resets.
			f.limiter.ReportError(0)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < f.config.MaxRetries {
				if err := f.sleepBackoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}

		switch {
		case status == http.StatusPartialContent || (status >= 200 && status < 300):
			result, err := f.decode(body)
			if err != nil {
				f.limiter.ReportError(0)
				return nil, err
			}
			f.limiter.ReportSuccess()
			return result, nil

		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable || status == http.StatusForbidden:
			lastStatus = status
			f.limiter.ReportError(status)
			logger.Warn().
				Int("status", status).
				Int("attempt", attempt+1).
				Str("container", record.Filename).
				Msg("Upstream throttled range request")
			if attempt < f.config.MaxRetries {
				if err := f.sleepBackoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &RateLimitedError{StatusCode: status, Attempts: attempt + 1}

		default:
			f.limiter.ReportError(status)
			return nil, &HTTPError{StatusCode: status, URL: url}
		}
	}
	return nil, &RateLimitedError{StatusCode: lastStatus, Attempts: f.config.MaxRetries + 1}
}

// get issues one ranged GET under the configured deadline.
func (f *Fetcher) get(ctx context.Context, url string, offset, length int64) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// decode gunzips the range (raw ranges of .gz containers are themselves
// gzip members) and parses the framed record. A gzip failure means the
// body arrived already decompressed.
func (f *Fetcher) decode(body []byte) (*Result, error) {
	decompressed := body
	if gz, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
		if data, err := io.ReadAll(gz); err == nil {
			decompressed = data
		}
		gz.Close()
	}

	payload, err := ParseRecord(decompressed)
	if err != nil {
		return nil, err
	}
	return &Result{
		Content:       payload.Body,
		HTTPStatus:    payload.HTTPStatus,
		ContentType:   payload.ContentType,
		ContentLength: len(payload.Body),
	}, nil
}

func (f *Fetcher) sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > f.config.MaxBackoff {
		delay = f.config.MaxBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
