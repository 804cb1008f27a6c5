package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/internal/progress"
	"github.com/Caia-Tech/caia-harvest/pkg/ratelimit"
)

func newTestServer(t *testing.T) (*Server, metadata.Store, *progress.Tracker) {
	t.Helper()
	meta := metadata.NewMemoryStore()
	t.Cleanup(func() { meta.Close() })
	tracker := progress.NewTracker(&bytes.Buffer{})
	limiter := ratelimit.NewAdaptiveLimiter(nil)
	return NewServer(meta, tracker, limiter), meta, tracker
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := server.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "caia-harvest", body["service"])
}

func TestStats(t *testing.T) {
	server, meta, tracker := newTestServer(t)

	require.NoError(t, meta.Upsert(context.Background(), &metadata.DocumentRow{
		ID:        "abc",
		SourceURL: "https://example.com/a.docx",
		Status:    metadata.StatusUploaded,
	}))
	tracker.Discovered()
	tracker.Saved()

	resp, err := server.app.Test(httptest.NewRequest("GET", "/stats", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body struct {
		Scrape struct {
			Saved int64 `json:"saved"`
		} `json:"scrape"`
		RateLimiter struct {
			CurrentRPS float64 `json:"current_rps"`
		} `json:"rate_limiter"`
		Documents  map[string]int64 `json:"documents"`
		Extraction struct {
			Uploaded  int64 `json:"uploaded"`
			Remaining int64 `json:"remaining"`
		} `json:"extraction"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, int64(1), body.Scrape.Saved)
	assert.Greater(t, body.RateLimiter.CurrentRPS, 0.0)
	assert.Equal(t, int64(1), body.Documents[metadata.StatusUploaded])
	assert.Equal(t, int64(1), body.Extraction.Uploaded)
}
