package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Caia-Tech/caia-harvest/internal/archive"
	"github.com/Caia-Tech/caia-harvest/internal/blob"
	"github.com/Caia-Tech/caia-harvest/internal/cdx"
	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/internal/progress"
	"github.com/Caia-Tech/caia-harvest/pkg/docx"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
	"github.com/Caia-Tech/caia-harvest/pkg/ratelimit"
)

// Config controls one crawl's scrape run.
type Config struct {
	CrawlID     string `json:"crawl_id"`
	Concurrency int    `json:"concurrency"`
	// BatchSize stops the run after this many uploads; 0 means no limit.
	BatchSize int `json:"batch_size"`
	// Force skips the uploaded-URL fast path and reprocesses everything.
	// Content-addressed keys still make the reprocess a no-op upload.
	Force bool `json:"force"`
}

// Summary is the final counter state of a run.
type Summary struct {
	RunID      string `json:"run_id"`
	CrawlID    string `json:"crawl_id"`
	Discovered int64  `json:"discovered"`
	Saved      int64  `json:"saved"`
	Skipped    int64  `json:"skipped"`
	Failed     int64  `json:"failed"`
}

// Orchestrator wires the CDX stream, rate limiter, fetcher, validator and
// stores into a bounded worker pool running the per-record state machine.
type Orchestrator struct {
	config  *Config
	blobs   blob.Store
	meta    metadata.Store
	fetcher *archive.Fetcher
	limiter *ratelimit.AdaptiveLimiter
	tracker *progress.Tracker
	logger  zerolog.Logger

	uploadedURLs map[string]struct{}
}

// NewOrchestrator builds an orchestrator for one crawl. The limiter must be
// the one shared with the fetcher.
func NewOrchestrator(config *Config, blobs blob.Store, meta metadata.Store, fetcher *archive.Fetcher, limiter *ratelimit.AdaptiveLimiter, tracker *progress.Tracker) *Orchestrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Orchestrator{
		config:  config,
		blobs:   blobs,
		meta:    meta,
		fetcher: fetcher,
		limiter: limiter,
		tracker: tracker,
		logger:  logging.GetScrapeLogger(config.CrawlID),
	}
}

// Limiter exposes the shared limiter for the status API.
func (o *Orchestrator) Limiter() *ratelimit.AdaptiveLimiter { return o.limiter }

// Run streams the crawl's CDX records through the worker pool and returns
// when every submitted record has settled. A single record never aborts
// the batch; only a stream failure or cancellation surfaces as an error.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	// Counters and the batch budget are per crawl; callers reuse one
	// tracker across sequential runs.
	o.tracker.Reset()

	runID := uuid.NewString()
	o.logger.Info().
		Str("run_id", runID).
		Int("concurrency", o.config.Concurrency).
		Int("batch_size", o.config.BatchSize).
		Bool("force", o.config.Force).
		Msg("Scrape run starting")

	if o.config.Force {
		o.uploadedURLs = make(map[string]struct{})
	} else {
		set, err := o.meta.UploadedURLSet(ctx)
		if err != nil {
			return nil, err
		}
		o.uploadedURLs = set
		o.logger.Info().Int("known_urls", len(set)).Msg("Loaded uploaded-URL set")
	}

	// The stream gets its own cancellation so an early batch-size stop can
	// unblock the producer without tearing down in-flight workers.
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	records, errc := cdx.Stream(streamCtx, o.blobs, o.config.CrawlID)

	var g errgroup.Group
	// Worker cap plus a 2x in-flight cap for backpressure against the
	// pull-based stream.
	workers := make(chan struct{}, o.config.Concurrency)
	inflight := make(chan struct{}, 2*o.config.Concurrency)

submit:
	for record := range records {
		if o.config.BatchSize > 0 && o.tracker.SavedCount() >= int64(o.config.BatchSize) {
			break
		}
		o.tracker.Discovered()

		select {
		case inflight <- struct{}{}:
		case <-ctx.Done():
			break submit
		}

		rec := record
		g.Go(func() error {
			defer func() { <-inflight }()
			workers <- struct{}{}
			defer func() { <-workers }()

			o.process(ctx, &rec)
			o.tracker.Render()
			return nil
		})
	}

	stopStream()
	for range records {
		// Drain whatever the producer had queued before it saw the cancel.
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.tracker.Finish()
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := o.tracker.Stats()
	summary := &Summary{
		RunID:      runID,
		CrawlID:    o.config.CrawlID,
		Discovered: stats.Discovered,
		Saved:      stats.Saved,
		Skipped:    stats.Skipped,
		Failed:     stats.Failed,
	}
	o.logger.Info().
		Int64("saved", summary.Saved).
		Int64("skipped", summary.Skipped).
		Int64("failed", summary.Failed).
		Int64("discovered", summary.Discovered).
		Msg("Scrape run finished")
	return summary, nil
}

// process runs the per-record state machine. Every outcome becomes a row
// update or a counter bump; no error escapes the worker.
func (o *Orchestrator) process(ctx context.Context, record *cdx.Record) {
	if _, seen := o.uploadedURLs[record.URL]; seen {
		o.tracker.Skipped()
		return
	}

	now := time.Now().UTC()
	result, err := o.fetcher.Fetch(ctx, record)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown, not a record failure; leave no row behind.
			if ctx.Err() != nil {
				return
			}
		}
		o.recordFailure(ctx, record, metadata.FailureID(record.URL), err.Error(), nil, now)
		return
	}

	if v := docx.Validate(result.Content); !v.OK {
		invalid := false
		message := "validation failed: " + v.Reason
		if v.Detail != "" {
			message += " (" + v.Detail + ")"
		}
		o.recordFailure(ctx, record, docx.Hash(result.Content), message, &invalid, now)
		return
	}

	id := docx.Hash(result.Content)

	// Another worker in this run may have just uploaded the same content;
	// the pre-loaded URL set cannot see that, so re-check the row.
	if existing, err := o.meta.Get(ctx, id); err == nil && existing != nil && existing.Status == metadata.StatusUploaded {
		o.tracker.Skipped()
		return
	}

	key := blob.DocumentKey(id)
	wrote, err := o.blobs.WriteIfAbsent(ctx, key, result.Content)
	if err != nil {
		o.logger.Error().Err(err).Str("key", key).Msg("Blob write failed")
		o.tracker.Failed()
		return
	}

	size := int64(len(result.Content))
	valid := true
	uploadedAt := time.Now().UTC()
	row := &metadata.DocumentRow{
		ID:               id,
		SourceURL:        record.URL,
		CrawlID:          o.config.CrawlID,
		OriginalFilename: metadata.FilenameFromURL(record.URL),
		FileSizeBytes:    &size,
		Status:           metadata.StatusUploaded,
		IsValidDocx:      &valid,
		DiscoveredAt:     &now,
		DownloadedAt:     &now,
		UploadedAt:       &uploadedAt,
	}

	if wrote {
		if err := o.meta.Upsert(ctx, row); err != nil {
			o.logger.Error().Err(err).Str("id", id).Msg("Row upsert failed after upload")
			o.tracker.Failed()
			return
		}
		o.tracker.Saved()
		return
	}

	// Blob already present. If a previous writer died between blob write
	// and row upsert, repair the row: the blob is authoritative.
	existing, err := o.meta.Get(ctx, id)
	if err == nil && existing == nil {
		if err := o.meta.Upsert(ctx, row); err != nil {
			o.logger.Error().Err(err).Str("id", id).Msg("Row repair failed")
		} else {
			o.logger.Warn().Str("id", id).Msg("Repaired missing row for existing blob")
		}
	}
	o.tracker.Skipped()
}

// recordFailure writes the terminal failed row for a record.
func (o *Orchestrator) recordFailure(ctx context.Context, record *cdx.Record, id, message string, isValid *bool, discoveredAt time.Time) {
	o.logger.Debug().Str("url", record.URL).Str("reason", message).Msg("Record failed")

	row := &metadata.DocumentRow{
		ID:               id,
		SourceURL:        record.URL,
		CrawlID:          o.config.CrawlID,
		OriginalFilename: metadata.FilenameFromURL(record.URL),
		Status:           metadata.StatusFailed,
		ErrorMessage:     &message,
		IsValidDocx:      isValid,
		DiscoveredAt:     &discoveredAt,
	}
	if err := o.meta.Upsert(ctx, row); err != nil {
		o.logger.Error().Err(err).Str("id", id).Msg("Failure row upsert failed")
	}
	o.tracker.Failed()
}
