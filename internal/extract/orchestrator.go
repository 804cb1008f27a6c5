package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Caia-Tech/caia-harvest/internal/blob"
	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
)

// Config controls an extraction run.
type Config struct {
	// Workers is the number of parallel extraction workers; each owns one
	// subprocess when a command is configured.
	Workers int `json:"workers"`
	// BatchLimit is how many unextracted rows are claimed per batch.
	BatchLimit int `json:"batch_limit"`
	// Command runs the external extractor; empty selects the in-process
	// fallback parser.
	Command string   `json:"command"`
	Args    []string `json:"args"`
	// DocTimeout bounds a single document; a document that exceeds it gets
	// an extraction error and the subprocess is recycled.
	DocTimeout time.Duration `json:"doc_timeout"`
	// StallTimeout is how long the whole pool may go without completing any
	// document before every subprocess is restarted.
	StallTimeout time.Duration `json:"stall_timeout"`
	Startup      time.Duration `json:"startup"`
	TempDir      string        `json:"temp_dir"`
	// InputPrefix and OutputPrefix override the default blob keyspace for
	// reading documents and writing extraction results.
	InputPrefix  string `json:"input_prefix"`
	OutputPrefix string `json:"output_prefix"`
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:      4,
		BatchLimit:   100,
		DocTimeout:   30 * time.Second,
		StallTimeout: 60 * time.Second,
		Startup:      2 * time.Minute,
	}
}

// Summary is the final counter state of an extraction run.
type Summary struct {
	Processed int64 `json:"processed"`
	Extracted int64 `json:"extracted"`
	Errored   int64 `json:"errored"`
}

// sidecar is the structured result stored next to the extracted text.
type sidecar struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	WordCount   int64     `json:"word_count"`
	CharCount   int64     `json:"char_count"`
	TableCount  int64     `json:"table_count"`
	ImageCount  int64     `json:"image_count"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Orchestrator drains the unextracted backlog through a pool of extraction
// workers, writing text and sidecar blobs and recording per-row outcomes.
type Orchestrator struct {
	config *Config
	blobs  blob.Store
	meta   metadata.Store
	logger zerolog.Logger

	extracted atomic.Int64
	errored   atomic.Int64
	// lastProgress is the unix-nano time of the latest completed document,
	// watched by the stall detector.
	lastProgress atomic.Int64

	subsMu sync.Mutex
	subs   []*Subprocess
}

// NewOrchestrator builds an extraction orchestrator.
func NewOrchestrator(config *Config, blobs blob.Store, meta metadata.Store) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 100
	}
	if config.DocTimeout <= 0 {
		config.DocTimeout = 30 * time.Second
	}
	if config.StallTimeout <= 0 {
		config.StallTimeout = 60 * time.Second
	}
	if config.InputPrefix == "" {
		config.InputPrefix = blob.DocumentPrefix
	}
	if config.OutputPrefix == "" {
		config.OutputPrefix = blob.ExtractedPrefix
	}
	return &Orchestrator{
		config: config,
		blobs:  blobs,
		meta:   meta,
		logger: logging.GetLogger("extract"),
	}
}

// Run processes batches of unextracted documents until the backlog is
// empty. Documents that fail get a recorded extraction error and are not
// retried; only infrastructure failures abort the run.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	tempDir := o.config.TempDir
	if tempDir == "" {
		dir, err := os.MkdirTemp("", "harvest-extract-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		tempDir = dir
	}

	mode := "native"
	if o.config.Command != "" {
		mode = o.config.Command
	}
	o.logger.Info().
		Int("workers", o.config.Workers).
		Str("extractor", mode).
		Msg("Extraction run starting")

	o.lastProgress.Store(time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	if o.config.Command != "" {
		go o.watchStalls(watchdogDone)
	}

	// Size the pool by the first batch so a short backlog does not pay for
	// idle subprocess startups.
	first, err := o.meta.GetUnextracted(ctx, o.config.BatchLimit)
	if err != nil {
		return nil, err
	}
	if len(first) > 0 {
		if err := o.runPool(ctx, first, tempDir); err != nil {
			return nil, err
		}
	}

	summary := &Summary{
		Extracted: o.extracted.Load(),
		Errored:   o.errored.Load(),
	}
	summary.Processed = summary.Extracted + summary.Errored
	o.logger.Info().
		Int64("extracted", summary.Extracted).
		Int64("errored", summary.Errored).
		Msg("Extraction run finished")
	return summary, nil
}

// runPool spins up persistent workers and feeds them batch after batch.
// Each batch is fully settled before the next claim, so an in-flight row is
// never handed out twice. Engines survive across batches; subprocess model
// loads happen once per worker, not once per batch.
func (o *Orchestrator) runPool(ctx context.Context, first []*metadata.DocumentRow, tempDir string) error {
	workers := o.config.Workers
	if len(first) < workers {
		workers = len(first)
	}

	tasks := make(chan *metadata.DocumentRow)
	// Buffered to a full batch so workers never block on reporting while
	// the feeder is still handing out tasks.
	settled := make(chan struct{}, o.config.BatchLimit)
	// A worker that cannot start its subprocess fails the run; the group
	// context unblocks the feeder.
	g, poolCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			return o.worker(poolCtx, workerID, tasks, settled, tempDir)
		})
	}

	feedErr := o.feed(poolCtx, first, tasks, settled)
	close(tasks)
	if err := g.Wait(); err != nil {
		return err
	}
	return feedErr
}

// feed pushes batches into the task channel, waiting for each batch to
// settle before claiming the next.
func (o *Orchestrator) feed(ctx context.Context, batch []*metadata.DocumentRow, tasks chan<- *metadata.DocumentRow, settled <-chan struct{}) error {
	for len(batch) > 0 {
		for _, row := range batch {
			select {
			case tasks <- row:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for i := 0; i < len(batch); i++ {
			select {
			case <-settled:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var err error
		batch, err = o.meta.GetUnextracted(ctx, o.config.BatchLimit)
		if err != nil {
			return err
		}
	}
	return nil
}

// worker owns one extraction engine and drains tasks until the channel
// closes. Each document gets its own scratch file, removed once settled.
func (o *Orchestrator) worker(ctx context.Context, workerID int, tasks <-chan *metadata.DocumentRow, settled chan<- struct{}, tempDir string) error {
	eng, err := o.newEngine(ctx, workerID)
	if err != nil {
		return fmt.Errorf("worker %d: %w", workerID, err)
	}
	defer eng.Close()

	logger := logging.GetExtractLogger(workerID)
	for row := range tasks {
		if err := ctx.Err(); err != nil {
			settled <- struct{}{}
			return err
		}
		scratch := filepath.Join(tempDir, fmt.Sprintf("worker-%d-%s.docx", workerID, row.ID))
		err := o.processOne(ctx, eng, row, scratch, logger)
		settled <- struct{}{}
		if err != nil {
			return fmt.Errorf("worker %d: %w", workerID, err)
		}
	}
	return nil
}

// processOne extracts a single document. Every document outcome lands in
// the row: either counts and a timestamp, or an extraction error message.
// The returned error is reserved for pool infrastructure failures.
func (o *Orchestrator) processOne(ctx context.Context, eng engine, row *metadata.DocumentRow, scratch string, logger zerolog.Logger) error {
	fail := func(message string) {
		if err := o.meta.UpdateExtractionError(ctx, row.ID, message); err != nil {
			logger.Error().Err(err).Str("id", row.ID).Msg("Recording extraction error failed")
		}
		o.errored.Add(1)
		o.lastProgress.Store(time.Now().UnixNano())
	}

	data, err := o.blobs.Read(ctx, o.config.InputPrefix+"/"+row.ID+".docx")
	if err != nil {
		fail(fmt.Sprintf("read document blob: %v", err))
		return nil
	}
	if data == nil {
		fail("document blob missing")
		return nil
	}
	if err := os.WriteFile(scratch, data, 0o644); err != nil {
		fail(fmt.Sprintf("write scratch file: %v", err))
		return nil
	}
	defer os.Remove(scratch)

	docCtx, cancel := context.WithTimeout(ctx, o.config.DocTimeout)
	out, err := eng.Extract(docCtx, scratch)
	cancel()
	if errors.Is(err, errEngineDown) {
		// The stall watchdog took this worker's subprocess down while it
		// sat idle between documents. Not the document's fault: bring the
		// engine back and give it one more try.
		if restartErr := eng.Restart(ctx); restartErr != nil {
			return fmt.Errorf("restart extractor: %w", restartErr)
		}
		docCtx, cancel = context.WithTimeout(ctx, o.config.DocTimeout)
		out, err = eng.Extract(docCtx, scratch)
		cancel()
	}
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a document failure.
			return nil
		}
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("extraction timed out after %s", o.config.DocTimeout)
		}
		logger.Warn().Str("id", row.ID).Str("error", message).Msg("Document extraction failed")
		fail(message)

		// A timeout or protocol error leaves the subprocess dead; bring it
		// back before the next document.
		if restartErr := eng.Restart(ctx); restartErr != nil {
			logger.Error().Err(restartErr).Msg("Extractor restart failed")
		}
		return nil
	}

	extractedAt := time.Now().UTC()
	side, err := json.Marshal(sidecar{
		ID:          row.ID,
		SourceURL:   row.SourceURL,
		WordCount:   out.WordCount,
		CharCount:   out.CharCount,
		TableCount:  out.TableCount,
		ImageCount:  out.ImageCount,
		ExtractedAt: extractedAt,
	})
	if err != nil {
		fail(fmt.Sprintf("encode sidecar: %v", err))
		return nil
	}
	if err := o.blobs.Write(ctx, o.config.OutputPrefix+"/"+row.ID+".txt", []byte(out.Text)); err != nil {
		fail(fmt.Sprintf("write extracted text: %v", err))
		return nil
	}
	if err := o.blobs.Write(ctx, o.config.OutputPrefix+"/"+row.ID+".json", side); err != nil {
		fail(fmt.Sprintf("write extraction sidecar: %v", err))
		return nil
	}

	res := metadata.ExtractionResult{
		WordCount:  out.WordCount,
		CharCount:  out.CharCount,
		TableCount: out.TableCount,
		ImageCount: out.ImageCount,
	}
	if err := o.meta.UpdateExtraction(ctx, row.ID, res, extractedAt); err != nil {
		logger.Error().Err(err).Str("id", row.ID).Msg("Recording extraction result failed")
		o.errored.Add(1)
	} else {
		o.extracted.Add(1)
	}
	o.lastProgress.Store(time.Now().UnixNano())
	return nil
}

// newEngine builds the worker's backend: a registered subprocess when a
// command is configured, otherwise the in-process parser.
func (o *Orchestrator) newEngine(ctx context.Context, workerID int) (engine, error) {
	if o.config.Command == "" {
		return NewNativeExtractor(), nil
	}
	sub := NewSubprocess(&SubprocessConfig{
		Command: o.config.Command,
		Args:    o.config.Args,
		Startup: o.config.Startup,
	}, workerID)
	if err := sub.Start(ctx); err != nil {
		return nil, err
	}
	o.subsMu.Lock()
	o.subs = append(o.subs, sub)
	o.subsMu.Unlock()
	return sub, nil
}

// watchStalls kills every subprocess when no document completes within the
// stall timeout, unwedging extractors that hang without tripping the
// per-document deadline. The wedged worker's in-flight read fails and it
// restarts its subprocess; idle workers find a down engine on their next
// document and restart before retrying it.
func (o *Orchestrator) watchStalls(done <-chan struct{}) {
	interval := o.config.StallTimeout / 4
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			last := time.Unix(0, o.lastProgress.Load())
			if time.Since(last) < o.config.StallTimeout {
				continue
			}
			o.logger.Warn().
				Time("last_progress", last).
				Msg("Extraction stalled, restarting all subprocesses")
			o.subsMu.Lock()
			for _, sub := range o.subs {
				sub.Kill()
			}
			o.subsMu.Unlock()
			o.lastProgress.Store(time.Now().UnixNano())
		}
	}
}
