package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker counts scrape outcomes and redraws a single status line. Workers
// bump the atomic counters; Render is called by whichever goroutine owns
// the terminal.
type Tracker struct {
	discovered atomic.Int64
	saved      atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64

	startTime time.Time

	mu    sync.Mutex
	out   io.Writer
	ticks []tick
}

type tick struct {
	at    time.Time
	count int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Discovered int64   `json:"discovered"`
	Saved      int64   `json:"saved"`
	Skipped    int64   `json:"skipped"`
	Failed     int64   `json:"failed"`
	PerSecond  float64 `json:"per_second"`
}

// NewTracker writes its status line to out (normally stdout).
func NewTracker(out io.Writer) *Tracker {
	return &Tracker{out: out, startTime: time.Now()}
}

// Reset zeroes the counters and the speed window. Sequential crawl runs
// share one tracker; each run starts from a clean line.
func (t *Tracker) Reset() {
	t.discovered.Store(0)
	t.saved.Store(0)
	t.skipped.Store(0)
	t.failed.Store(0)
	t.mu.Lock()
	t.startTime = time.Now()
	t.ticks = nil
	t.mu.Unlock()
}

func (t *Tracker) Discovered() { t.discovered.Add(1) }
func (t *Tracker) Saved()      { t.saved.Add(1) }
func (t *Tracker) Skipped()    { t.skipped.Add(1) }
func (t *Tracker) Failed()     { t.failed.Add(1) }

// Done returns the number of completed records.
func (t *Tracker) Done() int64 {
	return t.saved.Load() + t.skipped.Load() + t.failed.Load()
}

// SavedCount returns uploads so far; the orchestrator stops at batch size.
func (t *Tracker) SavedCount() int64 { return t.saved.Load() }

// Speed returns records/sec over a rolling 10 s window.
func (t *Tracker) Speed() float64 {
	now := time.Now()
	done := t.Done()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ticks = append(t.ticks, tick{at: now, count: done})
	cutoff := now.Add(-10 * time.Second)
	start := 0
	for start < len(t.ticks) && t.ticks[start].at.Before(cutoff) {
		start++
	}
	if start > 0 {
		t.ticks = t.ticks[start:]
	}
	if len(t.ticks) < 2 {
		return 0
	}
	first, last := t.ticks[0], t.ticks[len(t.ticks)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(last.count-first.count) / dt
}

// Stats returns a snapshot for the status API.
func (t *Tracker) Stats() Snapshot {
	return Snapshot{
		Discovered: t.discovered.Load(),
		Saved:      t.saved.Load(),
		Skipped:    t.skipped.Load(),
		Failed:     t.failed.Load(),
		PerSecond:  t.Speed(),
	}
}

// Render redraws the one-line progress display in place.
func (t *Tracker) Render() {
	s := t.Stats()
	t.mu.Lock()
	elapsed := time.Since(t.startTime).Round(time.Second)
	fmt.Fprintf(t.out, "\r  saved %d │ skipped %d │ failed %d │ discovered %d │ %.1f/s │ %s   ",
		s.Saved, s.Skipped, s.Failed, s.Discovered, s.PerSecond, elapsed)
	t.mu.Unlock()
}

// Finish terminates the progress line.
func (t *Tracker) Finish() {
	t.mu.Lock()
	fmt.Fprintln(t.out)
	t.mu.Unlock()
}
