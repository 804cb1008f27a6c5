package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AdaptiveLimiter is a token bucket whose refill rate adjusts to upstream
// feedback. Sustained success slowly raises the rate; rate-limit responses
// (403/429/503) shrink it immediately. One limiter is shared by all workers
// of a crawl, and every outbound request must pass Acquire first.
type AdaptiveLimiter struct {
	mu sync.Mutex

	currentRPS float64
	tokens     float64
	lastRefill time.Time

	successStreak int64
	requestCount  int64
	successCount  int64
	errorCount    int64
	backoffCount  int64

	config *AdaptiveConfig
}

// AdaptiveConfig configures the limiter's feedback behavior.
type AdaptiveConfig struct {
	InitialRPS             float64 `json:"initial_rps"`
	MinRPS                 float64 `json:"min_rps"`
	MaxRPS                 float64 `json:"max_rps"`
	BackoffFactor          float64 `json:"backoff_factor"`
	RecoveryFactor         float64 `json:"recovery_factor"`
	SuccessStreakThreshold int64   `json:"success_streak_threshold"`
}

// DefaultAdaptiveConfig returns the defaults tuned for the Common Crawl
// data endpoint, which punishes bursts with hour-scale IP bans.
func DefaultAdaptiveConfig() *AdaptiveConfig {
	return &AdaptiveConfig{
		InitialRPS:             5,
		MinRPS:                 0.5,
		MaxRPS:                 20,
		BackoffFactor:          0.8,
		RecoveryFactor:         1.05,
		SuccessStreakThreshold: 100,
	}
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	CurrentRPS    float64 `json:"current_rps"`
	RequestCount  int64   `json:"request_count"`
	SuccessCount  int64   `json:"success_count"`
	ErrorCount    int64   `json:"error_count"`
	BackoffCount  int64   `json:"backoff_count"`
	SuccessStreak int64   `json:"success_streak"`
}

// NewAdaptiveLimiter creates a limiter starting at the configured rate with
// a full one-second burst of tokens.
func NewAdaptiveLimiter(config *AdaptiveConfig) *AdaptiveLimiter {
	if config == nil {
		config = DefaultAdaptiveConfig()
	}
	return &AdaptiveLimiter{
		currentRPS: config.InitialRPS,
		tokens:     config.InitialRPS,
		lastRefill: time.Now(),
		config:     config,
	}
}

// Acquire blocks until one token is available, consuming it. Refill is
// computed lazily from the wall clock; there is no background timer.
// Cancellation leaves the token count unchanged.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.requestCount++
			l.mu.Unlock()
			return nil
		}
		// Time until one full token accumulates at the current rate.
		wait := time.Duration((1 - l.tokens) / l.currentRPS * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ReportSuccess records a successful request. When the consecutive-success
// streak reaches the threshold, the rate recovers by RecoveryFactor.
func (l *AdaptiveLimiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successCount++
	l.successStreak++
	if l.successStreak >= l.config.SuccessStreakThreshold {
		old := l.currentRPS
		l.currentRPS = min(l.currentRPS*l.config.RecoveryFactor, l.config.MaxRPS)
		l.successStreak = 0
		if l.currentRPS != old {
			log.Debug().
				Float64("old_rps", old).
				Float64("new_rps", l.currentRPS).
				Msg("Rate limiter recovered")
		}
	}
}

// ReportError records a failed request. Statuses 403, 429 and 503 indicate
// upstream throttling and shrink the rate by BackoffFactor; anything else
// (404s, network errors) only resets the success streak.
func (l *AdaptiveLimiter) ReportError(statusCode int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errorCount++
	l.successStreak = 0

	switch statusCode {
	case 403, 429, 503:
		old := l.currentRPS
		l.currentRPS = max(l.currentRPS*l.config.BackoffFactor, l.config.MinRPS)
		l.backoffCount++
		log.Warn().
			Int("status", statusCode).
			Float64("old_rps", old).
			Float64("new_rps", l.currentRPS).
			Msg("Rate limiter backing off")
	}
}

// CurrentRPS returns the current refill rate.
func (l *AdaptiveLimiter) CurrentRPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRPS
}

// GetStats returns a snapshot of the limiter's counters.
func (l *AdaptiveLimiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		CurrentRPS:    l.currentRPS,
		RequestCount:  l.requestCount,
		SuccessCount:  l.successCount,
		ErrorCount:    l.errorCount,
		BackoffCount:  l.backoffCount,
		SuccessStreak: l.successStreak,
	}
}

// refill adds tokens for the time elapsed since the last refill, capped at
// one second's worth at the current rate. Caller holds the mutex.
func (l *AdaptiveLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.currentRPS
	if l.tokens > l.currentRPS {
		l.tokens = l.currentRPS
	}
	l.lastRefill = now
}
