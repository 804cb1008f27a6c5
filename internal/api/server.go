package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/internal/progress"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
	"github.com/Caia-Tech/caia-harvest/pkg/ratelimit"
)

// Server exposes the pipeline's health and live counters over HTTP while a
// run is in progress.
type Server struct {
	app       *fiber.App
	meta      metadata.Store
	tracker   *progress.Tracker
	limiter   *ratelimit.AdaptiveLimiter
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer wires the status routes. tracker and limiter may be nil when
// only extraction is running.
func NewServer(meta metadata.Store, tracker *progress.Tracker, limiter *ratelimit.AdaptiveLimiter) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
		}),
		meta:      meta,
		tracker:   tracker,
		limiter:   limiter,
		logger:    logging.GetLogger("api"),
		startTime: time.Now().UTC(),
	}
	s.app.Get("/health", s.health)
	s.app.Get("/stats", s.stats)
	return s
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.logger.Info().Str("addr", addr).Msg("Status server listening")
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "caia-harvest",
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// stats reports live scrape counters, limiter state, row status counts and
// extraction progress in one payload.
func (s *Server) stats(c *fiber.Ctx) error {
	payload := fiber.Map{}

	if s.tracker != nil {
		payload["scrape"] = s.tracker.Stats()
	}
	if s.limiter != nil {
		payload["rate_limiter"] = s.limiter.GetStats()
	}

	statuses, err := s.meta.StatsByStatus(c.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Status counts query failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "status counts unavailable",
		})
	}
	payload["documents"] = statuses

	extraction, err := s.meta.ExtractionStats(c.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Extraction stats query failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "extraction stats unavailable",
		})
	}
	payload["extraction"] = extraction

	return c.JSON(payload)
}
