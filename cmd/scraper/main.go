// Package main runs the Common Crawl docx scrape pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Caia-Tech/caia-harvest/internal/api"
	"github.com/Caia-Tech/caia-harvest/internal/archive"
	"github.com/Caia-Tech/caia-harvest/internal/crawls"
	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/internal/progress"
	"github.com/Caia-Tech/caia-harvest/internal/scrape"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
	"github.com/Caia-Tech/caia-harvest/pkg/pipeline"
	"github.com/Caia-Tech/caia-harvest/pkg/ratelimit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	force := flag.Bool("force", false, "reprocess records whose URLs are already uploaded")
	serveStatus := flag.Bool("status", false, "serve /health and /stats while running")
	flag.Parse()

	config, err := pipeline.FromEnv()
	if err != nil {
		return err
	}
	if err := logging.SetupLogger(config.Logging); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Crawl ids: command-line args, then CRAWL_ID, then the latest crawl.
	crawlIDs := flag.Args()
	if len(crawlIDs) == 0 && config.Scrape.CrawlID != "" {
		crawlIDs = []string{config.Scrape.CrawlID}
	}
	if len(crawlIDs) == 0 {
		latest, err := crawls.NewClient("").Latest(ctx)
		if err != nil {
			return fmt.Errorf("resolve latest crawl: %w", err)
		}
		crawlIDs = []string{latest}
	}
	config.Scrape.Force = *force

	blobs, err := config.BlobStore(ctx)
	if err != nil {
		return err
	}
	meta, err := metadata.OpenSQL(ctx, config.Database.URL)
	if err != nil {
		return err
	}
	defer meta.Close()

	limiter := ratelimit.NewAdaptiveLimiter(config.Rate)
	fetcher := archive.NewFetcher(config.Fetcher, limiter)
	tracker := progress.NewTracker(os.Stdout)

	if *serveStatus {
		server := api.NewServer(meta, tracker, limiter)
		go func() {
			if err := server.Listen(config.Server.Host, config.Server.Port); err != nil {
				logger := logging.GetLogger("api")
				logger.Error().Err(err).Msg("Status server failed")
			}
		}()
		defer server.Shutdown(context.Background())
	}

	// Crawls run sequentially against the one shared limiter; the endpoint
	// rate-limits by IP, not by crawl.
	for _, crawlID := range crawlIDs {
		crawlConfig := *config.Scrape
		crawlConfig.CrawlID = crawlID
		orch := scrape.NewOrchestrator(&crawlConfig, blobs, meta, fetcher, limiter, tracker)
		summary, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("crawl %s: saved %d, skipped %d, failed %d (discovered %d)\n",
			summary.CrawlID, summary.Saved, summary.Skipped, summary.Failed, summary.Discovered)
	}
	return nil
}
