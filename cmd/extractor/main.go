// Package main drains the extraction backlog of uploaded documents.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Caia-Tech/caia-harvest/internal/api"
	"github.com/Caia-Tech/caia-harvest/internal/extract"
	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
	"github.com/Caia-Tech/caia-harvest/pkg/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
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

	blobs, err := config.BlobStore(ctx)
	if err != nil {
		return err
	}
	meta, err := metadata.OpenSQL(ctx, config.Database.URL)
	if err != nil {
		return err
	}
	defer meta.Close()

	if *serveStatus {
		server := api.NewServer(meta, nil, nil)
		go func() {
			if err := server.Listen(config.Server.Host, config.Server.Port); err != nil {
				logger := logging.GetLogger("api")
				logger.Error().Err(err).Msg("Status server failed")
			}
		}()
		defer server.Shutdown(context.Background())
	}

	summary, err := extract.NewOrchestrator(config.Extract, blobs, meta).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %d, errored %d (processed %d)\n",
		summary.Extracted, summary.Errored, summary.Processed)
	return nil
}
