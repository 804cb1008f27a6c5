// Package main regenerates the manifest of uploaded document ids.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Caia-Tech/caia-harvest/internal/manifest"
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
	out := flag.String("out", "manifest.txt", "local manifest path (empty writes only to blob storage)")
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

	count, err := manifest.Generate(ctx, meta, blobs, *out)
	if err != nil {
		return err
	}
	fmt.Printf("manifest: %d documents\n", count)
	return nil
}
