package cdx

import (
	"context"
	"fmt"
	"strings"

	"github.com/Caia-Tech/caia-harvest/internal/blob"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
)

// Stream lazily yields the filtered CDX records of one crawl. It lists the
// crawl's shard keys, reads each .jsonl shard fully (shards are well under
// 100 MB), and sends parsed records in file order. The record channel is
// closed at end-of-input; a listing or read failure arrives on the error
// channel. The sequence is single-pass and not restartable.
func Stream(ctx context.Context, store blob.Store, crawlID string) (<-chan Record, <-chan error) {
	records := make(chan Record)
	errc := make(chan error, 1)
	logger := logging.GetScrapeLogger(crawlID)

	go func() {
		defer close(records)
		defer close(errc)

		prefix := blob.ShardPrefix(crawlID)
		keys, listErr := store.List(ctx, prefix)

		shards := 0
		total := 0
		for key := range keys {
			if !strings.HasSuffix(key, ".jsonl") {
				continue
			}
			data, err := store.Read(ctx, key)
			if err != nil {
				errc <- fmt.Errorf("read shard %s: %w", key, err)
				return
			}
			if data == nil {
				// Key vanished between list and read.
				logger.Warn().Str("shard", key).Msg("Shard disappeared during streaming")
				continue
			}
			shards++

			for _, line := range strings.Split(string(data), "\n") {
				rec := ParseFilteredLine(line)
				if rec == nil {
					continue
				}
				select {
				case records <- *rec:
					total++
				case <-ctx.Done():
					return
				}
			}
			logger.Debug().Str("shard", key).Int("records_so_far", total).Msg("Shard streamed")
		}
		if err := <-listErr; err != nil {
			errc <- err
			return
		}
		logger.Info().Int("shards", shards).Int("records", total).Msg("CDX stream drained")
	}()

	return records, errc
}
