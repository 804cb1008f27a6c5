package manifest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Caia-Tech/caia-harvest/internal/blob"
	"github.com/Caia-Tech/caia-harvest/internal/metadata"
	"github.com/Caia-Tech/caia-harvest/pkg/logging"
)

// Generate writes the manifest of every uploaded document id, one per line
// in ascending order with a trailing newline, to localPath (skipped when
// empty) and mirrors it to the blob store's manifest key. It returns the
// number of ids written. An empty corpus still produces a manifest: the
// empty file.
func Generate(ctx context.Context, meta metadata.Store, blobs blob.Store, localPath string) (int, error) {
	logger := logging.GetLogger("manifest")

	ids, err := meta.UploadedIDs(ctx)
	if err != nil {
		return 0, err
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(id)
		sb.WriteByte('\n')
	}
	payload := []byte(sb.String())

	if localPath != "" {
		if dir := filepath.Dir(localPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return 0, err
			}
		}
		if err := os.WriteFile(localPath, payload, 0o644); err != nil {
			return 0, err
		}
	}
	if err := blobs.Write(ctx, blob.ManifestKey, payload); err != nil {
		return 0, err
	}

	logger.Info().Int("documents", len(ids)).Str("path", localPath).Msg("Manifest written")
	return len(ids), nil
}
