package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-harvest/internal/blob"
	"github.com/Caia-Tech/caia-harvest/internal/metadata"
)

func seed(t *testing.T, meta metadata.Store, id, status string) {
	t.Helper()
	require.NoError(t, meta.Upsert(context.Background(), &metadata.DocumentRow{
		ID:        id,
		SourceURL: "https://example.com/" + id,
		Status:    status,
	}))
}

func TestGenerate(t *testing.T) {
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	meta := metadata.NewMemoryStore()
	defer meta.Close()

	// Seeded out of order; failures must not appear.
	seed(t, meta, "cccc", metadata.StatusUploaded)
	seed(t, meta, "aaaa", metadata.StatusUploaded)
	seed(t, meta, "bbbb", metadata.StatusUploaded)
	seed(t, meta, "failed-dddd", metadata.StatusFailed)

	local := filepath.Join(t.TempDir(), "out", "manifest.txt")
	count, err := Generate(context.Background(), meta, blobs, local)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	want := "aaaa\nbbbb\ncccc\n"
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))

	mirrored, err := blobs.Read(context.Background(), blob.ManifestKey)
	require.NoError(t, err)
	assert.Equal(t, want, string(mirrored))
}

func TestGenerateEmptyCorpus(t *testing.T) {
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	meta := metadata.NewMemoryStore()
	defer meta.Close()

	local := filepath.Join(t.TempDir(), "manifest.txt")
	count, err := Generate(context.Background(), meta, blobs, local)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestGenerateBlobOnly(t *testing.T) {
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	meta := metadata.NewMemoryStore()
	defer meta.Close()
	seed(t, meta, "eeee", metadata.StatusUploaded)

	count, err := Generate(context.Background(), meta, blobs, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	mirrored, err := blobs.Read(context.Background(), blob.ManifestKey)
	require.NoError(t, err)
	assert.Equal(t, "eeee\n", string(mirrored))
}
