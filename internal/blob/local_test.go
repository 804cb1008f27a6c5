package blob

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalReadWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data, err := store.Read(ctx, "documents/missing.docx")
	require.NoError(t, err)
	assert.Nil(t, data, "missing key reads as nil, not error")

	require.NoError(t, store.Write(ctx, "documents/abc.docx", []byte("payload")))
	data, err = store.Read(ctx, "documents/abc.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// Overwrite is unconditional.
	require.NoError(t, store.Write(ctx, "documents/abc.docx", []byte("payload2")))
	data, err = store.Read(ctx, "documents/abc.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload2"), data)
}

func TestLocalWriteIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wrote, err := store.WriteIfAbsent(ctx, "documents/x.docx", []byte("one"))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = store.WriteIfAbsent(ctx, "documents/x.docx", []byte("two"))
	require.NoError(t, err)
	assert.False(t, wrote)

	data, err := store.Read(ctx, "documents/x.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data, "second write must not clobber")
}

func TestLocalExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(ctx, "a/b", []byte("x")))
	ok, err = store.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-33/shard-0.jsonl", []byte("a")))
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-33/shard-1.jsonl", []byte("b")))
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-10/other.jsonl", []byte("c")))
	require.NoError(t, store.Write(ctx, "documents/zzz.docx", []byte("d")))

	keys, errc := store.List(ctx, "cdx-filtered/CC-MAIN-2024-33/")
	var got []string
	for k := range keys {
		got = append(got, k)
	}
	require.NoError(t, <-errc)

	sort.Strings(got)
	assert.Equal(t, []string{
		"cdx-filtered/CC-MAIN-2024-33/shard-0.jsonl",
		"cdx-filtered/CC-MAIN-2024-33/shard-1.jsonl",
	}, got)
}

func TestLocalListEmptyPrefix(t *testing.T) {
	store := newTestStore(t)
	keys, errc := store.List(context.Background(), "cdx-filtered/CC-MAIN-1999-01/")
	var got []string
	for k := range keys {
		got = append(got, k)
	}
	require.NoError(t, <-errc)
	assert.Empty(t, got)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "documents/ab12.docx", DocumentKey("ab12"))
	assert.Equal(t, "extracted/ab12.txt", ExtractedTextKey("ab12"))
	assert.Equal(t, "extracted/ab12.json", ExtractedJSONKey("ab12"))
	assert.Equal(t, "cdx-filtered/CC-MAIN-2024-33/", ShardPrefix("CC-MAIN-2024-33"))
}
