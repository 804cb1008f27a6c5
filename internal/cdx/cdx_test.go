package cdx

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-harvest/internal/blob"
)

const sampleJSON = `{"url": "https://example.com/report.docx", "mime": "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "status": "200", "digest": "sha1:K2R4J6CPLQ5VFBF7QDCM52DXRH5OWDPN", "length": "12345", "offset": "678", "filename": "crawl-data/CC-MAIN-2024-33/segments/0/warc/file-00000.warc.gz"}`

func TestParseRawLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"valid record", "com,example)/report.docx 20240801000000 " + sampleJSON, true},
		{"empty line", "", false},
		{"whitespace only", "   \t  ", false},
		{"no json brace", "com,example)/ 20240801000000", false},
		{"malformed json", "com,example)/ 20240801000000 {not-json", false},
		{"redirect status", `x 1 {"url":"u","mime":"` + WordMIME + `","status":"301","digest":"d","length":"1","offset":"0","filename":"f"}`, false},
		{"wrong mime", `x 1 {"url":"u","mime":"application/pdf","status":"200","digest":"d","length":"1","offset":"0","filename":"f"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ParseRawLine(tt.line)
			if tt.want {
				require.NotNil(t, rec)
				assert.Equal(t, "https://example.com/report.docx", rec.URL)
				assert.Equal(t, "200", rec.Status)
			} else {
				assert.Nil(t, rec)
			}
		})
	}
}

func TestByteRange(t *testing.T) {
	rec := ParseFilteredLine(sampleJSON)
	require.NotNil(t, rec)

	offset, length, err := rec.ByteRange()
	require.NoError(t, err)
	assert.Equal(t, int64(678), offset)
	assert.Equal(t, int64(12345), length)

	bad := Record{Offset: "x", Length: "1"}
	_, _, err = bad.ByteRange()
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	shard0 := sampleJSON + "\n" + "\n" + `{"url":"https://example.org/b.docx","mime":"` + WordMIME + `","status":"200","digest":"d","length":"2","offset":"1","filename":"f"}` + "\n"
	shard1 := `{"url":"https://example.org/c.docx","mime":"` + WordMIME + `","status":"200","digest":"d","length":"3","offset":"2","filename":"f"}`
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-33/shard-00000.jsonl", []byte(shard0)))
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-33/shard-00001.jsonl", []byte(shard1)))
	// Non-jsonl keys under the prefix are ignored.
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-33/_SUCCESS", []byte("")))
	// Other crawls are ignored.
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2023-50/shard-00000.jsonl", []byte(shard1)))

	records, errc := Stream(ctx, store, "CC-MAIN-2024-33")
	urls := map[string]bool{}
	for rec := range records {
		urls[rec.URL] = true
	}
	require.NoError(t, <-errc)

	assert.Len(t, urls, 3)
	assert.True(t, urls["https://example.com/report.docx"])
	assert.True(t, urls["https://example.org/b.docx"])
	assert.True(t, urls["https://example.org/c.docx"])
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var shard string
	shard += "not json at all\n"
	shard += `{"url":"https://example.org/pdf","mime":"application/pdf","status":"200","digest":"d","length":"1","offset":"0","filename":"f"}` + "\n"
	for i := 0; i < 3; i++ {
		shard += fmt.Sprintf(`{"url":"https://example.org/%d.docx","mime":"%s","status":"200","digest":"d","length":"1","offset":"0","filename":"f"}`, i, WordMIME) + "\n"
	}
	require.NoError(t, store.Write(ctx, "cdx-filtered/CC-MAIN-2024-33/shard.jsonl", []byte(shard)))

	records, errc := Stream(ctx, store, "CC-MAIN-2024-33")
	count := 0
	for range records {
		count++
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 3, count)
}
