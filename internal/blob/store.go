package blob

import "context"

// Blob keyspace layout.
const (
	DocumentPrefix    = "documents"
	ExtractedPrefix   = "extracted"
	CDXFilteredPrefix = "cdx-filtered"
	ManifestKey       = "manifest.txt"
)

// Store is the key/value blob interface shared by the local filesystem and
// R2 backends. Keys are slash-separated path fragments.
type Store interface {
	// Read returns the contents at key, or (nil, nil) when the key does
	// not exist.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write unconditionally puts data at key with an explicit content
	// length. Implementations must not stream with unknown length.
	Write(ctx context.Context, key string, data []byte) error
	// WriteIfAbsent writes only when the key does not already exist and
	// reports whether it wrote. Two racing callers may both observe true;
	// content-addressed keys make either outcome equivalent.
	WriteIfAbsent(ctx context.Context, key string, data []byte) (bool, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// List streams every key under prefix to the channel, following
	// pagination transparently. Order across pages is unspecified. The
	// channel is closed when the listing ends or ctx is cancelled.
	List(ctx context.Context, prefix string) (<-chan string, <-chan error)
}

// DocumentKey returns the canonical storage key for an uploaded payload.
func DocumentKey(id string) string {
	return DocumentPrefix + "/" + id + ".docx"
}

// ExtractedTextKey returns the key holding a document's extracted plain text.
func ExtractedTextKey(id string) string {
	return ExtractedPrefix + "/" + id + ".txt"
}

// ExtractedJSONKey returns the key holding the extractor's structured output.
func ExtractedJSONKey(id string) string {
	return ExtractedPrefix + "/" + id + ".json"
}

// ShardPrefix returns the listing prefix for a crawl's filtered CDX shards.
func ShardPrefix(crawlID string) string {
	return CDXFilteredPrefix + "/" + crawlID + "/"
}
