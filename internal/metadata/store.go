package metadata

import (
	"context"
	"time"
)

// ExtractionResult carries the per-document output of a successful
// extraction back into the row.
type ExtractionResult struct {
	WordCount  int64
	CharCount  int64
	TableCount int64
	ImageCount int64
}

// ExtractionStats aggregates extraction progress across uploaded rows.
type ExtractionStats struct {
	Uploaded  int64 `json:"uploaded"`
	Extracted int64 `json:"extracted"`
	Errored   int64 `json:"errored"`
	Remaining int64 `json:"remaining"`
}

// Store is the relational metadata interface. Upserts are atomic; reads
// are point-in-time with no cross-call transactional guarantees.
type Store interface {
	// Upsert inserts the row by id, or updates only the non-nil columns
	// of an existing row (sparse update).
	Upsert(ctx context.Context, row *DocumentRow) error
	Get(ctx context.Context, id string) (*DocumentRow, error)
	GetByURL(ctx context.Context, url string) (*DocumentRow, error)
	// UploadedURLSet returns every source_url with status=uploaded, the
	// in-memory fast-dedup set loaded at the start of a crawl.
	UploadedURLSet(ctx context.Context) (map[string]struct{}, error)
	// UploadedIDs returns every uploaded id, used by the manifest.
	UploadedIDs(ctx context.Context) ([]string, error)
	StatsByStatus(ctx context.Context) (map[string]int64, error)

	// Extraction extensions.
	UpdateExtraction(ctx context.Context, id string, res ExtractionResult, at time.Time) error
	UpdateExtractionError(ctx context.Context, id string, message string) error
	// GetUnextracted returns up to limit uploaded rows with no extraction
	// outcome yet, ordered by uploaded_at ascending.
	GetUnextracted(ctx context.Context, limit int) ([]*DocumentRow, error)
	ExtractionStats(ctx context.Context) (*ExtractionStats, error)

	Close() error
}
