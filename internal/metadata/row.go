package metadata

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Caia-Tech/caia-harvest/pkg/docx"
)

// Document lifecycle statuses.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusValidating  = "validating"
	StatusUploaded    = "uploaded"
	StatusFailed      = "failed"
)

// DocumentRow is the persistent metadata for one harvested document. For
// uploaded documents the id is the lowercase hex SHA-256 of the payload;
// permanently-failed records with no payload use the sentinel
// "failed-<sha256(url)>" so retries of the same URL collapse onto one row.
type DocumentRow struct {
	ID               string     `json:"id"`
	SourceURL        string     `json:"source_url"`
	CrawlID          string     `json:"crawl_id"`
	OriginalFilename string     `json:"original_filename"`
	FileSizeBytes    *int64     `json:"file_size_bytes,omitempty"`
	Status           string     `json:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	IsValidDocx      *bool      `json:"is_valid_docx,omitempty"` // tri-state: nil = unknown
	DiscoveredAt     *time.Time `json:"discovered_at,omitempty"`
	DownloadedAt     *time.Time `json:"downloaded_at,omitempty"`
	UploadedAt       *time.Time `json:"uploaded_at,omitempty"`

	// Extraction extension, written by the extract pipeline. At most one
	// of ExtractedAt / ExtractionError is set at a time.
	ExtractedAt     *time.Time `json:"extracted_at,omitempty"`
	WordCount       *int64     `json:"word_count,omitempty"`
	CharCount       *int64     `json:"char_count,omitempty"`
	TableCount      *int64     `json:"table_count,omitempty"`
	ImageCount      *int64     `json:"image_count,omitempty"`
	ExtractionError *string    `json:"extraction_error,omitempty"`
}

// FailureID returns the deterministic row id for a fetch failure that
// produced no payload bytes.
func FailureID(sourceURL string) string {
	return "failed-" + docx.HashString(sourceURL)
}

// FilenameFromURL derives the original filename from a URL path,
// percent-decoded, defaulting to unknown.docx.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown.docx"
	}
	name := path.Base(u.Path)
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "unknown.docx"
	}
	return name
}
