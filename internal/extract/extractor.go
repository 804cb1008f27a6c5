package extract

import "context"

// Output is one document's extraction result.
type Output struct {
	Text       string `json:"text"`
	WordCount  int64  `json:"wordCount"`
	CharCount  int64  `json:"charCount"`
	TableCount int64  `json:"tableCount"`
	ImageCount int64  `json:"imageCount"`
}

// engine is one worker's extraction backend: either a managed subprocess or
// the in-process fallback. Extract reads the document at path. Restart
// recovers the backend after a kill or crash; the fallback treats it as a
// no-op.
type engine interface {
	Extract(ctx context.Context, path string) (*Output, error)
	Restart(ctx context.Context) error
	Close() error
}
