package archive

import "fmt"

// RateLimitedError means the upstream throttled us past the retry budget.
type RateLimitedError struct {
	StatusCode int
	Attempts   int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by upstream (HTTP %d) after %d attempts", e.StatusCode, e.Attempts)
}

// HTTPError is a non-2xx response outside the retryable set.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// ParseError means the fetched bytes did not frame as an archive record.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "archive record parse failed: " + e.Reason
}
