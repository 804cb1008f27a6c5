package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordRoundTrip(t *testing.T) {
	body := []byte{0x50, 0x4B, 0x03, 0x04, 0x00, 0xFF, 0x0D, 0x0A, 0x01}
	raw := BuildRecord(200, "application/msword", body)

	payload, err := ParseRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, 200, payload.HTTPStatus)
	assert.Equal(t, "application/msword", payload.ContentType)
	assert.Equal(t, body, payload.Body)
}

func TestParseRecordBinaryBody(t *testing.T) {
	// A body containing \r\n\r\n must not confuse the frame search: only
	// the first two separators delimit headers.
	body := []byte("prefix\r\n\r\nsuffix")
	raw := BuildRecord(200, "application/octet-stream", body)

	payload, err := ParseRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, body, payload.Body)
}

func TestParseRecordMissingSeparators(t *testing.T) {
	_, err := ParseRecord([]byte("no separators here"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	_, err = ParseRecord([]byte("archive-header: x\r\n\r\nHTTP/1.1 200 OK but never terminated"))
	require.ErrorAs(t, err, &parseErr)
}

func TestParseRecordStatusLineVariants(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   int
	}{
		{"http 1.1", "HTTP/1.1 200 OK", 200},
		{"http 1.0", "HTTP/1.0 503 Unavailable", 503},
		{"http 2", "HTTP/2 404 Not Found", 404},
		{"missing status line", "X-Whatever: yes", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte("WARC/1.0\r\n\r\n" + tt.status + "\r\n\r\nbody")
			payload, err := ParseRecord(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, payload.HTTPStatus)
		})
	}
}

func TestParseRecordContentTypeCaseInsensitive(t *testing.T) {
	raw := []byte("WARC/1.0\r\n\r\nHTTP/1.1 200 OK\r\nCONTENT-TYPE: text/html; charset=utf-8\r\n\r\nx")
	payload, err := ParseRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", payload.ContentType)
}
