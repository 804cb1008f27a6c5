package archive

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// An archive record frames a stored HTTP interaction as
//
//	<archive-headers>\r\n\r\n<http-response-headers>\r\n\r\n<body>
//
// The body is binary; only the two header slices are text. Separators are
// located by byte search so the body is never scanned.

var crlfcrlf = []byte("\r\n\r\n")

var statusLineRe = regexp.MustCompile(`HTTP/\d+(?:\.\d+)?\s+(\d+)`)

// Payload is the parsed interior of one archive record.
type Payload struct {
	HTTPStatus  int
	ContentType string
	Body        []byte
}

// ParseRecord splits decompressed archive-record bytes into the stored
// HTTP status, Content-Type, and body. Transfer encodings are not honored;
// the upstream writes content-length-terminated records.
func ParseRecord(data []byte) (*Payload, error) {
	first := bytes.Index(data, crlfcrlf)
	if first < 0 {
		return nil, &ParseError{Reason: "missing archive header separator"}
	}
	rest := data[first+len(crlfcrlf):]

	second := bytes.Index(rest, crlfcrlf)
	if second < 0 {
		return nil, &ParseError{Reason: "missing HTTP header separator"}
	}
	httpHeaders := string(rest[:second])
	body := rest[second+len(crlfcrlf):]

	status := 0
	if m := statusLineRe.FindStringSubmatch(httpHeaders); m != nil {
		status, _ = strconv.Atoi(m[1])
	}

	contentType := ""
	for _, line := range strings.Split(httpHeaders, "\r\n") {
		if len(line) > 13 && strings.EqualFold(line[:13], "content-type:") {
			contentType = strings.TrimSpace(line[13:])
			break
		}
	}

	return &Payload{HTTPStatus: status, ContentType: contentType, Body: body}, nil
}

// BuildRecord assembles an archive record from its parts. The inverse of
// ParseRecord; used by tests and fixtures.
func BuildRecord(status int, contentType string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "WARC/1.0\r\nWARC-Type: response\r\nContent-Length: %d\r\n\r\n", len(body))
	fmt.Fprintf(&buf, "HTTP/1.1 %d OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", status, contentType, len(body))
	buf.Write(body)
	return buf.Bytes()
}
