package cdx

import (
	"encoding/json"
	"strconv"
	"strings"
)

// WordMIME is the only content type that survives index filtering.
const WordMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Record is one candidate download from the filtered CDX index: a URL plus
// the byte range of its archive record inside a crawl container file.
type Record struct {
	URL      string `json:"url"`
	MIME     string `json:"mime"`
	Status   string `json:"status"`
	Digest   string `json:"digest"`
	Length   string `json:"length"`
	Offset   string `json:"offset"`
	Filename string `json:"filename"`
}

// ByteRange returns the record's offset and length as integers.
func (r *Record) ByteRange() (offset, length int64, err error) {
	offset, err = strconv.ParseInt(r.Offset, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	length, err = strconv.ParseInt(r.Length, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return offset, length, nil
}

// ParseRawLine parses one line of the raw upstream CDX format
// ("surt timestamp {json}"). Anything that is not a 200-status Word
// document yields nil: blank lines, lines without JSON, malformed JSON,
// other MIME types. Bad input is skipped, never an error.
func ParseRawLine(line string) *Record {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	brace := strings.IndexByte(line, '{')
	if brace < 0 {
		return nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(line[brace:]), &rec); err != nil {
		return nil
	}
	if rec.Status != "200" || rec.MIME != WordMIME {
		return nil
	}
	return &rec
}

// ParseFilteredLine parses one JSONL line from a pre-filtered shard. The
// upstream filter already enforced status and MIME, but both are
// re-checked so a mis-produced shard cannot smuggle records through.
func ParseFilteredLine(line string) *Record {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil
	}
	if rec.Status != "200" || rec.MIME != WordMIME {
		return nil
	}
	return &rec
}
