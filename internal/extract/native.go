package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// NativeExtractor parses Word documents in-process. It is the fallback when
// no extractor command is configured: faster to start than a subprocess but
// limited to what the document XML exposes directly.
type NativeExtractor struct{}

func NewNativeExtractor() *NativeExtractor { return &NativeExtractor{} }

func (n *NativeExtractor) Restart(ctx context.Context) error { return nil }
func (n *NativeExtractor) Close() error                      { return nil }

// Extract reads the document at path and pulls plain text plus structural
// counts out of its XML body.
func (n *NativeExtractor) Extract(ctx context.Context, path string) (*Output, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(content) < 4 || content[0] != 0x50 || content[1] != 0x4B {
		return nil, fmt.Errorf("not a Word document: missing ZIP signature")
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()
	text := strings.TrimSpace(stripXMLTags(raw))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if text == "" {
		return nil, fmt.Errorf("document contains no extractable text")
	}

	return &Output{
		Text:       text,
		WordCount:  int64(len(strings.Fields(text))),
		CharCount:  int64(len([]rune(text))),
		TableCount: int64(strings.Count(raw, "<w:tbl>")),
		ImageCount: int64(strings.Count(raw, "<w:drawing>")),
	}, nil
}

// stripXMLTags flattens document XML to text, inserting newlines at
// paragraph boundaries so word counting stays meaningful.
func stripXMLTags(raw string) string {
	var result strings.Builder
	inTag := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch == '<':
			if strings.HasPrefix(raw[i:], "</w:p>") {
				result.WriteByte('\n')
			}
			inTag = true
		case ch == '>':
			inTag = false
		case !inTag:
			result.WriteByte(ch)
		}
	}
	return result.String()
}
