package docx

import (
	"bytes"
	"fmt"
)

// Validation failure reasons, stable strings recorded in error_message.
const (
	ReasonTooSmall            = "too_small"
	ReasonWrongMagic          = "wrong_magic"
	ReasonMissingContentTypes = "missing_content_types"
	ReasonMissingWordDocument = "missing_word_document"
)

// MinValidSize is the smallest payload that can plausibly be a Word document.
const MinValidSize = 100

var (
	zipMagic         = []byte{0x50, 0x4B, 0x03, 0x04}
	contentTypesPart = []byte("[Content_Types].xml")
	wordDocumentXML  = []byte("word/document.xml")
	wordDocumentAny  = []byte("word/document")
)

// Result reports whether a payload passed validation and, if not, why.
// Detail names what the failed check was looking for.
type Result struct {
	OK     bool
	Reason string
	Detail string
}

// Validate runs the cheap structural checks that a payload is a Word-format
// ZIP. It deliberately avoids a full ZIP parse: these checks are a fast
// filter, and false positives are caught later by the extractor.
func Validate(payload []byte) Result {
	if len(payload) < MinValidSize {
		return Result{Reason: ReasonTooSmall, Detail: fmt.Sprintf("under %d bytes", MinValidSize)}
	}
	if !bytes.HasPrefix(payload, zipMagic) {
		return Result{Reason: ReasonWrongMagic, Detail: "no ZIP header"}
	}
	if !bytes.Contains(payload, contentTypesPart) {
		return Result{Reason: ReasonMissingContentTypes, Detail: string(contentTypesPart)}
	}
	if !bytes.Contains(payload, wordDocumentXML) && !bytes.Contains(payload, wordDocumentAny) {
		return Result{Reason: ReasonMissingWordDocument, Detail: string(wordDocumentXML)}
	}
	return Result{OK: true}
}
