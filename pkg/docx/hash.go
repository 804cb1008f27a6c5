package docx

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 of payload as 64 lowercase hex characters.
// Uploaded documents are keyed by this value.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// HashString hashes a string. Used for the deterministic failure-row
// sentinel ids derived from source URLs.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
