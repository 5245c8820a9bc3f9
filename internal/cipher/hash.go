package cipher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// HashMessage returns the SHA-256 of a UTF-8 string as lowercase hex.
func HashMessage(msg string) string {
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the SHA-256 of raw bytes as lowercase hex.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Canonicalize transforms a JSON document into its RFC 8785 canonical form.
// Every structured object must pass through here before hashing or signing
// so that key order and number formatting cannot change the digest.
func Canonicalize(doc []byte) ([]byte, error) {
	canonical, err := jsoncanonicalizer.Transform(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing JSON: %w", err)
	}
	return canonical, nil
}

// HashJSON canonicalizes a JSON document and returns its SHA-256 hex digest.
func HashJSON(doc []byte) (string, error) {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}
