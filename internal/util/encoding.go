package util

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies Unicode compatibility composition so visually identical
// user input compares equal.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// SHA256Hex returns the hex-encoded SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
