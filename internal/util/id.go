package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24 character lowercase hex identifier, the same shape as a
// Mongo ObjectId, optionally prefixed.
func NewID(prefix string) string {
	return withPrefix(prefix, randomHex(12))
}

// Nonce returns a short random hex string for cache-busting url prefixes.
func Nonce() string {
	return randomHex(4)
}

func randomHex(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func withPrefix(prefix, value string) string {
	if prefix == "" {
		return value
	}
	return prefix + "_" + value
}
