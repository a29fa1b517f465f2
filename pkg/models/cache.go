package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// DurableStats reports row counts of the durable tier together with the
// counters kept by the wrapper in front of it.
type DurableStats struct {
	Total    int64 `json:"total" db:"total"`
	Active   int64 `json:"active" db:"active"`
	Expired  int64 `json:"expired" db:"expired"`
	Hits     int64 `json:"hits" db:"-"`
	Misses   int64 `json:"misses" db:"-"`
	Degraded int64 `json:"degraded" db:"-"`
}

// EphemeralStats reports the in-memory tier.
type EphemeralStats struct {
	Entries           int    `json:"entries"`
	Hits              int64  `json:"hits"`
	Misses            int64  `json:"misses"`
	Evictions         int64  `json:"evictions"`
	MostAccessedKey   string `json:"most_accessed_key,omitempty"`
	MostAccessedCount uint64 `json:"most_accessed_count,omitempty"`
	SizeBytes         int64  `json:"size_bytes"`
}

// NormalizeQuestion trims, lowercases and collapses runs of whitespace so that
// trivially different spellings of a question share a cache key.
func NormalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// HashQuestion returns the hex SHA-256 of the normalized question.
func HashQuestion(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(q)))
	return hex.EncodeToString(sum[:])
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
