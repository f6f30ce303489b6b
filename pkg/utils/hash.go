package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashString returns the hex sha256 of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// CacheKey hashes parts after trimming surrounding whitespace. Each part is
// length-prefixed so ("ab", "c") and ("a", "bc") differ.
func CacheKey(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		fmt.Fprintf(&b, "%d:%s|", len(p), p)
	}
	return HashString(b.String())
}
