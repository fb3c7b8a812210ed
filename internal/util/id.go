package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier like "c_9f86d081884c7d65". IDs are
// opaque; callers must not parse anything out of them beyond the prefix.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
