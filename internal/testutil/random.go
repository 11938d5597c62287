package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomSuffix returns a short random hex string for unique test fixtures.
func RandomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RandomEmail returns a unique email address with the given local-part prefix.
func RandomEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, RandomSuffix())
}
