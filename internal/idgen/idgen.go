// Package idgen mints the platform's random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// randHex returns n random bytes hex-encoded. crypto/rand failing means
// the process has no entropy source and nothing sensible can continue.
func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix mints a typed ID: prefix + 24 hex chars, e.g.
// WithPrefix("evt_") for events, "mer_" for merchants, "pred_" for
// predictions. The prefix makes IDs self-describing in logs and support
// tickets.
func WithPrefix(prefix string) string {
	return prefix + randHex(12)
}

// Hex returns numBytes random bytes as hex, for request IDs and other
// unprefixed tokens.
func Hex(numBytes int) string {
	return randHex(numBytes)
}
