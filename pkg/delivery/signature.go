// Package delivery tracks outbound messages between the application queue
// and a transport: per-message retry/expiry markers, a priority queue and a
// durable store for messages that could not be delivered.
package delivery

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Signature returns the hex BLAKE2b-256 digest identifying a payload
func Signature(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
