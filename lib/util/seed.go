package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// GenerateSeed returns a random 64 bit value, e.g. for session ids
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock, only if the system source failed
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// GenerateSessionID returns a random non-zero session id. Zero is reserved for
// links that were not assigned a session by the server.
func GenerateSessionID() uint64 {
	for {
		if id := GenerateSeed(); id != 0 {
			return id
		}
	}
}
