package rtp

import (
	"encoding/binary"
	"sync"

	voiceerrors "voicecore/backend/pkg/errors"
)

// NonceCounter is the per-session monotonic 32-bit counter appended to
// every transport-encrypted packet. It is never reused under a given
// key; the session resets it to zero on key rotation.
//
// A received counter of 0xFFFFFFFF is a valid value; the *next* value
// to send must not reuse it, so WouldWrap must be checked before the
// increment that would produce it.
type NonceCounter struct {
	mu    sync.Mutex
	value uint32
}

// Next returns the next counter value to use for an outbound packet and
// advances the counter. Callers must check WouldWrap first and rotate
// keys instead of calling Next again once it reports true.
func (c *NonceCounter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == 0xFFFFFFFF {
		// The caller failed to rotate ahead of exhaustion; refuse to
		// reuse counter 0 under the same key.
		return 0, voiceerrors.ErrNonceExhausted
	}
	v := c.value
	c.value++
	return v, nil
}

// WouldWrap reports whether the next Next() call would wrap the
// counter back to zero, i.e. the current value is 0xFFFFFFFF. The
// session should rotate keys (new Session-Description, DAVE execute,
// or an explicit rekey) before that happens.
func (c *NonceCounter) WouldWrap() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value == 0xFFFFFFFF
}

// Reset zeroes the counter. Called on key rotation.
func (c *NonceCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = 0
}

// Peek returns the current counter value without advancing it, for
// tests and diagnostics.
func (c *NonceCounter) Peek() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// gcmNonce builds the 12-byte AES-256-GCM-rtpsize nonce: 8 zero bytes
// followed by the big-endian counter.
func gcmNonce(counter uint32) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[8:12], counter)
	return n
}

// xchachaNonce builds the 24-byte XChaCha20-Poly1305-rtpsize nonce:
// the 12-byte RTP header, 8 zero bytes, then the big-endian counter.
func xchachaNonce(header [HeaderSize]byte, counter uint32) [24]byte {
	var n [24]byte
	copy(n[0:12], header[:])
	binary.BigEndian.PutUint32(n[20:24], counter)
	return n
}
