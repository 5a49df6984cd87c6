package rtp

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	voiceerrors "voicecore/backend/pkg/errors"
)

// Mode identifies one of the two AEAD modes mandated for transport
// encryption. Both are "rtpsize" variants: the RTP header is used as
// AAD and the last 4 bytes of the wire packet carry the nonce counter.
type Mode string

const (
	// ModeAES256GCMRTPSize is aead_aes256_gcm_rtpsize.
	ModeAES256GCMRTPSize Mode = "aead_aes256_gcm_rtpsize"
	// ModeXChaCha20Poly1305RTPSize is aead_xchacha20_poly1305_rtpsize.
	ModeXChaCha20Poly1305RTPSize Mode = "aead_xchacha20_poly1305_rtpsize"
)

// PreferenceOrder is the mode selection preference:
// AES-256-GCM-rtpsize first, then XChaCha20-Poly1305-rtpsize.
var PreferenceOrder = []Mode{ModeAES256GCMRTPSize, ModeXChaCha20Poly1305RTPSize}

// SelectMode picks the first mode in PreferenceOrder that the relay
// advertises as supported.
func SelectMode(supported []string) (Mode, bool) {
	supportedSet := make(map[string]bool, len(supported))
	for _, m := range supported {
		supportedSet[m] = true
	}
	for _, m := range PreferenceOrder {
		if supportedSet[string(m)] {
			return m, true
		}
	}
	return "", false
}

// TagSize is the AEAD authentication tag length for both mandated modes.
const TagSize = 16

// CounterSize is the trailing transport-nonce counter length appended
// to every sealed packet.
const CounterSize = 4

// Cipher seals and opens RTP payloads under a fixed 32-byte session key
// and a selected AEAD mode.
type Cipher struct {
	mode Mode
	aead cipher.AEAD
}

// NewCipher constructs a Cipher for the given mode and 32-byte secret
// key (as delivered in SessionDescription).
func NewCipher(mode Mode, key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("rtp: secret key must be 32 bytes, got %d", len(key))
	}

	switch mode {
	case ModeAES256GCMRTPSize:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("rtp: aes cipher init: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("rtp: gcm init: %w", err)
		}
		return &Cipher{mode: mode, aead: aead}, nil

	case ModeXChaCha20Poly1305RTPSize:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("rtp: xchacha20poly1305 init: %w", err)
		}
		return &Cipher{mode: mode, aead: aead}, nil

	default:
		return nil, fmt.Errorf("rtp: unsupported transport mode %q", mode)
	}
}

// Mode returns the cipher's AEAD mode.
func (c *Cipher) Mode() Mode {
	return c.mode
}

// Seal encrypts plaintext under the given header (as AAD) and counter,
// returning only the ciphertext+tag (the caller is responsible for
// prefixing the header and appending the counter bytes per the wire
// format in Assemble).
func (c *Cipher) Seal(header [HeaderSize]byte, counter uint32, plaintext []byte) []byte {
	switch c.mode {
	case ModeAES256GCMRTPSize:
		nonce := gcmNonce(counter)
		return c.aead.Seal(nil, nonce[:], plaintext, header[:])
	case ModeXChaCha20Poly1305RTPSize:
		nonce := xchachaNonce(header, counter)
		return c.aead.Seal(nil, nonce[:], plaintext, header[:])
	default:
		// unreachable: NewCipher validates mode
		return nil
	}
}

// Open decrypts ciphertext under the given header (as AAD) and
// counter. It returns ErrDecryptFailed on authentication failure; the
// caller must not advance any sequence/timestamp state when this
// happens.
func (c *Cipher) Open(header [HeaderSize]byte, counter uint32, ciphertext []byte, ssrc uint32) ([]byte, error) {
	var (
		plaintext []byte
		err       error
	)
	switch c.mode {
	case ModeAES256GCMRTPSize:
		nonce := gcmNonce(counter)
		plaintext, err = c.aead.Open(nil, nonce[:], ciphertext, header[:])
	case ModeXChaCha20Poly1305RTPSize:
		nonce := xchachaNonce(header, counter)
		plaintext, err = c.aead.Open(nil, nonce[:], ciphertext, header[:])
	default:
		return nil, fmt.Errorf("rtp: unsupported transport mode %q", c.mode)
	}
	if err != nil {
		return nil, voiceerrors.NewDecryptFailed(ssrc, err)
	}
	return plaintext, nil
}
