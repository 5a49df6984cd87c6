package dave

import (
	"crypto/aes"
	"crypto/cipher"

	voiceerrors "voicecore/backend/pkg/errors"
)

// MagicMarker is the fixed 2-byte trailer every DAVE frame must end
// with; anything else is discarded before any key lookup.
const MagicMarker uint16 = 0xFAFA

// InnerTagSize is the truncated AES-128-GCM tag length used inside the
// DAVE frame.
const InnerTagSize = 8

// EmptyRanges is the single-byte "no unencrypted ranges" marker used
// for Opus frames, which are encrypted in full.
var EmptyRanges = []byte{0x00}

// minFrameLen is the smallest a DAVE frame can be: zero-length
// ciphertext, the 8-byte tag, a minimal 1-byte nonce, zero-length
// ranges, the 1-byte supplemental_size field, and the 2-byte marker.
const minFrameLen = InnerTagSize + 1 + 1 + 2

// Encode builds one DAVE E2EE frame from a plaintext Opus payload and
// a 16-byte frame key.
//
// nonceValue is the full 32-bit ULEB128-encoded nonce: the high 8 bits
// are the generation, the low 24 bits the per-generation counter.
func Encode(plaintext, frameKey []byte, nonceValue uint32, ranges []byte) ([]byte, error) {
	if ranges == nil {
		ranges = EmptyRanges
	}

	block, err := aes.NewCipher(frameKey)
	if err != nil {
		return nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "aes cipher init failed", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, InnerTagSize)
	if err != nil {
		return nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "gcm init failed", err)
	}

	nonce := innerNonce(nonceValue & 0x00FFFFFF)
	sealed := aead.Seal(nil, nonce[:], plaintext, nil)
	// sealed = ciphertext || tag(8)
	ciphertextLen := len(sealed) - InnerTagSize

	nonceBytes := encodeULEB128(nonceValue)
	supplementalSize := InnerTagSize + len(nonceBytes) + len(ranges) + 1 + 2
	if supplementalSize > 255 {
		return nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "supplemental block too large", nil)
	}

	out := make([]byte, 0, ciphertextLen+supplementalSize)
	out = append(out, sealed...) // ciphertext || tag
	out = append(out, nonceBytes...)
	out = append(out, ranges...)
	out = append(out, byte(supplementalSize))
	out = append(out, byte(MagicMarker>>8), byte(MagicMarker&0xFF))

	return out, nil
}

// Parsed is a syntactically valid DAVE frame before decryption.
type Parsed struct {
	Ciphertext        []byte // ciphertext || tag(8)
	NonceValue        uint32
	Generation        uint8
	UnencryptedRanges []byte
}

// Parse validates and splits a candidate DAVE frame without decrypting
// it. Any frame whose final two bytes aren't MagicMarker is rejected
// outright before any frame-key lookup is attempted.
func Parse(data []byte) (*Parsed, error) {
	if len(data) < minFrameLen {
		return nil, voiceerrors.NewDAVEFrameInvalid("frame shorter than minimum length")
	}

	total := len(data)
	marker := uint16(data[total-2])<<8 | uint16(data[total-1])
	if marker != MagicMarker {
		return nil, voiceerrors.ErrDAVEWrongMagicMarker
	}

	supplementalSize := int(data[total-3])
	if supplementalSize < InnerTagSize+1+1+2 || supplementalSize > total {
		return nil, voiceerrors.NewDAVEFrameInvalid("supplemental_size out of range")
	}

	ciphertextEnd := total - supplementalSize
	if ciphertextEnd < 0 {
		return nil, voiceerrors.NewDAVEFrameInvalid("supplemental_size exceeds frame length")
	}

	tagEnd := ciphertextEnd + InnerTagSize
	if tagEnd > total-3 {
		return nil, voiceerrors.NewDAVEFrameInvalid("truncated auth tag")
	}
	ciphertextAndTag := data[:tagEnd]

	rest := data[tagEnd : total-3]
	nonceValue, consumed, err := decodeULEB128(rest)
	if err != nil {
		return nil, voiceerrors.NewDAVEFrameInvalid("malformed ULEB128 nonce")
	}
	ranges := rest[consumed:]

	return &Parsed{
		Ciphertext:        ciphertextAndTag,
		NonceValue:        nonceValue,
		Generation:        uint8(nonceValue >> 24),
		UnencryptedRanges: ranges,
	}, nil
}

// Decrypt opens the inner AES-128-GCM ciphertext using the given frame
// key, matching the nonce embedded in the parsed frame.
func (p *Parsed) Decrypt(frameKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(frameKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithTagSize(block, InnerTagSize)
	if err != nil {
		return nil, err
	}
	nonce := innerNonce(p.NonceValue & 0x00FFFFFF)
	return aead.Open(nil, nonce[:], p.Ciphertext, nil)
}

// innerNonce builds the 12-byte inner AEAD nonce: 8 zero bytes
// followed by the big-endian per-generation frame counter (the low 24
// bits of the DAVE nonce).
func innerNonce(counter uint32) [12]byte {
	var n [12]byte
	n[8] = byte(counter >> 24)
	n[9] = byte(counter >> 16)
	n[10] = byte(counter >> 8)
	n[11] = byte(counter)
	return n
}
