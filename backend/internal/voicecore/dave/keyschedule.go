package dave

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"

	voiceerrors "voicecore/backend/pkg/errors"
)

// FrameKeySize is the length of a derived per-(user, ssrc, generation)
// frame key, used as the AES-128-GCM key inside the DAVE frame codec.
const FrameKeySize = 16

// frameKeyInfo is the fixed HKDF info label for frame key derivation,
// domain-separating it from any other secret derived off the same MLS
// exporter secret.
var frameKeyInfo = []byte("dave-frame-key")

// deriveFrameKey derives the 16-byte frame key for one user's SSRC at
// one generation from the MLS exporter secret for the current epoch.
// The salt binds the key to the SSRC, generation and user so that two
// members (or two streams) at the same epoch never share a frame key.
func deriveFrameKey(epochSecret []byte, userID string, ssrc uint32, generation uint8) ([]byte, error) {
	salt := make([]byte, 5+len(userID))
	binary.BigEndian.PutUint32(salt[0:4], ssrc)
	salt[4] = generation
	copy(salt[5:], userID)

	reader := hkdf.New(sha256.New, epochSecret, salt, frameKeyInfo)
	key := make([]byte, FrameKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "frame key derivation failed", err)
	}
	return key, nil
}

// frameKeyCacheKey identifies one cached frame key.
type frameKeyCacheKey struct {
	userID     string
	ssrc       uint32
	generation uint8
}

// KeySchedule derives and caches per-(user_id, ssrc, generation) frame
// keys for the epoch it was built from. Readers take a single
// atomic load of the current snapshot map, so decrypting inbound
// frames never blocks on the writer that's deriving keys for a newly
// announced generation.
type KeySchedule struct {
	epochSecret []byte
	epoch       uint64

	mu       sync.Mutex // guards derivation / snapshot swap, readers never take it
	snapshot atomic.Pointer[map[frameKeyCacheKey][]byte]
}

// NewKeySchedule builds a KeySchedule bound to one MLS epoch's exporter
// secret, obtained via GroupStore.ExportSecret.
func NewKeySchedule(epoch uint64, epochSecret []byte) *KeySchedule {
	ks := &KeySchedule{epoch: epoch, epochSecret: epochSecret}
	empty := map[frameKeyCacheKey][]byte{}
	ks.snapshot.Store(&empty)
	return ks
}

// Epoch returns the MLS epoch this schedule's keys are derived from.
func (ks *KeySchedule) Epoch() uint64 {
	return ks.epoch
}

// FrameKey returns the frame key for (userID, ssrc, generation),
// deriving and caching it on first use. Concurrent callers deriving
// different keys for the same schedule serialize briefly on mu; every
// lookup of an already-cached key is a single atomic pointer load.
func (ks *KeySchedule) FrameKey(userID string, ssrc uint32, generation uint8) ([]byte, error) {
	lookup := frameKeyCacheKey{userID: userID, ssrc: ssrc, generation: generation}

	if cur := ks.snapshot.Load(); cur != nil {
		if key, ok := (*cur)[lookup]; ok {
			return key, nil
		}
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	// Re-check under the lock: another goroutine may have derived and
	// published this exact key while we were waiting.
	cur := ks.snapshot.Load()
	if key, ok := (*cur)[lookup]; ok {
		return key, nil
	}

	key, err := deriveFrameKey(ks.epochSecret, userID, ssrc, generation)
	if err != nil {
		return nil, err
	}

	next := make(map[frameKeyCacheKey][]byte, len(*cur)+1)
	for k, v := range *cur {
		next[k] = v
	}
	next[lookup] = key
	ks.snapshot.Store(&next)

	return key, nil
}

// NonceForGeneration packs a generation and a per-generation counter
// into one 32-bit DAVE nonce (high 8 bits generation, low 24 bits
// counter).
func NonceForGeneration(generation uint8, counter uint32) uint32 {
	return uint32(generation)<<24 | (counter & 0x00FFFFFF)
}

// SplitNonce is the inverse of NonceForGeneration.
func SplitNonce(nonce uint32) (generation uint8, counter uint32) {
	return uint8(nonce >> 24), nonce & 0x00FFFFFF
}
