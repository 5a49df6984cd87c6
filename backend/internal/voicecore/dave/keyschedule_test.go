package dave

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameKeyIsDeterministicAndCached(t *testing.T) {
	ks := NewKeySchedule(1, []byte("an epoch exporter secret, 32b!!"))

	k1, err := ks.FrameKey("user-a", 111, 0)
	require.NoError(t, err)
	k2, err := ks.FrameKey("user-a", 111, 0)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, FrameKeySize)
}

func TestFrameKeyDiffersByUserSSRCAndGeneration(t *testing.T) {
	ks := NewKeySchedule(1, []byte("an epoch exporter secret, 32b!!"))

	kUserA, err := ks.FrameKey("user-a", 111, 0)
	require.NoError(t, err)
	kUserB, err := ks.FrameKey("user-b", 111, 0)
	require.NoError(t, err)
	assert.NotEqual(t, kUserA, kUserB)

	kOtherSSRC, err := ks.FrameKey("user-a", 222, 0)
	require.NoError(t, err)
	assert.NotEqual(t, kUserA, kOtherSSRC)

	kGen0, err := ks.FrameKey("user-a", 111, 0)
	require.NoError(t, err)
	kGen1, err := ks.FrameKey("user-a", 111, 1)
	require.NoError(t, err)
	assert.NotEqual(t, kGen0, kGen1)
}

// Keys derived under one epoch's schedule are not reachable once
// the group rotates to a new schedule built from a new exporter secret.
func TestNewEpochScheduleInvalidatesPriorKeys(t *testing.T) {
	oldSchedule := NewKeySchedule(1, []byte("epoch one exporter secret 32by!"))
	oldKey, err := oldSchedule.FrameKey("user-a", 111, 0)
	require.NoError(t, err)

	newSchedule := NewKeySchedule(2, []byte("epoch two exporter secret 32by!"))
	newKey, err := newSchedule.FrameKey("user-a", 111, 0)
	require.NoError(t, err)

	assert.NotEqual(t, oldKey, newKey)
	assert.Equal(t, uint64(1), oldSchedule.Epoch())
	assert.Equal(t, uint64(2), newSchedule.Epoch())
}

func TestFrameKeyConcurrentDerivationIsConsistent(t *testing.T) {
	ks := NewKeySchedule(1, []byte("an epoch exporter secret, 32b!!"))

	var wg sync.WaitGroup
	keys := make([][]byte, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := ks.FrameKey("user-a", 111, 0)
			require.NoError(t, err)
			keys[i] = k
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(keys); i++ {
		assert.Equal(t, keys[0], keys[i])
	}
}

func TestNonceGenerationRoundTrip(t *testing.T) {
	nonce := NonceForGeneration(7, 0x00ABCDEF)
	gen, counter := SplitNonce(nonce)
	assert.Equal(t, uint8(7), gen)
	assert.Equal(t, uint32(0x00ABCDEF), counter)
}

func TestNonceForGenerationMasksCounterOverflow(t *testing.T) {
	nonce := NonceForGeneration(1, 0xFFFFFFFF)
	gen, counter := SplitNonce(nonce)
	assert.Equal(t, uint8(1), gen)
	assert.Equal(t, uint32(0x00FFFFFF), counter)
}
