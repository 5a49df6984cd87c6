package dave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode(encode(x)) == x for every nonce value, encoded length <= 5 bytes.
func TestULEB128RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 300, 1 << 20, 1<<24 | 42, 0xFFFFFFFF}
	for _, v := range values {
		encoded := encodeULEB128(v)
		assert.LessOrEqual(t, len(encoded), maxULEB128Bytes)

		decoded, n, err := decodeULEB128(encoded)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
		assert.Equal(t, len(encoded), n)
	}
}

func TestULEB128DecodeConsumesOnlyItsOwnBytes(t *testing.T) {
	encoded := encodeULEB128(300)
	trailer := []byte{0xAA, 0xBB}
	buf := append(append([]byte{}, encoded...), trailer...)

	decoded, n, err := decodeULEB128(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(300), decoded)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, trailer, buf[n:])
}

func TestULEB128DecodeRejectsTruncatedInput(t *testing.T) {
	_, _, err := decodeULEB128([]byte{0x80, 0x80, 0x80, 0x80, 0x80})
	require.Error(t, err)
}

func TestULEB128DecodeRejectsEmptyInput(t *testing.T) {
	_, _, err := decodeULEB128(nil)
	require.Error(t, err)
}
