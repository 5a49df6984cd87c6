package dave

// Package-level ULEB128 helpers for the DAVE frame nonce.

// maxULEB128Bytes bounds the encoded length for any value under 2^32.
const maxULEB128Bytes = 5

// encodeULEB128 encodes n as unsigned little-endian base-128.
func encodeULEB128(n uint32) []byte {
	out := make([]byte, 0, maxULEB128Bytes)
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
			continue
		}
		out = append(out, b)
		return out
	}
}

// decodeULEB128 decodes a ULEB128 value from the front of data,
// returning the value and the number of bytes consumed.
func decodeULEB128(data []byte) (uint32, int, error) {
	var (
		result uint32
		shift  uint
	)
	for i := 0; i < len(data) && i < maxULEB128Bytes; i++ {
		b := data[i]
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errTruncatedULEB128
}
