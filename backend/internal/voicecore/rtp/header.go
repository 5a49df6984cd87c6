// Package rtp builds and parses the 12-byte RTP header mandated for
// voice relay transport, drives the per-session transport nonce
// counter, and seals/opens packets under the two mandated AEAD modes.
package rtp

import (
	"encoding/binary"

	voiceerrors "voicecore/backend/pkg/errors"
)

// HeaderSize is the fixed RTP header length used on the voice hot path:
// no CSRC list, no extension, no padding.
const HeaderSize = 12

// VersionFlags is the fixed first header byte (version 2, no padding,
// no extension, zero CSRC count).
const VersionFlags = 0x80

// PayloadType is the fixed second header byte used for Opus voice.
const PayloadType = 0x78

// Header is the 12-byte RTP header used on every transport packet.
type Header struct {
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
}

// Encode writes the header into a fixed 12-byte array:
// sequence=0x0042, timestamp=0x0001E000, ssrc=0xDEADBEEF produces
// exactly 80 78 00 42 00 01 E0 00 DE AD BE EF.
func (h Header) Encode() [HeaderSize]byte {
	var out [HeaderSize]byte
	out[0] = VersionFlags
	out[1] = PayloadType
	binary.BigEndian.PutUint16(out[2:4], h.Sequence)
	binary.BigEndian.PutUint32(out[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(out[8:12], h.SSRC)
	return out
}

// ParseHeader parses the fixed 12-byte RTP header from the front of a
// datagram. It does not validate VersionFlags/PayloadType beyond length
// -- callers on the relay hot path are expected to trust their own wire
// format; a relay-facing receiver should reject unexpected values
// itself before calling this.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, voiceerrors.NewDatagramTooShort(len(data))
	}
	return Header{
		Sequence:  binary.BigEndian.Uint16(data[2:4]),
		Timestamp: binary.BigEndian.Uint32(data[4:8]),
		SSRC:      binary.BigEndian.Uint32(data[8:12]),
	}, nil
}
