package rtp

import (
	"encoding/binary"

	voiceerrors "voicecore/backend/pkg/errors"
)

// MinPacketSize is the smallest a well-formed transport packet can be:
// header + empty ciphertext + tag + trailing counter.
const MinPacketSize = HeaderSize + TagSize + CounterSize

// Codec drives the egress/ingress sequence and timestamp bookkeeping
// and combines the RTP header, AEAD ciphertext, and trailing nonce
// counter into the wire packet.
type Codec struct {
	cipher    *Cipher
	nonce     *NonceCounter
	ssrc      uint32
	sequence  uint16
	timestamp uint32
	// TimestampIncr is the Opus frame's sample count per channel,
	// typically 960 for a 20ms frame at 48kHz.
	TimestampIncr uint32
}

// NewCodec builds a Codec bound to one SSRC, cipher, and nonce counter.
func NewCodec(c *Cipher, nonce *NonceCounter, ssrc uint32, timestampIncr uint32) *Codec {
	return &Codec{
		cipher:        c,
		nonce:         nonce,
		ssrc:          ssrc,
		TimestampIncr: timestampIncr,
	}
}

// Assemble builds one outbound transport packet from a payload
// (already DAVE-encoded if E2EE is active). Sequence and timestamp are
// advanced by the codec, never the caller.
func (c *Codec) Assemble(payload []byte) ([]byte, error) {
	if c.nonce.WouldWrap() {
		return nil, voiceerrors.ErrNonceExhausted
	}
	counter, err := c.nonce.Next()
	if err != nil {
		return nil, err
	}

	header := Header{
		Sequence:  c.sequence,
		Timestamp: c.timestamp,
		SSRC:      c.ssrc,
	}
	headerBytes := header.Encode()

	ciphertext := c.cipher.Seal(headerBytes, counter, payload)

	out := make([]byte, 0, HeaderSize+len(ciphertext)+CounterSize)
	out = append(out, headerBytes[:]...)
	out = append(out, ciphertext...)
	out = binary.BigEndian.AppendUint32(out, counter)

	c.sequence++
	c.timestamp += c.TimestampIncr

	return out, nil
}

// ParsedPacket is the result of successfully decoding an inbound
// transport packet.
type ParsedPacket struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Plaintext []byte
}

// Parse decodes one inbound transport packet. It rejects datagrams
// shorter than MinPacketSize, reconstructs the nonce from the trailing
// 4-byte counter, and opens the AEAD ciphertext with the RTP header as
// AAD. On authentication failure it returns ErrDecryptFailed and the
// caller must not advance any state.
func Parse(c *Cipher, datagram []byte) (*ParsedPacket, error) {
	if len(datagram) < MinPacketSize {
		return nil, voiceerrors.NewDatagramTooShort(len(datagram))
	}

	header, err := ParseHeader(datagram)
	if err != nil {
		return nil, err
	}
	var headerBytes [HeaderSize]byte
	copy(headerBytes[:], datagram[:HeaderSize])

	counter := binary.BigEndian.Uint32(datagram[len(datagram)-CounterSize:])
	ciphertext := datagram[HeaderSize : len(datagram)-CounterSize]

	plaintext, err := c.Open(headerBytes, counter, ciphertext, header.SSRC)
	if err != nil {
		return nil, err
	}

	return &ParsedPacket{
		SSRC:      header.SSRC,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
		Plaintext: plaintext,
	}, nil
}
