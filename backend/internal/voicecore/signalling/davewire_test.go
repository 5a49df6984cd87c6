package signalling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDAVEFrameOutboundHasNoSeq(t *testing.T) {
	frame := EncodeDAVEFrame(OpDAVEMlsKeyPackage, []byte{0xAA, 0xBB})
	assert.Equal(t, []byte{OpDAVEMlsKeyPackage, 0xAA, 0xBB}, frame)
}

func TestDecodeDAVEFrameInboundHasSeq(t *testing.T) {
	data := []byte{0x00, 0x01, OpDAVEMlsWelcome, 0xCC, 0xDD}
	frame, err := DecodeDAVEFrame(data)
	require.NoError(t, err)
	assert.True(t, frame.HasSeq)
	assert.Equal(t, uint16(1), frame.Seq)
	assert.Equal(t, uint8(OpDAVEMlsWelcome), frame.Opcode)
	assert.Equal(t, []byte{0xCC, 0xDD}, frame.Payload)
}

func TestDecodeDAVEFrameRejectsShortInput(t *testing.T) {
	_, err := DecodeDAVEFrame([]byte{0x00, 0x01})
	require.Error(t, err)
}

func TestDecodePrepareTransition(t *testing.T) {
	p, err := DecodePrepareTransition([]byte{0x00, 0x00, 0x00, 0x2A, 0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), p.TransitionID)
	assert.Equal(t, uint16(1), p.ProtocolVersion)

	_, err = DecodePrepareTransition([]byte{0x00, 0x2A})
	require.Error(t, err)
}

func TestDecodePrepareEpoch(t *testing.T) {
	payload := []byte{
		0x00, 0x00, 0x00, 0x07, // transition id
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, // epoch id
		0x00, 0x01, // protocol version
	}
	p, err := DecodePrepareEpoch(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), p.TransitionID)
	assert.Equal(t, uint64(1), p.EpochID)
	assert.Equal(t, uint16(1), p.ProtocolVersion)
}

func TestDecodeExecuteTransition(t *testing.T) {
	id, err := DecodeExecuteTransition([]byte{0x00, 0x00, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(256), id)
}

func TestDecodeTransitionBodySplitsIDAndBytes(t *testing.T) {
	id, body, err := DecodeTransitionBody([]byte{0x00, 0x00, 0x00, 0x05, 0xDE, 0xAD})
	require.NoError(t, err)
	assert.Equal(t, uint32(5), id)
	assert.Equal(t, []byte{0xDE, 0xAD}, body)
}

func TestEncodeTransitionIDRoundTrip(t *testing.T) {
	id, err := DecodeExecuteTransition(EncodeTransitionID(0xCAFE))
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), id)
}

func TestDecodeProposals(t *testing.T) {
	payload := []byte{
		0x00, 0x00, 0x03, 0xAA, 0xBB, 0xCC, // append, 3 bytes
		0x01, 0x00, 0x02, 0x01, 0x02, // revoke, 2 bytes
	}
	appendPkgs, revokeIDs, err := DecodeProposals(payload)
	require.NoError(t, err)
	require.Len(t, appendPkgs, 1)
	require.Len(t, revokeIDs, 1)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, appendPkgs[0])
	assert.Equal(t, []byte{0x01, 0x02}, revokeIDs[0])
}

func TestDecodeProposalsRejectsTruncatedRecord(t *testing.T) {
	_, _, err := DecodeProposals([]byte{0x00, 0x00, 0x05, 0xAA})
	require.Error(t, err)
}
