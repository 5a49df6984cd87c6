package signalling

import (
	"encoding/binary"

	voiceerrors "voicecore/backend/pkg/errors"
)

// DAVEFrame is one decoded binary DAVE control frame: `[seq(be16,
// server→client only)] [opcode(u8)] [payload...]`.
type DAVEFrame struct {
	Seq     uint16 // only meaningful when HasSeq is true
	HasSeq  bool
	Opcode  uint8
	Payload []byte
}

// EncodeDAVEFrame builds an outbound (client→server) DAVE binary
// frame, which never carries the leading sequence field.
func EncodeDAVEFrame(opcode uint8, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = opcode
	copy(out[1:], payload)
	return out
}

// DecodeDAVEFrame decodes an inbound (server→client) DAVE binary
// frame, which is prefixed with a big-endian 16-bit sequence number.
func DecodeDAVEFrame(data []byte) (DAVEFrame, error) {
	if len(data) < 3 {
		return DAVEFrame{}, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "DAVE binary frame too short", nil)
	}
	seq := binary.BigEndian.Uint16(data[0:2])
	opcode := data[2]
	payload := data[3:]
	return DAVEFrame{Seq: seq, HasSeq: true, Opcode: opcode, Payload: payload}, nil
}

// Structured payload layouts for the short DAVE control opcodes:
// transition ids are big-endian uint32, epoch ids big-endian uint64,
// protocol versions big-endian uint16. The MLS message opcodes (25-30)
// carry an opaque MLS body, optionally behind a leading transition id.

// PrepareTransitionPayload is the body of opcode 21.
type PrepareTransitionPayload struct {
	TransitionID    uint32
	ProtocolVersion uint16
}

// DecodePrepareTransition parses a PrepareTransition payload.
func DecodePrepareTransition(p []byte) (PrepareTransitionPayload, error) {
	if len(p) < 6 {
		return PrepareTransitionPayload{}, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "PrepareTransition payload too short", nil)
	}
	return PrepareTransitionPayload{
		TransitionID:    binary.BigEndian.Uint32(p[0:4]),
		ProtocolVersion: binary.BigEndian.Uint16(p[4:6]),
	}, nil
}

// PrepareEpochPayload is the body of opcode 24.
type PrepareEpochPayload struct {
	TransitionID    uint32
	EpochID         uint64
	ProtocolVersion uint16
}

// DecodePrepareEpoch parses a PrepareEpoch payload.
func DecodePrepareEpoch(p []byte) (PrepareEpochPayload, error) {
	if len(p) < 14 {
		return PrepareEpochPayload{}, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "PrepareEpoch payload too short", nil)
	}
	return PrepareEpochPayload{
		TransitionID:    binary.BigEndian.Uint32(p[0:4]),
		EpochID:         binary.BigEndian.Uint64(p[4:12]),
		ProtocolVersion: binary.BigEndian.Uint16(p[12:14]),
	}, nil
}

// DecodeExecuteTransition parses an ExecuteTransition payload (opcode
// 22): a bare transition id.
func DecodeExecuteTransition(p []byte) (uint32, error) {
	if len(p) < 4 {
		return 0, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "ExecuteTransition payload too short", nil)
	}
	return binary.BigEndian.Uint32(p[0:4]), nil
}

// DecodeTransitionBody splits a transition id off the front of an MLS
// message payload (opcodes 29 AnnounceCommitTransition and 30 Welcome:
// transition id followed by the opaque commit/welcome bytes).
func DecodeTransitionBody(p []byte) (uint32, []byte, error) {
	if len(p) < 4 {
		return 0, nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "MLS transition payload too short", nil)
	}
	return binary.BigEndian.Uint32(p[0:4]), p[4:], nil
}

// EncodeTransitionID lays out a transition id for outbound control
// frames (TransitionReady and friends).
func EncodeTransitionID(transitionID uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, transitionID)
	return out
}

// Proposal record flags inside an MlsProposals payload (opcode 27):
// each record is [flag(u8)][len(be16)][body], appended back to back.
const (
	proposalFlagAppend = 0
	proposalFlagRevoke = 1
)

// DecodeProposals splits an MlsProposals payload into its append and
// revoke batches.
func DecodeProposals(p []byte) (appendPkgs, revokeIDs [][]byte, err error) {
	for len(p) > 0 {
		if len(p) < 3 {
			return nil, nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "truncated MLS proposal record", nil)
		}
		flag := p[0]
		bodyLen := int(binary.BigEndian.Uint16(p[1:3]))
		if len(p) < 3+bodyLen {
			return nil, nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "MLS proposal record overruns payload", nil)
		}
		body := p[3 : 3+bodyLen]
		switch flag {
		case proposalFlagAppend:
			appendPkgs = append(appendPkgs, body)
		case proposalFlagRevoke:
			revokeIDs = append(revokeIDs, body)
		default:
			return nil, nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "unknown MLS proposal flag", nil)
		}
		p = p[3+bodyLen:]
	}
	return appendPkgs, revokeIDs, nil
}
