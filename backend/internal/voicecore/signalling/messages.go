package signalling

import "encoding/json"

// Opcode identifies a control-protocol message.
type Opcode int

const (
	OpIdentify           Opcode = 0
	OpSelectProtocol     Opcode = 1
	OpReady              Opcode = 2
	OpHeartbeat          Opcode = 3
	OpSessionDescription Opcode = 4
	OpSpeaking           Opcode = 5
	OpHeartbeatAck       Opcode = 6
	OpResume             Opcode = 7
	OpHello              Opcode = 8
	OpResumed            Opcode = 9
	OpClientDisconnect   Opcode = 13
)

// DAVE binary control opcodes.
const (
	OpDAVEPrepareTransition           = 21
	OpDAVEExecuteTransition           = 22
	OpDAVETransitionReady             = 23
	OpDAVEPrepareEpoch                = 24
	OpDAVEMlsExternalSender           = 25
	OpDAVEMlsKeyPackage               = 26
	OpDAVEMlsProposals                = 27
	OpDAVEMlsCommitWelcome            = 28
	OpDAVEMlsAnnounceCommitTransition = 29
	OpDAVEMlsWelcome                  = 30
	OpDAVEMlsInvalidCommitWelcome     = 31
)

// NonResumableCloseCodes are close codes after which the client must
// not attempt Resume: auth failed, disconnected/kicked, unknown
// encryption.
var NonResumableCloseCodes = map[int]bool{
	4004: true,
	4014: true,
	4016: true,
}

// Speaking flag bits.
const (
	SpeakingMicrophone uint32 = 1 << 0
	SpeakingSoundshare uint32 = 1 << 1
	SpeakingPriority   uint32 = 1 << 2
)

// envelope is the outer JSON shape every text-frame message shares.
type envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// IdentifyPayload is sent C→S to open a session (op 0).
type IdentifyPayload struct {
	ServerID               string `json:"server_id"`
	UserID                 string `json:"user_id"`
	SessionID              string `json:"session_id"`
	Token                  string `json:"token"`
	MaxDAVEProtocolVersion *int   `json:"max_dave_protocol_version,omitempty"`
}

// SelectProtocolData is the nested `data` object of SelectProtocol (op 1).
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SelectProtocolPayload is sent C→S after IP discovery (op 1).
type SelectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// ReadyPayload is received S→C after Identify (op 2).
type ReadyPayload struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// HeartbeatPayload is sent C→S on the jittered heartbeat schedule (op 3).
type HeartbeatPayload struct {
	T      int64  `json:"t"`
	SeqAck *int64 `json:"seq_ack,omitempty"`
}

// SessionDescriptionPayload is received S→C with the transport key (op
// 4). secret_key is a JSON array of 32 byte values on the wire, which
// is why it's a fixed-size array rather than a []byte.
type SessionDescriptionPayload struct {
	Mode                string   `json:"mode"`
	SecretKey           [32]byte `json:"secret_key"`
	DAVEProtocolVersion *int     `json:"dave_protocol_version,omitempty"`
}

// SpeakingPayload is sent/received both directions (op 5).
type SpeakingPayload struct {
	Speaking uint32 `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// HeartbeatAckPayload is received S→C (op 6).
type HeartbeatAckPayload struct {
	T int64 `json:"t"`
}

// ResumePayload is sent C→S to resume a session (op 7).
type ResumePayload struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	SeqAck    *int64 `json:"seq_ack,omitempty"`
}

// HelloPayload is received S→C immediately on connect (op 8).
type HelloPayload struct {
	HeartbeatIntervalMS int `json:"heartbeat_interval"`
}

// ClientDisconnectPayload is received S→C when a peer leaves (op 13).
type ClientDisconnectPayload struct {
	UserID string `json:"user_id"`
}

// encode marshals a payload into its opcode envelope.
func encode(op Opcode, payload any) ([]byte, error) {
	d, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: op, D: d})
}

// decodeEnvelope splits a raw text frame into its opcode and payload bytes.
func decodeEnvelope(raw []byte) (Opcode, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, nil, err
	}
	return env.Op, env.D, nil
}
