package session

import (
	"encoding/json"
	"time"

	"voicecore/backend/internal/voicecore/opus"
)

// opusFrameDuration is the fixed Opus frame duration used to pace the
// UDP sender.
const opusFrameDuration = opus.FrameDurationMS * time.Millisecond

// opusFrameSamples is the RTP timestamp increment applied per frame,
// one sample per channel-tick at 48kHz.
const opusFrameSamples = opus.FrameSamples

// decodeJSONPayload unmarshals a signalling envelope's "d" field into
// out.
func decodeJSONPayload(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}

// msToDuration converts a millisecond count from the wire (e.g.
// Hello.heartbeat_interval) into a time.Duration.
func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
