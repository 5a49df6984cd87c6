// Package opus implements the PCM<->Opus packetisation pipeline: frame
// validation, encode/decode against the fixed 48kHz/stereo/20ms
// contract, and the silence-frame bookkeeping used when audio
// transmission stops.
package opus

import voiceerrors "voicecore/backend/pkg/errors"

// SampleRate is the fixed voice sample rate.
const SampleRate = 48000

// Channels is the fixed channel count (stereo, interleaved).
const Channels = 2

// FrameSamples is the fixed samples-per-channel for one 20ms frame.
const FrameSamples = 960

// FrameDurationMS is the fixed Opus frame duration in milliseconds.
const FrameDurationMS = 20

// PCMFrameLen is the exact int16 sample count of one valid PCM input
// frame: FrameSamples * Channels interleaved samples.
const PCMFrameLen = FrameSamples * Channels

// SilenceFrame is the well-known 3-byte Opus silence frame. At least
// SilenceFrameCount of these are transmitted when audio stops, so the
// decoder's post-filter doesn't interpolate into a later resumption.
var SilenceFrame = [3]byte{0xF8, 0xFF, 0xFE}

// SilenceFrameCount is the minimum number of silence frames to flush
// on stop.
const SilenceFrameCount = 5

// Encoder encodes one stereo PCM frame to an Opus packet. Implementations
// must reject any PCM slice whose length isn't PCMFrameLen.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder decodes one Opus packet to PCM, or produces concealment audio
// when given nil (packet loss). DecodeFEC recovers the *previous* frame
// from FEC side-data carried in the current packet.
type Decoder interface {
	Decode(opusData []byte) ([]int16, error)
	DecodeFEC(opusData []byte) ([]int16, error)
}

// ValidatePCMFrame enforces the fixed frame-size contract at the
// transport boundary: alternative sizes are rejected, not resampled.
func ValidatePCMFrame(pcm []int16) error {
	if len(pcm) != PCMFrameLen {
		return voiceerrors.NewInvalidFrameSize(len(pcm), PCMFrameLen)
	}
	return nil
}

// IsSilenceFrame reports whether an Opus packet is exactly the 3-byte
// silence marker.
func IsSilenceFrame(opusData []byte) bool {
	return len(opusData) == len(SilenceFrame) &&
		opusData[0] == SilenceFrame[0] &&
		opusData[1] == SilenceFrame[1] &&
		opusData[2] == SilenceFrame[2]
}

// SilenceBurst returns SilenceFrameCount copies of the silence frame,
// ready to be sent in order before the socket goes idle.
func SilenceBurst() [][]byte {
	out := make([][]byte, SilenceFrameCount)
	for i := range out {
		b := make([]byte, len(SilenceFrame))
		copy(b, SilenceFrame[:])
		out[i] = b
	}
	return out
}
