package opus

import (
	gopus "gopkg.in/hraban/opus.v2"

	voiceerrors "voicecore/backend/pkg/errors"
)

// Application selects the libopus encoder tuning. Voice is tuned for
// speech; a music bot relay would instead want restricted lowdelay or
// audio, but this core only ever carries voice.
const defaultApplication = gopus.AppVoIP

// HrabanEncoder wraps gopkg.in/hraban/opus.v2's cgo libopus binding as
// the concrete Encoder used by default, matching the same dependency
// used by iamprashant-voice-ai and the desktop voice client example in
// the retrieval pack for this exact 48kHz/stereo/960-sample contract.
type HrabanEncoder struct {
	enc *gopus.Encoder
}

// NewHrabanEncoder builds an Encoder at the given bitrate (bits/sec,
// 500..512000, the range libopus accepts).
func NewHrabanEncoder(bitrate int) (*HrabanEncoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, defaultApplication)
	if err != nil {
		return nil, voiceerrors.NewCodecFailure("encoder init", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, voiceerrors.NewCodecFailure("encoder set bitrate", err)
		}
	}
	return &HrabanEncoder{enc: enc}, nil
}

// Encode implements Encoder.
func (e *HrabanEncoder) Encode(pcm []int16) ([]byte, error) {
	if err := ValidatePCMFrame(pcm); err != nil {
		return nil, err
	}
	// 4000 bytes comfortably covers a single 20ms Opus frame at any
	// bitrate the encoder might pick.
	out := make([]byte, 4000)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, voiceerrors.NewCodecFailure("encode", err)
	}
	return out[:n], nil
}

// HrabanDecoder wraps gopkg.in/hraban/opus.v2's decoder.
type HrabanDecoder struct {
	dec *gopus.Decoder
}

// NewHrabanDecoder builds a Decoder for one SSRC's stream.
func NewHrabanDecoder() (*HrabanDecoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, voiceerrors.NewCodecFailure("decoder init", err)
	}
	return &HrabanDecoder{dec: dec}, nil
}

// Decode implements Decoder. A nil opusData signals packet loss; the
// underlying decoder produces concealment audio for the missing frame.
func (d *HrabanDecoder) Decode(opusData []byte) ([]int16, error) {
	pcm := make([]int16, PCMFrameLen)
	n, err := d.dec.Decode(opusData, pcm)
	if err != nil {
		return nil, voiceerrors.NewCodecFailure("decode", err)
	}
	return pcm[:n*Channels], nil
}

// DecodeFEC implements Decoder, recovering the *previous* frame from
// FEC side-data embedded in the current packet.
func (d *HrabanDecoder) DecodeFEC(opusData []byte) ([]int16, error) {
	pcm := make([]int16, PCMFrameLen)
	if err := d.dec.DecodeFEC(opusData, pcm); err != nil {
		return nil, voiceerrors.NewCodecFailure("decode_fec", err)
	}
	return pcm, nil
}
