package opus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePCMFrameRejectsWrongSize(t *testing.T) {
	err := ValidatePCMFrame(make([]int16, 10))
	require.Error(t, err)

	err = ValidatePCMFrame(make([]int16, PCMFrameLen))
	require.NoError(t, err)
}

// Silence terminator burst.
func TestSilenceBurstCountAndBytes(t *testing.T) {
	burst := SilenceBurst()
	require.Len(t, burst, SilenceFrameCount)
	for _, frame := range burst {
		assert.True(t, IsSilenceFrame(frame))
	}
}

func TestIsSilenceFrameRejectsOtherData(t *testing.T) {
	assert.False(t, IsSilenceFrame([]byte{0xF8, 0xFF, 0xFF}))
	assert.False(t, IsSilenceFrame([]byte{0xF8, 0xFF}))
}

type fakeEncoder struct{ err error }

func (f *fakeEncoder) Encode(pcm []int16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ValidatePCMFrame(pcm); err != nil {
		return nil, err
	}
	return []byte{1, 2, 3}, nil
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(opusData []byte) ([]int16, error) {
	return make([]int16, PCMFrameLen), nil
}
func (fakeDecoder) DecodeFEC(opusData []byte) ([]int16, error) {
	return make([]int16, PCMFrameLen), nil
}

func TestPipelineEncodeMarksTransmitting(t *testing.T) {
	p := NewPipeline(&fakeEncoder{}, func() (Decoder, error) { return fakeDecoder{}, nil })

	assert.False(t, p.IsTransmitting())
	_, err := p.EncodeFrame(make([]int16, PCMFrameLen))
	require.NoError(t, err)
	assert.True(t, p.IsTransmitting())

	burst := p.Stop()
	assert.Len(t, burst, SilenceFrameCount)
	assert.False(t, p.IsTransmitting())
}

func TestPipelineEncodeError(t *testing.T) {
	p := NewPipeline(&fakeEncoder{err: errors.New("boom")}, func() (Decoder, error) { return fakeDecoder{}, nil })
	_, err := p.EncodeFrame(make([]int16, PCMFrameLen))
	require.Error(t, err)
}

func TestPipelineDecoderPerSSRCIsLazyAndCached(t *testing.T) {
	calls := 0
	p := NewPipeline(&fakeEncoder{}, func() (Decoder, error) {
		calls++
		return fakeDecoder{}, nil
	})

	_, err := p.DecoderFor(1)
	require.NoError(t, err)
	_, err = p.DecoderFor(1)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = p.DecoderFor(2)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	p.DropDecoder(1)
	_, err = p.DecoderFor(1)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
