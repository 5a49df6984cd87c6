package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voicecore/backend/internal/voicecore/dave"
	"voicecore/backend/internal/voicecore/opus"
	"voicecore/backend/internal/voicecore/signalling"
	"voicecore/backend/pkg/config"
)

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16) ([]byte, error) { return []byte{0x01, 0x02, 0x03}, nil }

type fakeDecoder struct{}

func (fakeDecoder) Decode(opusData []byte) ([]int16, error) {
	return make([]int16, opus.PCMFrameLen), nil
}
func (fakeDecoder) DecodeFEC(opusData []byte) ([]int16, error) {
	return make([]int16, opus.PCMFrameLen), nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	log := zap.NewNop()
	s := New(cfg, log, signalling.SessionInfo{UserID: "local-user"}, fakeEncoder{}, func() (opus.Decoder, error) {
		return fakeDecoder{}, nil
	})
	return s
}

func activeDAVE(t *testing.T, s *Session) {
	t.Helper()
	group := dave.NewInMemoryGroupStore()
	sm := dave.NewStateMachine(group, dave.Callbacks{})
	require.NoError(t, sm.HandlePrepareTransition(dave.PrepareTransition{TransitionID: 1, ProtocolVersion: 1}))
	require.NoError(t, sm.HandlePrepareEpoch(dave.PrepareEpoch{TransitionID: 1, EpochID: 1}, nil))
	require.NoError(t, sm.HandleAnnounceCommitTransition(dave.AnnounceCommitTransition{TransitionID: 1, Commit: []byte("commit")}))
	require.NoError(t, sm.HandleExecuteTransition(dave.ExecuteTransition{TransitionID: 1}))
	require.Equal(t, dave.Active, sm.State())

	s.dave = sm
	s.daveEnabled = true
}

func TestEncodeDecodeDAVERoundTrip(t *testing.T) {
	s := newTestSession(t)
	activeDAVE(t, s)
	s.ssrc = 42

	s.mu.Lock()
	encoded, err := s.encodeDAVE([]byte("opus-payload"))
	s.mu.Unlock()
	require.NoError(t, err)

	decoded, ok := s.decodeDAVE(s.ssrc, encoded)
	require.True(t, ok)
	assert.Equal(t, []byte("opus-payload"), decoded)
}

func TestEncodeDAVEAdvancesCounterAndWrapsGeneration(t *testing.T) {
	s := newTestSession(t)
	activeDAVE(t, s)

	s.outCounter = maxDAVECounter
	s.mu.Lock()
	_, err := s.encodeDAVE([]byte("x"))
	s.mu.Unlock()
	require.NoError(t, err)

	assert.Equal(t, uint8(1), s.outGen)
	assert.Equal(t, uint32(0), s.outCounter)
}

// The grace fallback applies only to an authentication failure on a
// well-formed frame: one encrypted under a key the schedule can't
// derive falls through to the transport plaintext inside the window.
func TestDecodeDAVEGraceFallbackOnAuthFailureWithinWindow(t *testing.T) {
	s := newTestSession(t)
	activeDAVE(t, s)

	wrongKey := bytes.Repeat([]byte{0x42}, 16)
	frame, err := dave.Encode([]byte("opus"), wrongKey, dave.NonceForGeneration(0, 1), nil)
	require.NoError(t, err)

	decoded, ok := s.decodeDAVE(7, frame)
	require.True(t, ok)
	assert.Equal(t, frame, decoded)
}

// A frame whose trailing marker is wrong is discarded unconditionally,
// with no frame-key lookup and no plaintext fallback, even right after
// a transition while the grace window is open.
func TestDecodeDAVERejectsWrongMagicMarkerEvenWithinGraceWindow(t *testing.T) {
	s := newTestSession(t)
	activeDAVE(t, s)

	frameKey, err := s.dave.Schedule().FrameKey("local-user", 7, 0)
	require.NoError(t, err)
	frame, err := dave.Encode([]byte("opus"), frameKey, dave.NonceForGeneration(0, 1), nil)
	require.NoError(t, err)
	frame[len(frame)-1] = 0xFB

	_, ok := s.decodeDAVE(7, frame)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.invalidDAVEFrames)
}

// A structurally broken frame with a valid marker is also dropped, not
// graced: the fallback never runs without a real parsed generation.
func TestDecodeDAVERejectsMalformedFrame(t *testing.T) {
	s := newTestSession(t)
	activeDAVE(t, s)

	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x00, 0xFA, 0xFA}
	_, ok := s.decodeDAVE(7, garbage)
	assert.False(t, ok)
}

func TestHandleCommandSetSSRCUserRecordsMapping(t *testing.T) {
	s := newTestSession(t)
	s.handleCommand(cmdSetSSRCUser{ssrc: 9, userID: "peer-1"})
	assert.Equal(t, "peer-1", s.ssrcUsers[9])
}

