package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voicecore/backend/internal/voicecore/opus"
	"voicecore/backend/internal/voicecore/rtp"
	"voicecore/backend/internal/voicecore/signalling"
	"voicecore/backend/pkg/config"
	voiceerrors "voicecore/backend/pkg/errors"
)

var upgrader = websocket.Upgrader{}

func newResumableSession(t *testing.T) *Session {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	info := signalling.SessionInfo{
		ServerID:       "guild-1",
		UserID:         "local-user",
		SessionID:      "sess-1",
		Token:          "tok",
		GatewayVersion: 8,
	}
	return New(cfg, zap.NewNop(), info, fakeEncoder{}, func() (opus.Decoder, error) {
		return fakeDecoder{}, nil
	})
}

// After a 1006 close with seq_ack=123, the client
// reconnects, transmits op=7 with the preserved identity and seq_ack,
// and is Ready again on op=9 without renegotiating keys.
func TestResumeHappyPath(t *testing.T) {
	gotResume := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{
			"op": 8, "d": map[string]any{"heartbeat_interval": 41250},
		}))

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env struct {
			Op int            `json:"op"`
			D  map[string]any `json:"d"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, 7, env.Op)
		gotResume <- env.D

		require.NoError(t, conn.WriteJSON(map[string]any{"op": 9, "d": map[string]any{}}))
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	s := newResumableSession(t)
	s.sigState.RecordSeq(123)
	s.sigState.OnClosed(1006)
	s.dial = func(ctx context.Context, _ string) (*signalling.Client, error) {
		return signalling.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Reconnect(ctx, VoiceServerUpdate{
		ServerID: "guild-1", SessionID: "sess-1", Token: "tok", Endpoint: "relay.example",
	}))

	d := <-gotResume
	assert.Equal(t, "guild-1", d["server_id"])
	assert.Equal(t, "sess-1", d["session_id"])
	assert.Equal(t, "tok", d["token"])
	assert.Equal(t, float64(123), d["seq_ack"])
	assert.Equal(t, signalling.Ready, s.State())
}

func TestReconnectRefusedAfterNonResumableClose(t *testing.T) {
	s := newResumableSession(t)
	s.sigState.OnClosed(4004)

	err := s.Reconnect(context.Background(), VoiceServerUpdate{Endpoint: "relay.example"})
	require.Error(t, err)
	var authErr *voiceerrors.ErrSignalAuthFailed
	assert.ErrorAs(t, err, &authErr)
}

func TestBackoffDelaySchedule(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDelay(0))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(1))
	assert.Equal(t, 1600*time.Millisecond, backoffDelay(2))
	assert.Equal(t, 30*time.Second, backoffDelay(10))
}

func TestRotateTransportKeyResetsCounters(t *testing.T) {
	s := newResumableSession(t)
	s.ssrc = 7
	s.outGen = 3
	s.outCounter = 99

	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, s.rotateTransportKey(signalling.SessionDescriptionPayload{
		Mode:      string(rtp.ModeAES256GCMRTPSize),
		SecretKey: key,
	}))

	assert.Equal(t, uint8(0), s.outGen)
	assert.Equal(t, uint32(0), s.outCounter)
	require.NotNil(t, s.outCodec)
	require.NotNil(t, s.cipher)
}
