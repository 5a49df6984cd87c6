// Package session wires the signalling, transport, Opus, and DAVE
// components into a single cooperative session task: one logical task
// owns the control socket, the UDP socket, the transport cipher, the
// Opus codec, and the optional DAVE state, serialising all mutation
// through one goroutine's select loop.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicecore/backend/internal/voicecore/dave"
	"voicecore/backend/internal/voicecore/frame"
	"voicecore/backend/internal/voicecore/opus"
	"voicecore/backend/internal/voicecore/rtp"
	"voicecore/backend/internal/voicecore/signalling"
	"voicecore/backend/internal/voicecore/transport"
	"voicecore/backend/pkg/config"
	voicelog "voicecore/backend/pkg/logger"
)

// VoiceServerUpdate is the consumed external interface from the main
// gateway.
type VoiceServerUpdate struct {
	ServerID  string
	SessionID string
	Token     string
	Endpoint  string
}

// Session owns one connection to a voice relay end-to-end.
type Session struct {
	// id correlates log lines across reconnects of the same Session;
	// it is local-only and never goes on the wire.
	id     string
	cfg    *config.Config
	logger *zap.Logger

	sig               *signalling.Client
	sigState          *signalling.StateMachine
	heartbeat         *signalling.Heartbeat
	heartbeatInterval time.Duration
	dial              func(ctx context.Context, url string) (*signalling.Client, error)

	udp  *transport.Conn
	pool *frame.Pool

	mu       sync.Mutex
	cipher   *rtp.Cipher
	outCodec *rtp.Codec
	ssrc     uint32

	opusPipeline *opus.Pipeline
	newDecoder   func() (opus.Decoder, error)

	dave               *dave.StateMachine
	daveEnabled        bool
	inGuards           map[uint32]*cipherGuard
	outGen             uint8
	outCounter         uint32
	ssrcUsers          map[uint32]string
	lastExternalSender []byte
	invalidDAVEFrames  uint64

	// OnAudio, if set, receives decoded PCM for every inbound voice
	// packet once DAVE (when enabled) and Opus decoding succeed.
	// Assigned before Run; never mutated afterwards.
	OnAudio func(ssrc uint32, pcm []int16)

	cmdCh  chan command
	recvCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	speaking bool
}

// New builds a Session in the Closed state. encoder is the outbound
// Opus encoder and newDecoder builds one decoder per SSRC; passing the hraban
// libopus bindings in production and test doubles in unit tests keeps
// this package free of a cgo dependency in its own tests.
func New(cfg *config.Config, logger *zap.Logger, info signalling.SessionInfo, encoder opus.Encoder, newDecoder func() (opus.Decoder, error)) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		logger: voicelog.WithConn(logger, id),
		dial: func(ctx context.Context, url string) (*signalling.Client, error) {
			return signalling.Dial(ctx, url, nil)
		},
		sigState:          signalling.NewStateMachine(info),
		heartbeatInterval: defaultHeartbeatIntervalFallback,
		pool:              frame.New(cfg.BufferPoolSize, frame.DefaultSize),
		opusPipeline:      opus.NewPipeline(encoder, newDecoder),
		newDecoder:        newDecoder,
		inGuards:          make(map[uint32]*cipherGuard),
		ssrcUsers:         make(map[uint32]string),
		cmdCh:             make(chan command, 32),
		recvCh:            make(chan []byte, 64),
	}
}

// SetSSRCUser records the user_id a remote SSRC belongs to, learned by
// the embedding application from the main gateway's voice-state
// events, so inbound DAVE frame keys can be looked up by
// (user_id, ssrc, generation). Delivered through cmdCh so the
// mapping is only ever mutated on the session's own task.
func (s *Session) SetSSRCUser(ssrc uint32, userID string) error {
	select {
	case s.cmdCh <- cmdSetSSRCUser{ssrc: ssrc, userID: userID}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// ID returns the session's local correlation id, present on every log
// line the session emits.
func (s *Session) ID() string {
	return s.id
}

// State returns the signalling state machine's current state.
func (s *Session) State() signalling.State {
	return s.sigState.State()
}

// Close cancels the session task and releases its sockets. Safe to
// call even if Connect was never called.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.sig != nil {
		_ = s.sig.Close()
	}
	if s.udp != nil {
		_ = s.udp.Close()
	}
	return nil
}

func (s *Session) guardFor(ssrc uint32) *cipherGuard {
	g, ok := s.inGuards[ssrc]
	if !ok {
		g = &cipherGuard{}
		s.inGuards[ssrc] = g
	}
	return g
}
