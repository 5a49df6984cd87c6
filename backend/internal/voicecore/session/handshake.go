package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"voicecore/backend/internal/voicecore/dave"
	"voicecore/backend/internal/voicecore/rtp"
	"voicecore/backend/internal/voicecore/signalling"
	"voicecore/backend/internal/voicecore/transport"
	voiceerrors "voicecore/backend/pkg/errors"
)

// defaultHeartbeatIntervalFallback is the heartbeat interval kept when
// the relay's Hello carries no positive heartbeat_interval.
const defaultHeartbeatIntervalFallback = 20 * time.Second

// Connect performs the full bring-up sequence: dial the
// control socket, Identify, wait for Ready, run IP discovery over a
// UDP socket to the relay, SelectProtocol, and wait for
// SessionDescription. On return the session is in the Ready state
// with a live transport cipher and codec, but Run has not been
// started yet.
func (s *Session) Connect(ctx context.Context, update VoiceServerUpdate) error {
	s.sigState.BeginOpening()

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	sig, err := s.dial(connectCtx, gatewayURL(update.Endpoint))
	if err != nil {
		return err
	}
	s.sig = sig

	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancelHandshake()

	if err := s.awaitHello(handshakeCtx); err != nil {
		return err
	}
	if err := s.identify(); err != nil {
		return err
	}
	readyInfo, err := s.awaitReady(handshakeCtx)
	if err != nil {
		return err
	}
	s.ssrc = readyInfo.SSRC

	s.sigState.BeginUDPDiscovery()
	udpConn, err := transport.Dial(handshakeCtx, fmt.Sprintf("%s:%d", readyInfo.IP, readyInfo.Port))
	if err != nil {
		return err
	}
	s.udp = transport.NewConn(udpConn, opusFrameDuration)

	discoveryCtx, cancelDiscovery := context.WithTimeout(handshakeCtx, s.cfg.IPDiscoveryTimeout*3)
	defer cancelDiscovery()
	external, err := transport.DiscoverWithRetries(discoveryCtx, udpConn, s.ssrc, s.cfg.IPDiscoveryRetries, s.cfg.IPDiscoveryTimeout)
	if err != nil {
		return err
	}

	mode, ok := rtp.SelectMode(readyInfo.Modes)
	if !ok {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "relay offered no supported AEAD mode", nil)
	}

	s.sigState.BeginSelectingProtocol()
	if err := s.sig.SendJSON(signalling.OpSelectProtocol, signalling.SelectProtocolPayload{
		Protocol: "udp",
		Data: signalling.SelectProtocolData{
			Address: external.IP,
			Port:    external.Port,
			Mode:    string(mode),
		},
	}); err != nil {
		return err
	}

	desc, err := s.awaitSessionDescription(handshakeCtx)
	if err != nil {
		return err
	}

	cipher, err := rtp.NewCipher(mode, desc.SecretKey[:])
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cipher = cipher
	s.outCodec = rtp.NewCodec(cipher, &rtp.NonceCounter{}, s.ssrc, opusFrameSamples)
	s.mu.Unlock()

	if desc.DAVEProtocolVersion != nil && *desc.DAVEProtocolVersion > 0 {
		s.daveEnabled = true
		s.dave = dave.NewStateMachine(dave.NewInMemoryGroupStore(), dave.Callbacks{
			SendKeyPackage: func(pkg []byte) error {
				return s.sig.SendDAVEFrame(signalling.OpDAVEMlsKeyPackage, pkg)
			},
			SendTransitionReady: func(transitionID uint32) error {
				return s.sig.SendDAVEFrame(signalling.OpDAVETransitionReady, signalling.EncodeTransitionID(transitionID))
			},
			SendInvalidCommitWelcome: func() error {
				return s.sig.SendDAVEFrame(signalling.OpDAVEMlsInvalidCommitWelcome, nil)
			},
		})
	}

	s.sigState.OnSessionDescription()
	s.heartbeat = signalling.NewHeartbeat(s.heartbeatInterval, s.cfg.HeartbeatMissedMax)

	s.logger.Info("voice session ready",
		zap.Uint32("ssrc", s.ssrc),
		zap.String("mode", string(mode)),
		zap.Bool("dave_enabled", s.daveEnabled),
	)
	return nil
}

func (s *Session) identify() error {
	return s.sig.SendJSON(signalling.OpIdentify, s.sigState.BuildIdentify())
}

// gatewayURL builds the control WebSocket URL for a relay endpoint.
func gatewayURL(endpoint string) string {
	return (&url.URL{Scheme: "wss", Host: endpoint, Path: "/"}).String()
}

// backoffDelay is the reconnect schedule: 100ms, 400ms, 1.6s,
// quadrupling up to a 30s cap.
func backoffDelay(attempt int) time.Duration {
	d := 100 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 4
		if d >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

// Reconnect re-establishes the control socket after a transient close.
// While the last close code permits it, the session Resumes: it
// re-dials and replays its identity with the preserved seq_ack, and on
// Resumed picks up the existing transport key, UDP socket, and DAVE
// state without renegotiation. A resume the server rejects falls back
// to a full Connect; a non-resumable close code is surfaced to the
// caller with no retry.
func (s *Session) Reconnect(ctx context.Context, update VoiceServerUpdate) error {
	if !s.sigState.CanResume() {
		return voiceerrors.NewSignalAuthFailed(s.sigState.LastCloseCode())
	}

	for attempt := 0; ; attempt++ {
		err := s.resume(ctx, update)
		if err == nil {
			return nil
		}
		if errors.Is(err, voiceerrors.ErrSignalResumeFailed) {
			s.logger.Info("resume rejected, re-identifying")
			return s.Connect(ctx, update)
		}
		var authErr *voiceerrors.ErrSignalAuthFailed
		if errors.As(err, &authErr) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		delay := backoffDelay(attempt)
		s.logger.Warn("reconnect attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return voiceerrors.NewContextCancelled("reconnect", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// resume performs one Resume handshake: dial, Hello, Resume, Resumed.
func (s *Session) resume(ctx context.Context, update VoiceServerUpdate) error {
	s.sigState.BeginOpening()

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	sig, err := s.dial(connectCtx, gatewayURL(update.Endpoint))
	if err != nil {
		return err
	}
	if s.sig != nil {
		_ = s.sig.Close()
	}
	s.sig = sig

	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancelHandshake()

	if err := s.awaitHello(handshakeCtx); err != nil {
		return err
	}
	if err := s.sig.SendJSON(signalling.OpResume, s.sigState.BuildResume()); err != nil {
		return err
	}
	if err := s.awaitResumed(handshakeCtx); err != nil {
		return err
	}

	s.sigState.OnSessionDescription()
	s.heartbeat = signalling.NewHeartbeat(s.heartbeatInterval, s.cfg.HeartbeatMissedMax)
	s.logger.Info("voice session resumed", zap.Uint32("ssrc", s.ssrc))
	return nil
}

func (s *Session) awaitResumed(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return voiceerrors.NewContextTimeout("await resumed", s.cfg.HandshakeTimeout)
		case ev, ok := <-s.sig.Events():
			if !ok {
				return voiceerrors.ErrSignalResumeFailed
			}
			if ev.Kind == signalling.EventClosed {
				s.sigState.OnClosed(ev.CloseCode)
				if !s.sigState.CanResume() {
					return voiceerrors.NewSignalAuthFailed(ev.CloseCode)
				}
				return voiceerrors.ErrSignalResumeFailed
			}
			if ev.Kind == signalling.EventText && ev.Op == signalling.OpResumed {
				return nil
			}
		}
	}
}

func (s *Session) awaitHello(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return voiceerrors.NewContextTimeout("await hello", s.cfg.HandshakeTimeout)
		case ev, ok := <-s.sig.Events():
			if !ok {
				return voiceerrors.ErrSignalResumeFailed
			}
			if ev.Err != nil {
				continue
			}
			if ev.Kind == signalling.EventText && ev.Op == signalling.OpHello {
				var hello signalling.HelloPayload
				if err := decodeJSONPayload(ev.Payload, &hello); err != nil {
					return err
				}
				if hello.HeartbeatIntervalMS > 0 {
					s.heartbeatInterval = msToDuration(hello.HeartbeatIntervalMS)
				}
				return nil
			}
		}
	}
}

func (s *Session) awaitReady(ctx context.Context) (signalling.ReadyInfo, error) {
	for {
		select {
		case <-ctx.Done():
			return signalling.ReadyInfo{}, voiceerrors.NewContextTimeout("await ready", s.cfg.HandshakeTimeout)
		case ev, ok := <-s.sig.Events():
			if !ok {
				return signalling.ReadyInfo{}, voiceerrors.ErrSignalResumeFailed
			}
			if ev.Kind == signalling.EventText && ev.Op == signalling.OpReady {
				var ready signalling.ReadyPayload
				if err := decodeJSONPayload(ev.Payload, &ready); err != nil {
					return signalling.ReadyInfo{}, err
				}
				info := signalling.ReadyInfo{SSRC: ready.SSRC, IP: ready.IP, Port: ready.Port, Modes: ready.Modes}
				s.sigState.OnReady(info)
				return info, nil
			}
		}
	}
}

func (s *Session) awaitSessionDescription(ctx context.Context) (signalling.SessionDescriptionPayload, error) {
	for {
		select {
		case <-ctx.Done():
			return signalling.SessionDescriptionPayload{}, voiceerrors.NewContextTimeout("await session description", s.cfg.HandshakeTimeout)
		case ev, ok := <-s.sig.Events():
			if !ok {
				return signalling.SessionDescriptionPayload{}, voiceerrors.ErrSignalResumeFailed
			}
			if ev.Kind == signalling.EventText && ev.Op == signalling.OpSessionDescription {
				var desc signalling.SessionDescriptionPayload
				if err := decodeJSONPayload(ev.Payload, &desc); err != nil {
					return signalling.SessionDescriptionPayload{}, err
				}
				return desc, nil
			}
		}
	}
}
