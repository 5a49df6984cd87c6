package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"voicecore/backend/internal/voicecore/dave"
	"voicecore/backend/internal/voicecore/rtp"
	"voicecore/backend/internal/voicecore/signalling"
	"voicecore/backend/internal/voicecore/transport"
	voiceerrors "voicecore/backend/pkg/errors"
)

// maxDAVECounter is the per-generation frame counter ceiling: the low
// 24 bits of the DAVE nonce.
const maxDAVECounter = 0x00FFFFFF

// Run starts the session's cooperative task: one goroutine owning all
// mutable transport/codec/DAVE state, plus a second goroutine
// that only performs blocking UDP reads and forwards raw datagrams
// in, never touching session state itself. Run returns immediately;
// Close stops both goroutines and waits for them to exit.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.recvLoop()
	go s.runLoop()
	return nil
}

func (s *Session) recvLoop() {
	defer s.wg.Done()

	buf := make([]byte, transport.DefaultDatagramBufferSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = s.udp.SetReadDeadline(time.Now().Add(time.Second))
		n, err := s.udp.Recv(buf)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			continue
		}

		datagram := append(s.pool.Get(), buf[:n]...)

		select {
		case s.recvCh <- datagram:
		case <-s.ctx.Done():
			s.pool.Put(datagram)
			return
		default:
			s.pool.Put(datagram)
			s.logger.Debug("inbound packet channel full, dropping datagram")
		}
	}
}

func (s *Session) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.flushSilence()
			return

		case ev, ok := <-s.sig.Events():
			if !ok {
				return
			}
			s.handleSignallingEvent(ev)

		case <-s.heartbeat.C():
			s.sendHeartbeat()

		case datagram := <-s.recvCh:
			s.handleInboundDatagram(datagram)

		case cmd := <-s.cmdCh:
			s.handleCommand(cmd)
		}
	}
}

func (s *Session) handleCommand(cmd command) {
	// No Speaking and no audio until Session-Description has been
	// received.
	switch cmd.(type) {
	case cmdSendPCM, cmdSetSpeaking:
		if s.sigState.State() != signalling.Ready {
			s.logger.Debug("dropping audio command before session is ready")
			return
		}
	}

	switch c := cmd.(type) {
	case cmdSendPCM:
		s.sendPCM(c.pcm)
	case cmdSetSpeaking:
		s.speaking = c.flags != 0
		if err := s.sig.SendJSON(signalling.OpSpeaking, signalling.SpeakingPayload{
			Speaking: uint32(c.flags),
			SSRC:     s.ssrc,
		}); err != nil {
			s.logger.Warn("failed to send speaking update", zap.Error(err))
		}
	case cmdStop:
		s.flushSilence()
	case cmdSetSSRCUser:
		s.ssrcUsers[c.ssrc] = c.userID
	}
}

func (s *Session) sendPCM(pcm []int16) {
	opusFrame, err := s.opusPipeline.EncodeFrame(pcm)
	if err != nil {
		s.logger.Warn("opus encode failed, dropping frame", zap.Error(err))
		return
	}
	s.transmit(opusFrame)
}

// flushSilence emits the mandatory silence burst so the relay
// and any listeners observe a clean end of transmission instead of a
// stream that just stops.
func (s *Session) flushSilence() {
	for _, frame := range s.opusPipeline.Stop() {
		s.transmit(frame)
	}
}

func (s *Session) transmit(opusFrame []byte) {
	s.mu.Lock()
	payload := opusFrame
	if s.daveEnabled && s.dave != nil && s.dave.State() == dave.Active {
		encoded, err := s.encodeDAVE(opusFrame)
		if err != nil {
			s.mu.Unlock()
			s.logger.Warn("dave frame encode failed, dropping frame", zap.Error(err))
			return
		}
		payload = encoded
	}
	packet, err := s.outCodec.Assemble(payload)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, voiceerrors.ErrNonceExhausted) {
			s.logger.Error("transport nonce counter exhausted, session requires a fresh key", zap.Uint32("ssrc", s.ssrc))
			s.cancel()
			return
		}
		s.logger.Warn("rtp assemble failed, dropping frame", zap.Error(err))
		return
	}

	if err := s.udp.Send(packet); err != nil {
		s.logger.Warn("udp send failed", zap.Error(err))
	}
}

// encodeDAVE wraps an Opus frame in the DAVE frame codec using the
// session's own outbound generation/counter pair. Caller holds s.mu.
func (s *Session) encodeDAVE(opusFrame []byte) ([]byte, error) {
	frameKey, err := s.dave.Schedule().FrameKey(s.sigState.Info().UserID, s.ssrc, s.outGen)
	if err != nil {
		return nil, err
	}
	nonceValue := dave.NonceForGeneration(s.outGen, s.outCounter)
	encoded, err := dave.Encode(opusFrame, frameKey, nonceValue, dave.EmptyRanges)
	if err != nil {
		return nil, err
	}
	s.outCounter++
	if s.outCounter > maxDAVECounter {
		s.outCounter = 0
		s.outGen++
	}
	return encoded, nil
}

func (s *Session) handleInboundDatagram(datagram []byte) {
	defer s.pool.Put(datagram)

	s.mu.Lock()
	cipher := s.cipher
	s.mu.Unlock()
	if cipher == nil {
		return
	}

	parsed, err := rtp.Parse(cipher, datagram)
	if err != nil {
		var decryptErr *voiceerrors.ErrDecryptFailed
		if errors.As(err, &decryptErr) {
			if guardErr := s.guardFor(decryptErr.SSRC).recordFailure(decryptErr.SSRC); guardErr != nil {
				s.logger.Error("cipher reset required after repeated decrypt failures", zap.Uint32("ssrc", decryptErr.SSRC))
				s.cancel()
			}
		}
		return
	}
	s.guardFor(parsed.SSRC).recordSuccess()

	opusFrame := parsed.Plaintext
	if s.daveEnabled && s.dave != nil {
		decoded, ok := s.decodeDAVE(parsed.SSRC, parsed.Plaintext)
		if !ok {
			s.logger.Debug("dave frame decode failed, dropping packet", zap.Uint32("ssrc", parsed.SSRC))
			return
		}
		opusFrame = decoded
	}

	pcm, err := s.decodeOpus(parsed.SSRC, opusFrame)
	if err != nil {
		s.logger.Debug("opus decode failed, dropping packet", zap.Uint32("ssrc", parsed.SSRC), zap.Error(err))
		return
	}

	if s.OnAudio != nil {
		s.OnAudio(parsed.SSRC, pcm)
	}
}

// decodeDAVE unwraps a DAVE frame's ciphertext to Opus bytes. On
// authentication failure it applies the narrowed grace fallback: if
// the frame's generation is within the state machine's acceptance
// window, the transport-layer plaintext is used as-is instead of the
// frame being dropped outright.
func (s *Session) decodeDAVE(ssrc uint32, transportPlaintext []byte) ([]byte, bool) {
	parsed, err := dave.Parse(transportPlaintext)
	if err != nil {
		// A malformed frame is discarded outright, before any frame-key
		// lookup; the grace fallback is reserved for authentication
		// failures on a syntactically valid frame, where a real
		// generation is known. A transport-key holder must not be able
		// to reach the plaintext path by corrupting the marker.
		s.invalidDAVEFrames++
		if errors.Is(err, voiceerrors.ErrDAVEWrongMagicMarker) {
			s.logger.Debug("dave frame rejected: bad magic marker",
				zap.Uint32("ssrc", ssrc),
				zap.Uint64("invalid_frames", s.invalidDAVEFrames),
			)
		}
		return nil, false
	}

	schedule := s.dave.Schedule()
	if schedule == nil {
		// No epoch reached yet: the sender may already be encrypting
		// while our transition is still pending.
		if s.dave.GraceEligible(parsed.Generation) {
			return transportPlaintext, true
		}
		return nil, false
	}

	userID := s.ssrcUsers[ssrc]
	if userID == "" {
		userID = s.sigState.Info().UserID
	}
	frameKey, err := schedule.FrameKey(userID, ssrc, parsed.Generation)
	if err != nil {
		return nil, false
	}

	opusFrame, err := parsed.Decrypt(frameKey)
	if err != nil {
		if s.dave.GraceEligible(parsed.Generation) {
			return transportPlaintext, true
		}
		return nil, false
	}

	s.dave.ObserveGeneration(parsed.Generation)
	return opusFrame, true
}

// rotateTransportKey installs a fresh transport cipher and codec from a
// SessionDescription. The nonce counter restarts at zero under the new
// key, and outbound DAVE counters restart with it.
func (s *Session) rotateTransportKey(desc signalling.SessionDescriptionPayload) error {
	cipher, err := rtp.NewCipher(rtp.Mode(desc.Mode), desc.SecretKey[:])
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cipher = cipher
	s.outCodec = rtp.NewCodec(cipher, &rtp.NonceCounter{}, s.ssrc, opusFrameSamples)
	s.outGen = 0
	s.outCounter = 0
	s.mu.Unlock()
	return nil
}

func (s *Session) decodeOpus(ssrc uint32, opusFrame []byte) ([]int16, error) {
	decoder, err := s.opusPipeline.DecoderFor(ssrc)
	if err != nil {
		return nil, err
	}
	return decoder.Decode(opusFrame)
}

func (s *Session) sendHeartbeat() {
	if s.heartbeat.Expired() {
		s.logger.Warn("heartbeat ack missed, closing session for resume")
		s.cancel()
		return
	}
	s.heartbeat.Rearm()
	if err := s.sig.SendJSON(signalling.OpHeartbeat, s.sigState.BuildHeartbeat(time.Now().UnixMilli())); err != nil {
		s.logger.Warn("failed to send heartbeat", zap.Error(err))
		return
	}
	s.heartbeat.Sent()
}

func (s *Session) handleSignallingEvent(ev signalling.Event) {
	if ev.Err != nil {
		s.logger.Debug("signalling event carried an error", zap.Error(ev.Err))
		return
	}

	switch ev.Kind {
	case signalling.EventClosed:
		s.sigState.OnClosed(ev.CloseCode)
		s.cancel()

	case signalling.EventText:
		s.handleTextEvent(ev)

	case signalling.EventBinary:
		s.handleDAVEFrame(ev.Frame)
	}
}

func (s *Session) handleTextEvent(ev signalling.Event) {
	switch ev.Op {
	case signalling.OpHeartbeatAck:
		s.heartbeat.Acked()
		var ack signalling.HeartbeatAckPayload
		if err := decodeJSONPayload(ev.Payload, &ack); err == nil {
			s.sigState.RecordSeq(ack.T)
		}
	case signalling.OpSessionDescription:
		// A mid-session SessionDescription rekeys the transport: fresh
		// cipher, counter back to zero.
		var desc signalling.SessionDescriptionPayload
		if err := decodeJSONPayload(ev.Payload, &desc); err != nil {
			s.logger.Warn("malformed mid-session session description", zap.Error(err))
			return
		}
		if err := s.rotateTransportKey(desc); err != nil {
			s.logger.Error("transport key rotation failed", zap.Error(err))
		}
	case signalling.OpClientDisconnect:
		var disconnect signalling.ClientDisconnectPayload
		if err := decodeJSONPayload(ev.Payload, &disconnect); err == nil {
			for ssrc, userID := range s.ssrcUsers {
				if userID == disconnect.UserID {
					s.opusPipeline.DropDecoder(ssrc)
					delete(s.ssrcUsers, ssrc)
					break
				}
			}
		}
	}
}

func (s *Session) handleDAVEFrame(frame signalling.DAVEFrame) {
	if s.dave == nil {
		return
	}

	var err error
	switch frame.Opcode {
	case signalling.OpDAVEMlsExternalSender:
		s.lastExternalSender = frame.Payload
	case signalling.OpDAVEPrepareTransition:
		var p signalling.PrepareTransitionPayload
		if p, err = signalling.DecodePrepareTransition(frame.Payload); err == nil {
			err = s.dave.HandlePrepareTransition(dave.PrepareTransition{
				TransitionID:    p.TransitionID,
				ProtocolVersion: p.ProtocolVersion,
			})
		}
	case signalling.OpDAVEPrepareEpoch:
		var p signalling.PrepareEpochPayload
		if p, err = signalling.DecodePrepareEpoch(frame.Payload); err == nil {
			err = s.dave.HandlePrepareEpoch(dave.PrepareEpoch{
				TransitionID:    p.TransitionID,
				EpochID:         p.EpochID,
				ProtocolVersion: p.ProtocolVersion,
			}, s.lastExternalSender)
		}
	case signalling.OpDAVEMlsProposals:
		var appendPkgs, revokeIDs [][]byte
		if appendPkgs, revokeIDs, err = signalling.DecodeProposals(frame.Payload); err == nil {
			err = s.dave.HandleMlsProposals(dave.MlsProposals{Append: appendPkgs, Revoke: revokeIDs})
		}
	case signalling.OpDAVEMlsWelcome:
		var (
			id   uint32
			body []byte
		)
		if id, body, err = signalling.DecodeTransitionBody(frame.Payload); err == nil {
			err = s.dave.HandleMlsWelcome(dave.MlsWelcome{TransitionID: id, Welcome: body})
		}
	case signalling.OpDAVEMlsAnnounceCommitTransition:
		var (
			id   uint32
			body []byte
		)
		if id, body, err = signalling.DecodeTransitionBody(frame.Payload); err == nil {
			err = s.dave.HandleAnnounceCommitTransition(dave.AnnounceCommitTransition{TransitionID: id, Commit: body})
		}
	case signalling.OpDAVEExecuteTransition:
		var id uint32
		if id, err = signalling.DecodeExecuteTransition(frame.Payload); err == nil {
			if err = s.dave.HandleExecuteTransition(dave.ExecuteTransition{TransitionID: id}); err == nil {
				// The executed transition invalidated every frame key of
				// the previous epoch; outbound DAVE counters restart at
				// generation 0 alongside them.
				s.mu.Lock()
				s.outGen = 0
				s.outCounter = 0
				s.mu.Unlock()
			}
		}
	default:
		return
	}
	if err != nil {
		s.logger.Warn("dave control frame handling failed", zap.Uint8("opcode", frame.Opcode), zap.Error(err))
	}
}
