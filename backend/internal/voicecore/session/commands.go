package session

// command is anything the session's run loop accepts from outside
// callers on cmdCh. Only the run loop goroutine may read from cmdCh,
// keeping every state mutation on the single cooperative task.
type command interface{ isCommand() }

// cmdSendPCM asks the loop to Opus-encode and transmit one 20ms frame.
type cmdSendPCM struct{ pcm []int16 }

func (cmdSendPCM) isCommand() {}

// cmdSetSpeaking asks the loop to update and broadcast the speaking
// flags.
type cmdSetSpeaking struct{ flags uint8 }

func (cmdSetSpeaking) isCommand() {}

// cmdStop asks the loop to flush the silence burst and stop sending,
// without tearing down the socket (distinct from Close, which also
// cancels the session's context).
type cmdStop struct{}

func (cmdStop) isCommand() {}

// cmdSetSSRCUser records which user_id a remote SSRC belongs to.
type cmdSetSSRCUser struct {
	ssrc   uint32
	userID string
}

func (cmdSetSSRCUser) isCommand() {}

// SendPCM enqueues one 20ms PCM frame (960 samples/channel, stereo,
// interleaved) for transmission. It blocks only long enough to hand
// the frame to the run loop's command channel.
func (s *Session) SendPCM(pcm []int16) error {
	select {
	case s.cmdCh <- cmdSendPCM{pcm: pcm}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// SetSpeaking updates the local speaking flags and asks the loop to
// broadcast the change over the control socket.
func (s *Session) SetSpeaking(flags uint8) error {
	select {
	case s.cmdCh <- cmdSetSpeaking{flags: flags}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Stop flushes the silence burst and marks transmission idle, without
// closing the session.
func (s *Session) Stop() error {
	select {
	case s.cmdCh <- cmdStop{}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
