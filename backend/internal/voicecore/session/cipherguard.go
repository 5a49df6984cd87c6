package session

import voiceerrors "voicecore/backend/pkg/errors"

// maxConsecutiveFailures is the number of back-to-back decrypt
// failures on one SSRC that marks the stream unrecoverable.
const maxConsecutiveFailures = 3

// cipherGuard counts consecutive AEAD-open failures for one SSRC and
// reports when the session must treat the stream as unrecoverable and
// force a cipher reset, rather than silently dropping packets forever.
type cipherGuard struct {
	consecutive int
}

// recordFailure counts one decrypt failure and returns
// ErrCipherResetRequired once the consecutive-failure threshold is
// hit. A single successful decrypt (recordSuccess) clears the streak,
// so scattered packet loss over a long session does not trip it. Any
// run of three consecutive failures does trip it, whether it falls at
// the head of the stream or later; the streak is not tied to a key
// change and is not cleared when the transport key rotates.
func (g *cipherGuard) recordFailure(ssrc uint32) error {
	g.consecutive++
	if g.consecutive >= maxConsecutiveFailures {
		g.consecutive = 0
		return voiceerrors.NewCipherResetRequired(ssrc)
	}
	return nil
}

// recordSuccess clears the consecutive-failure streak.
func (g *cipherGuard) recordSuccess() {
	g.consecutive = 0
}
