package signalling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatTicksWithinInterval(t *testing.T) {
	hb := NewHeartbeat(30*time.Millisecond, DefaultMaxMissedAcks)
	defer hb.Stop()

	select {
	case <-hb.C():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("heartbeat never ticked")
	}
}

func TestHeartbeatMissedAckTracking(t *testing.T) {
	hb := NewHeartbeat(time.Hour, DefaultMaxMissedAcks)
	defer hb.Stop()

	assert.False(t, hb.Expired())
	hb.Sent()
	assert.False(t, hb.Expired())
	hb.Sent()
	assert.True(t, hb.Expired())

	hb.Acked()
	assert.False(t, hb.Expired())
}
