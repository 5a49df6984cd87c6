package signalling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachineHappyPathToReady(t *testing.T) {
	sm := NewStateMachine(SessionInfo{ServerID: "s", UserID: "u", SessionID: "sess", Token: "tok"})
	assert.Equal(t, Closed, sm.State())

	sm.BeginOpening()
	assert.Equal(t, Opening, sm.State())

	sm.OnReady(ReadyInfo{SSRC: 42, IP: "1.2.3.4", Port: 5000, Modes: []string{"aead_aes256_gcm_rtpsize"}})
	assert.Equal(t, Identified, sm.State())
	assert.Equal(t, uint32(42), sm.Ready().SSRC)

	sm.BeginUDPDiscovery()
	assert.Equal(t, AwaitingUDP, sm.State())

	sm.BeginSelectingProtocol()
	assert.Equal(t, SelectingProtocol, sm.State())

	sm.OnSessionDescription()
	assert.Equal(t, Ready, sm.State())
}

func TestCanResumeRejectsNonResumableCloseCodes(t *testing.T) {
	sm := NewStateMachine(SessionInfo{})
	sm.OnClosed(4004)
	assert.False(t, sm.CanResume())

	sm.OnClosed(1006)
	assert.True(t, sm.CanResume())
}

func TestBuildHeartbeatOmitsSeqAckBelowGatewayV8(t *testing.T) {
	sm := NewStateMachine(SessionInfo{GatewayVersion: 7})
	sm.RecordSeq(10)
	hb := sm.BuildHeartbeat(1000)
	assert.Nil(t, hb.SeqAck)
}

func TestBuildHeartbeatIncludesSeqAckAtGatewayV8(t *testing.T) {
	sm := NewStateMachine(SessionInfo{GatewayVersion: 8})
	sm.RecordSeq(10)
	hb := sm.BuildHeartbeat(1000)
	if assert.NotNil(t, hb.SeqAck) {
		assert.Equal(t, int64(10), *hb.SeqAck)
	}
}

func TestBuildResumeCarriesSeqAck(t *testing.T) {
	sm := NewStateMachine(SessionInfo{ServerID: "s", SessionID: "sess", Token: "tok"})
	sm.RecordSeq(7)
	resume := sm.BuildResume()
	assert.Equal(t, "s", resume.ServerID)
	if assert.NotNil(t, resume.SeqAck) {
		assert.Equal(t, int64(7), *resume.SeqAck)
	}
}
