package dave

import (
	"sync"
	"sync/atomic"
	"time"

	voiceerrors "voicecore/backend/pkg/errors"
)

// graceWindow bounds how long after a successful transition the
// decrypt-failure fallback to transport plaintext stays available.
const graceWindow = 4 * time.Second

// State is one of the three DAVE protocol states.
type State int

const (
	// Disabled means dave_version == 0: the frame codec is bypassed
	// on both egress and ingress.
	Disabled State = iota
	// Negotiating means a transition is pending: a KeyPackage,
	// proposal set, commit, or welcome is being exchanged.
	Negotiating
	// Active means E2EE is in effect at a known epoch.
	Active
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Negotiating:
		return "Negotiating"
	case Active:
		return "Active"
	default:
		return "Unknown"
	}
}

// PrepareTransition is the control message that opens a transition.
// protocol_version == 0 requests a downgrade to Disabled.
type PrepareTransition struct {
	TransitionID    uint32
	ProtocolVersion uint16
}

// PrepareEpoch names the epoch a pending transition will land on.
type PrepareEpoch struct {
	TransitionID    uint32
	EpochID         uint64
	ProtocolVersion uint16
}

// MlsProposals is a batch of append/revoke proposals to apply to the
// local MLS proposal buffer.
type MlsProposals struct {
	Append [][]byte
	Revoke [][]byte
}

// MlsWelcome processes a welcome for a pending transition id.
type MlsWelcome struct {
	TransitionID uint32
	Welcome      []byte
}

// AnnounceCommitTransition processes a commit for a pending transition id.
type AnnounceCommitTransition struct {
	TransitionID uint32
	Commit       []byte
}

// ExecuteTransition commits a previously prepared transition.
type ExecuteTransition struct {
	TransitionID uint32
}

// pendingTransition is the single in-flight transition tracked by the
// state machine; exactly one pending transition_id may be active at
// a time.
type pendingTransition struct {
	id              uint32
	protocolVersion uint16
	downgrade       bool
	epochID         uint64
	haveEpoch       bool
}

// Callbacks are the outbound effects the state machine produces;
// wiring them to the signalling socket is the caller's job.
type Callbacks struct {
	SendKeyPackage           func(pkg []byte) error
	SendTransitionReady      func(transitionID uint32) error
	SendInvalidCommitWelcome func() error
}

// StateMachine drives the DAVE protocol-version and epoch transitions
// on top of a GroupStore and the derived
// KeySchedule used by the frame codec's hot path.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	group     GroupStore
	callbacks Callbacks
	pending   *pendingTransition

	highestGeneration uint8
	lastTransitionAt  time.Time

	// schedule is read by the audio hot path via Schedule(); writes
	// happen only inside ExecuteTransition, under mu, via a single
	// atomic store so readers never block.
	schedule atomic.Pointer[KeySchedule]
}

// NewStateMachine returns a StateMachine in the Disabled state.
func NewStateMachine(group GroupStore, callbacks Callbacks) *StateMachine {
	return &StateMachine{state: Disabled, group: group, callbacks: callbacks}
}

// State returns the current DAVE state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Schedule returns the active KeySchedule, or nil while Disabled or
// Negotiating and no epoch has been reached yet. Safe to call from
// the audio hot path without taking sm.mu.
func (sm *StateMachine) Schedule() *KeySchedule {
	return sm.schedule.Load()
}

// HandlePrepareTransition opens (or supersedes) a pending transition.
func (sm *StateMachine) HandlePrepareTransition(msg PrepareTransition) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// A second PrepareTransition before the first executes supersedes
	// it: the earlier id is cancelled and its state discarded.
	sm.pending = &pendingTransition{
		id:              msg.TransitionID,
		protocolVersion: msg.ProtocolVersion,
		downgrade:       msg.ProtocolVersion == 0,
	}

	if msg.ProtocolVersion == 0 {
		// Downgrade path: wait for ExecuteTransition to actually drop
		// the group and keys.
		return nil
	}

	sm.state = Negotiating
	pkg, err := sm.group.GenerateKeyPackage()
	if err != nil {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "key package generation failed", err)
	}
	if sm.callbacks.SendKeyPackage != nil {
		return sm.callbacks.SendKeyPackage(pkg)
	}
	return nil
}

// HandlePrepareEpoch records the epoch the pending transition targets
// and, for epoch 1, creates the initial group from the external
// sender package.
func (sm *StateMachine) HandlePrepareEpoch(msg PrepareEpoch, externalSenderPkg []byte) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.pending == nil || sm.pending.id != msg.TransitionID {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "PrepareEpoch for unknown transition", nil)
	}
	sm.pending.epochID = msg.EpochID
	sm.pending.haveEpoch = true

	if msg.EpochID == 1 {
		return sm.group.ProcessExternalSender(externalSenderPkg)
	}
	return nil
}

// HandleMlsProposals applies a proposal batch to the local MLS state.
func (sm *StateMachine) HandleMlsProposals(msg MlsProposals) error {
	return sm.group.ProcessProposals(msg.Append, msg.Revoke)
}

// HandleMlsWelcome processes a welcome for the pending transition and
// emits TransitionReady. An unparseable welcome triggers
// InvalidCommitWelcome and leaves local state untouched.
func (sm *StateMachine) HandleMlsWelcome(msg MlsWelcome) error {
	sm.mu.Lock()
	pending := sm.pending
	sm.mu.Unlock()

	if pending == nil || pending.id != msg.TransitionID {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "MlsWelcome for unknown transition", nil)
	}

	if _, err := sm.group.ProcessWelcome(msg.Welcome); err != nil {
		if sm.callbacks.SendInvalidCommitWelcome != nil {
			_ = sm.callbacks.SendInvalidCommitWelcome()
		}
		return voiceerrors.ErrDAVEInvalidCommitWelcome
	}

	if sm.callbacks.SendTransitionReady != nil {
		return sm.callbacks.SendTransitionReady(msg.TransitionID)
	}
	return nil
}

// HandleAnnounceCommitTransition processes a commit for the pending
// transition and emits TransitionReady, with the same
// InvalidCommitWelcome fallback as HandleMlsWelcome.
func (sm *StateMachine) HandleAnnounceCommitTransition(msg AnnounceCommitTransition) error {
	sm.mu.Lock()
	pending := sm.pending
	sm.mu.Unlock()

	if pending == nil || pending.id != msg.TransitionID {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "AnnounceCommitTransition for unknown transition", nil)
	}

	if _, err := sm.group.ProcessCommit(msg.Commit); err != nil {
		if sm.callbacks.SendInvalidCommitWelcome != nil {
			_ = sm.callbacks.SendInvalidCommitWelcome()
		}
		return voiceerrors.ErrDAVEInvalidCommitWelcome
	}

	if sm.callbacks.SendTransitionReady != nil {
		return sm.callbacks.SendTransitionReady(msg.TransitionID)
	}
	return nil
}

// HandleExecuteTransition commits the pending transition: for a
// downgrade it drops the MLS group and transitions to Disabled; for
// an upgrade it atomically swaps the active KeySchedule, resets DAVE
// generation counters (implicit in building a fresh KeySchedule), and
// transitions to Active at the new epoch. An ExecuteTransition for an
// unknown id is ignored.
func (sm *StateMachine) HandleExecuteTransition(msg ExecuteTransition) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.pending == nil || sm.pending.id != msg.TransitionID {
		return nil
	}
	pending := sm.pending
	sm.pending = nil

	if pending.downgrade {
		sm.group.Reset()
		sm.schedule.Store(nil)
		sm.state = Disabled
		return nil
	}

	epoch := sm.group.Epoch()
	secret, err := sm.group.ExportSecret("dave-epoch-secret", 32)
	if err != nil {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeDAVE, "exporter secret derivation failed", err)
	}

	sm.schedule.Store(NewKeySchedule(epoch, secret))
	sm.state = Active
	sm.lastTransitionAt = time.Now()
	return nil
}

// ObserveGeneration records the highest frame generation successfully
// decoded so far, widening the window GraceEligible will accept.
func (sm *StateMachine) ObserveGeneration(gen uint8) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if gen > sm.highestGeneration {
		sm.highestGeneration = gen
	}
}

// GraceEligible reports whether a DAVE decrypt failure for frame
// generation gen may fall through to the transport-layer plaintext:
// only within one generation of the highest generation ever accepted,
// and only within graceWindow of the last successful transition, so
// the window closes once an epoch settles.
func (sm *StateMachine) GraceEligible(gen uint8) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.lastTransitionAt.IsZero() || time.Since(sm.lastTransitionAt) > graceWindow {
		return false
	}
	diff := int(sm.highestGeneration) - int(gen)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}
