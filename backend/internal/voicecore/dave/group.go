package dave

// GroupStore is the MLS group adapter boundary. It wraps whatever concrete MLS library is
// linked in; this package only ever talks to it through this
// interface, so the state machine and key schedule stay library-
// agnostic.
//
// Every method here is pure with respect to the audio pipeline: they
// mutate only MLS state and report an updated epoch/exporter secret
// through the return value, never by reaching into the session.
type GroupStore interface {
	// ProcessExternalSender registers the server's external sender
	// package, required before the initial epoch can be created.
	ProcessExternalSender(pkg []byte) error

	// GenerateKeyPackage produces this member's MLS KeyPackage to send
	// to the server as part of a PrepareTransition response.
	GenerateKeyPackage() ([]byte, error)

	// ProcessProposals applies a batch of append/revoke proposals to
	// the local proposal buffer.
	ProcessProposals(appendPkgs, revokeIDs [][]byte) error

	// ProcessCommit applies an MLS commit, advancing the group to a
	// new epoch. Returns the new epoch number.
	ProcessCommit(commit []byte) (newEpoch uint64, err error)

	// ProcessWelcome processes an MLS Welcome message for a client
	// newly joining (or rejoining) the group. Returns the joined
	// epoch.
	ProcessWelcome(welcome []byte) (joinedEpoch uint64, err error)

	// ExportSecret derives a labelled secret of the given length from
	// the current epoch's exporter secret (the MLS exporter
	// function).
	ExportSecret(label string, length int) ([]byte, error)

	// Epoch returns the group's current epoch.
	Epoch() uint64

	// Reset discards all MLS state, used on downgrade to Disabled.
	Reset()
}

// memberState is the minimal bookkeeping a fake/in-memory GroupStore
// needs to behave like a real MLS adapter for tests: an epoch counter
// and a roster, with no actual cryptographic group operations.
type memberState struct {
	epoch  uint64
	roster map[string]struct{}
}

// InMemoryGroupStore is a deterministic GroupStore used by tests and
// local development in place of a real MLS library: commits bump the
// epoch, welcomes set the joined epoch, and exported secrets are
// derived locally by XORing the label bytes with the epoch and the
// byte index rather than by an actual MLS exporter. It implements the same contract a real adapter must,
// so the state machine and key schedule are exercised end-to-end
// without a cgo MLS dependency.
type InMemoryGroupStore struct {
	state     memberState
	committed [][]byte
}

// NewInMemoryGroupStore returns a GroupStore starting at epoch 0 with
// an empty roster.
func NewInMemoryGroupStore() *InMemoryGroupStore {
	return &InMemoryGroupStore{state: memberState{roster: map[string]struct{}{}}}
}

func (s *InMemoryGroupStore) ProcessExternalSender(pkg []byte) error {
	return nil
}

func (s *InMemoryGroupStore) GenerateKeyPackage() ([]byte, error) {
	return []byte("key-package"), nil
}

func (s *InMemoryGroupStore) ProcessProposals(appendPkgs, revokeIDs [][]byte) error {
	for _, pkg := range appendPkgs {
		s.state.roster[string(pkg)] = struct{}{}
	}
	for _, id := range revokeIDs {
		delete(s.state.roster, string(id))
	}
	return nil
}

func (s *InMemoryGroupStore) ProcessCommit(commit []byte) (uint64, error) {
	s.committed = append(s.committed, commit)
	s.state.epoch++
	return s.state.epoch, nil
}

func (s *InMemoryGroupStore) ProcessWelcome(welcome []byte) (uint64, error) {
	if s.state.epoch == 0 {
		s.state.epoch = 1
	}
	return s.state.epoch, nil
}

func (s *InMemoryGroupStore) ExportSecret(label string, length int) ([]byte, error) {
	secret := make([]byte, length)
	seed := []byte(label)
	for i := range secret {
		secret[i] = seed[i%len(seed)] ^ byte(s.state.epoch) ^ byte(i)
	}
	return secret, nil
}

func (s *InMemoryGroupStore) Epoch() uint64 {
	return s.state.epoch
}

func (s *InMemoryGroupStore) Reset() {
	s.state = memberState{roster: map[string]struct{}{}}
	s.committed = nil
}
