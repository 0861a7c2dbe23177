package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the reference Repository backend. All state lives in process
// memory behind a single mutex, which makes every per-key operation
// trivially atomic. It backs the test suite and the example wiring;
// persistent backends implement the same interface externally.
type Memory struct {
	mu sync.RWMutex

	identities map[string]*Identity
	byUsername map[string]string

	codes   []*OneTimeCode
	codeSeq map[codeKey]int // index of the latest code per key

	attempts []*LoginAttempt

	devices  map[string]*Device
	deviceBy map[deviceKey]string

	history []*AuthHistoryEntry

	sessions map[string]*Session
	byToken  map[string]string
}

type codeKey struct {
	identityID string
	channel    Channel
}

type deviceKey struct {
	identityID  string
	fingerprint string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		identities: make(map[string]*Identity),
		byUsername: make(map[string]string),
		codeSeq:    make(map[codeKey]int),
		devices:    make(map[string]*Device),
		deviceBy:   make(map[deviceKey]string),
		sessions:   make(map[string]*Session),
		byToken:    make(map[string]string),
	}
}

func (m *Memory) CreateIdentity(_ context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byUsername[identity.Username]; taken {
		return ErrDuplicateUsername
	}

	cp := *identity
	m.identities[cp.ID] = &cp
	m.byUsername[cp.Username] = cp.ID
	return nil
}

func (m *Memory) Identity(_ context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (m *Memory) IdentityByUsername(_ context.Context, username string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.identities[id]
	return &cp, nil
}

func (m *Memory) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.LastLogin = at
	return nil
}

func (m *Memory) AdvanceVerificationStep(_ context.Context, id string, target int) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}

	switch {
	case target <= identity.VerificationStep:
		// Re-confirming a completed step must not regress or duplicate
		// side effects.
	case target == identity.VerificationStep+1:
		identity.VerificationStep = target
		if target == StepFullyVerified {
			identity.Verified = true
		}
	default:
		return nil, ErrStepSkipped
	}

	cp := *identity
	return &cp, nil
}

func (m *Memory) CreateCode(_ context.Context, code *OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *code
	m.codes = append(m.codes, &cp)
	// Latest-by-creation wins; insertion order breaks creation-time ties.
	m.codeSeq[codeKey{cp.IdentityID, cp.Channel}] = len(m.codes) - 1
	return nil
}

func (m *Memory) UpdateLatestCode(_ context.Context, identityID string, channel Channel, fn CodeMutator) (*OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.codeSeq[codeKey{identityID, channel}]
	if !ok {
		return nil, ErrNotFound
	}

	code := m.codes[idx]
	scratch := *code
	if err := fn(&scratch); err != nil {
		// Mutations made before the error are still persisted: an attempt
		// increment must stick even when the guess is rejected.
		*code = scratch
		return nil, err
	}
	*code = scratch

	cp := scratch
	return &cp, nil
}

func (m *Memory) RecordAttempt(_ context.Context, attempt *LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *Memory) AttemptsSince(_ context.Context, identityID string, since time.Time) ([]*LoginAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*LoginAttempt
	for _, attempt := range m.attempts {
		if attempt.IdentityID != identityID {
			continue
		}
		if attempt.Timestamp.Before(since) {
			continue
		}
		cp := *attempt
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) ResolveDevice(_ context.Context, identityID, fingerprint string, create func() *Device) (*Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deviceKey{identityID, fingerprint}
	if id, ok := m.deviceBy[key]; ok {
		device := m.devices[id]
		device.LastUsed = time.Now()
		cp := *device
		return &cp, false, nil
	}

	cp := *create()
	m.devices[cp.ID] = &cp
	m.deviceBy[key] = cp.ID

	out := cp
	return &out, true, nil
}

func (m *Memory) Device(_ context.Context, id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *device
	return &cp, nil
}

func (m *Memory) SetDeviceTrusted(_ context.Context, id string, trusted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	device.Trusted = trusted
	return nil
}

func (m *Memory) Devices(_ context.Context, identityID string) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Device
	for _, device := range m.devices {
		if device.IdentityID != identityID {
			continue
		}
		cp := *device
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsed.After(out[j].LastUsed)
	})
	return out, nil
}

func (m *Memory) AppendHistory(_ context.Context, entry *AuthHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.history = append(m.history, &cp)
	return nil
}

func (m *Memory) History(_ context.Context, identityID string) ([]*AuthHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AuthHistoryEntry
	for _, entry := range m.history {
		if entry.IdentityID != identityID {
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) CreateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *session
	m.sessions[cp.ID] = &cp
	m.byToken[cp.Token] = cp.ID
	return nil
}

func (m *Memory) SessionByToken(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *Memory) Sessions(_ context.Context, identityID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, session := range m.sessions {
		if session.IdentityID != identityID {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.byToken, session.Token)
	delete(m.sessions, id)
	return nil
}

func (m *Memory) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, session := range m.sessions {
		if session.ExpiresAt.After(now) {
			continue
		}
		delete(m.byToken, session.Token)
		delete(m.sessions, id)
		removed++
	}
	return removed, nil
}

var _ Repository = (*Memory)(nil)
