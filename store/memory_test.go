package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testIdentity(id, username string) *Identity {
	return &Identity{
		ID:               id,
		Username:         username,
		PasswordHash:     "$argon2id$stub",
		Email:            username + "@example.com",
		VerificationStep: StepRegistered,
		CreatedAt:        time.Now(),
	}
}

func TestCreateIdentityDuplicateUsername(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.CreateIdentity(ctx, testIdentity("u1", "alice")); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	if err := m.CreateIdentity(ctx, testIdentity("u2", "alice")); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestIdentityReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.CreateIdentity(ctx, testIdentity("u1", "alice")); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}

	got, err := m.Identity(ctx, "u1")
	if err != nil {
		t.Fatalf("Identity failed: %v", err)
	}
	got.Username = "mallory"

	again, _ := m.Identity(ctx, "u1")
	if again.Username != "alice" {
		t.Fatal("mutating a returned record must not touch stored state")
	}
}

func TestAdvanceVerificationStep(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.CreateIdentity(ctx, testIdentity("u1", "alice")); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}

	// Skipping a step is refused.
	if _, err := m.AdvanceVerificationStep(ctx, "u1", StepPhoneVerified); !errors.Is(err, ErrStepSkipped) {
		t.Fatalf("expected ErrStepSkipped, got %v", err)
	}

	// One step at a time up the ladder.
	for target := StepEmailVerified; target <= StepFullyVerified; target++ {
		identity, err := m.AdvanceVerificationStep(ctx, "u1", target)
		if err != nil {
			t.Fatalf("advance to %d failed: %v", target, err)
		}
		if identity.VerificationStep != target {
			t.Fatalf("expected step %d, got %d", target, identity.VerificationStep)
		}
	}

	identity, _ := m.Identity(ctx, "u1")
	if !identity.Verified {
		t.Fatal("reaching the final step must set Verified")
	}

	// Re-confirming a completed step is a no-op, never a regression.
	identity, err := m.AdvanceVerificationStep(ctx, "u1", StepEmailVerified)
	if err != nil {
		t.Fatalf("idempotent advance failed: %v", err)
	}
	if identity.VerificationStep != StepFullyVerified || !identity.Verified {
		t.Fatalf("no-op advance changed state: %+v", identity)
	}
}

func TestAdvanceVerificationStepUnknownIdentity(t *testing.T) {
	m := NewMemory()
	if _, err := m.AdvanceVerificationStep(context.Background(), "ghost", StepEmailVerified); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLatestCodeSupersede(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	for i, value := range []string{"111111", "222222"} {
		if err := m.CreateCode(ctx, &OneTimeCode{
			ID:         value,
			IdentityID: "u1",
			Channel:    ChannelEmail,
			Code:       value,
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
			ExpiresAt:  now.Add(15 * time.Minute),
		}); err != nil {
			t.Fatalf("CreateCode failed: %v", err)
		}
	}

	code, err := m.UpdateLatestCode(ctx, "u1", ChannelEmail, func(*OneTimeCode) error { return nil })
	if err != nil {
		t.Fatalf("UpdateLatestCode failed: %v", err)
	}
	if code.Code != "222222" {
		t.Fatalf("expected the latest code, got %s", code.Code)
	}
}

func TestUpdateLatestCodePersistsMutationsOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.CreateCode(ctx, &OneTimeCode{
		ID:         "c1",
		IdentityID: "u1",
		Channel:    ChannelSMS,
		Code:       "123456",
		ExpiresAt:  time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("CreateCode failed: %v", err)
	}

	wantErr := errors.New("rejected")
	_, err := m.UpdateLatestCode(ctx, "u1", ChannelSMS, func(code *OneTimeCode) error {
		code.Attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected mutator error surfaced, got %v", err)
	}

	code, err := m.UpdateLatestCode(ctx, "u1", ChannelSMS, func(*OneTimeCode) error { return nil })
	if err != nil {
		t.Fatalf("UpdateLatestCode failed: %v", err)
	}
	if code.Attempts != 1 {
		t.Fatalf("expected the attempt increment to persist, got %d", code.Attempts)
	}
}

func TestUpdateLatestCodeMissing(t *testing.T) {
	m := NewMemory()
	if _, err := m.UpdateLatestCode(context.Background(), "u1", ChannelEmail, func(*OneTimeCode) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCodeGuessesRespectAttemptCap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.CreateCode(ctx, &OneTimeCode{
		ID:         "c1",
		IdentityID: "u1",
		Channel:    ChannelEmail,
		Code:       "123456",
		ExpiresAt:  time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("CreateCode failed: %v", err)
	}

	const maxAttempts = 3
	const workers = 16
	var accepted, rejected int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.UpdateLatestCode(ctx, "u1", ChannelEmail, func(code *OneTimeCode) error {
				if code.Consumed || code.Attempts >= maxAttempts {
					mu.Lock()
					rejected++
					mu.Unlock()
					return nil
				}
				if code.Code == "123456" {
					code.Consumed = true
					mu.Lock()
					accepted++
					mu.Unlock()
					return nil
				}
				code.Attempts++
				return nil
			})
			if err != nil {
				t.Errorf("UpdateLatestCode failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", accepted)
	}
}

func TestAttemptsSinceFiltersWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	attempts := []*LoginAttempt{
		{ID: "a1", IdentityID: "u1", Status: StatusSuccess, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "a2", IdentityID: "u1", Status: StatusFailed, Timestamp: now.Add(-30 * time.Hour)},
		{ID: "a3", IdentityID: "u2", Status: StatusSuccess, Timestamp: now},
	}
	for _, a := range attempts {
		if err := m.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	got, err := m.AttemptsSince(ctx, "u1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("AttemptsSince failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("expected only a1 in window, got %+v", got)
	}
}

func TestResolveDeviceConcurrentFirstContact(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const workers = 16
	var created int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, isNew, err := m.ResolveDevice(ctx, "u1", "fp-1", func() *Device {
				return &Device{
					ID:          fmt.Sprintf("d-%d", n),
					IdentityID:  "u1",
					Fingerprint: "fp-1",
					Name:        "Chrome on Mac OS X",
					CreatedAt:   time.Now(),
				}
			})
			if err != nil {
				t.Errorf("ResolveDevice failed: %v", err)
				return
			}
			if isNew {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
	devices, err := m.Devices(ctx, "u1")
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected one device row, got %d", len(devices))
	}
}

func TestHistoryMostRecentFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	for i, action := range []AuthAction{ActionRegister, ActionLogin, ActionLogout} {
		if err := m.AppendHistory(ctx, &AuthHistoryEntry{
			ID:         fmt.Sprintf("h-%d", i),
			IdentityID: "u1",
			Action:     action,
			Status:     StatusSuccess,
			Timestamp:  now.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}

	history, err := m.History(ctx, "u1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 || history[0].Action != ActionLogout || history[2].Action != ActionRegister {
		t.Fatalf("unexpected order: %+v", history)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	sessions := []*Session{
		{ID: "s1", IdentityID: "u1", Token: "t1", LastActive: now, ExpiresAt: now.Add(-time.Minute)},
		{ID: "s2", IdentityID: "u1", Token: "t2", LastActive: now.Add(time.Minute), ExpiresAt: now.Add(time.Hour)},
	}
	for _, s := range sessions {
		if err := m.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	got, err := m.SessionByToken(ctx, "t2")
	if err != nil || got.ID != "s2" {
		t.Fatalf("SessionByToken: %+v/%v", got, err)
	}

	removed, err := m.DeleteExpiredSessions(ctx, now)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 expired session removed, got %d/%v", removed, err)
	}
	if _, err := m.SessionByToken(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected swept token gone, got %v", err)
	}

	// Delete-if-exists semantics.
	if err := m.DeleteSession(ctx, "s2"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := m.DeleteSession(ctx, "s2"); err != nil {
		t.Fatalf("repeat DeleteSession must be a no-op, got %v", err)
	}
}
