package stepauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lsasec/stepauth/store"
)

// ListSessions returns the identity's active sessions, most recently
// active first.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]*store.Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if identityID == "" {
		return nil, ErrValidation
	}
	if _, err := e.identity(ctx, identityID); err != nil {
		return nil, err
	}

	sessions, err := e.repo.Sessions(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

// DeleteSession removes one session by id, for "sign out that device"
// flows. Unknown ids report ErrSessionNotFound.
func (e *Engine) DeleteSession(ctx context.Context, identityID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if identityID == "" || sessionID == "" {
		return ErrValidation
	}

	sessions, err := e.repo.Sessions(ctx, identityID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	owned := false
	for _, session := range sessions {
		if session.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		return ErrSessionNotFound
	}

	if err := e.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSessionDeleted)
	e.emitAudit(ctx, auditEventLogoutSession, true, identityID, sessionID, nil, nil)

	return nil
}

// Session resolves an opaque token to its live session, refusing expired
// ones. Transport middleware calls this on every authenticated request.
func (e *Engine) Session(ctx context.Context, token string) (*store.Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if token == "" {
		return nil, ErrValidation
	}

	session, err := e.repo.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// The sweep runs on an interval; a token between sweeps must still
	// read as gone.
	if !session.ExpiresAt.After(e.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// AuthHistory returns the identity's ledger entries, most recent first.
func (e *Engine) AuthHistory(ctx context.Context, identityID string) ([]*store.AuthHistoryEntry, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if identityID == "" {
		return nil, ErrValidation
	}
	if _, err := e.identity(ctx, identityID); err != nil {
		return nil, err
	}

	history, err := e.repo.History(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return history, nil
}

// Devices returns the identity's registered devices, most recently used
// first.
func (e *Engine) Devices(ctx context.Context, identityID string) ([]*store.Device, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if identityID == "" {
		return nil, ErrValidation
	}
	if _, err := e.identity(ctx, identityID); err != nil {
		return nil, err
	}

	devices, err := e.repo.Devices(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return devices, nil
}

// TrustDevice marks a device as trusted (or revokes that) after the user
// confirmed it from an established session.
func (e *Engine) TrustDevice(ctx context.Context, identityID, deviceID string, trusted bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if identityID == "" || deviceID == "" {
		return ErrValidation
	}

	device, err := e.repo.Device(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// Ownership is checked so one identity cannot flip another's device.
	if device.IdentityID != identityID {
		return ErrDeviceNotFound
	}

	if err := e.repo.SetDeviceTrusted(ctx, deviceID, trusted); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) startSweeper() {
	e.sweepWG.Add(1)
	go func() {
		defer e.sweepWG.Done()

		ticker := time.NewTicker(e.config.Session.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.sweepSessions(context.Background())
			case <-e.sweepDone:
				return
			}
		}
	}()
}

func (e *Engine) sweepSessions(ctx context.Context) {
	removed, err := e.repo.DeleteExpiredSessions(ctx, e.now())
	if err != nil {
		log.Print("stepauth: session sweep failed: ", err)
		return
	}
	if removed == 0 {
		return
	}

	if e.metrics != nil {
		e.metrics.Add(MetricSessionSwept, uint64(removed))
	}
	e.emitAudit(ctx, auditEventSessionExpired, true, "", "", nil, func() map[string]string {
		return map[string]string{"removed": fmt.Sprint(removed)}
	})
}
