package stepauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsasec/stepauth/device"
	"github.com/lsasec/stepauth/geo"
	"github.com/lsasec/stepauth/internal"
	"github.com/lsasec/stepauth/internal/rate"
	"github.com/lsasec/stepauth/password"
	"github.com/lsasec/stepauth/store"
	"github.com/lsasec/stepauth/totp"
	"github.com/lsasec/stepauth/trust"
)

// Engine is the authentication core. Construct it with [New]; all methods
// are safe for concurrent use.
type Engine struct {
	config       Config
	repo         store.Repository
	guard        *rate.Limiter
	passwordHash *password.Hasher
	totp         *totp.Verifier
	trustManager *trust.Manager
	resolver     geo.Resolver
	delivery     Delivery
	audit        *auditDispatcher
	metrics      *Metrics

	// now is swapped by tests that need deterministic expiry.
	now func() time.Time

	sweepDone chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
}

// Close stops the session sweeper and drains the audit dispatcher.
// Idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepDone != nil {
			close(e.sweepDone)
			e.sweepWG.Wait()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped reports how many audit events were discarded under
// buffer pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.repo != nil && e.passwordHash != nil && e.guard != nil
}

// Register creates a new identity at verification step 1 and provisions
// its TOTP secret. The secret and its otpauth:// URI are surfaced in the
// result exactly once, for authenticator enrollment.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := validateRegisterRequest(req); err != nil {
		return nil, err
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		// The hasher only fails on short secrets or entropy exhaustion;
		// the former is the caller's input.
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	secret, uri, err := e.totp.GenerateSecret(req.Username)
	if err != nil {
		return nil, fmt.Errorf("totp provisioning: %w", err)
	}

	now := e.now()
	identity := &store.Identity{
		ID:               uuid.NewString(),
		Username:         req.Username,
		PasswordHash:     hash,
		Email:            req.Email,
		Phone:            req.Phone,
		TOTPSecret:       secret,
		VerificationStep: store.StepRegistered,
		CreatedAt:        now,
	}
	for i, q := range req.SecurityQuestions {
		identity.SecurityQuestions[i] = store.SecurityQuestion{
			QuestionID: q.QuestionID,
			AnswerHash: internal.HashAnswer(q.Answer),
		}
	}

	if err := e.repo.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", ErrUsernameTaken, nil)
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.appendHistory(ctx, identity.ID, store.ActionRegister, store.StatusSuccess, "")

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, identity.ID, "", nil, nil)

	return &RegisterResult{
		IdentityID: identity.ID,
		TOTPSecret: secret,
		OTPAuthURI: uri,
	}, nil
}

// Login authenticates a credential pair and, when risk allows, creates a
// session. The flow is abuse guard, credential verify, device resolve,
// risk assess, session create. A geo anomaly rejects the login with
// ErrLocationVerificationRequired after issuing an email code; no
// session exists in that case.
func (e *Engine) Login(ctx context.Context, username, secret string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if username == "" || secret == "" {
		return nil, ErrValidation
	}

	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	// The guard counts every attempt that would reach the verifier,
	// successful or not, and answers uniformly whether or not the
	// account exists.
	if err := e.guard.Hit(ctx, ip, username); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", nil)
			return nil, ErrTooManyAttempts
		}
		return nil, fmt.Errorf("%w: %v", ErrRateLimiterUnavailable, err)
	}

	loc := e.resolveLocation(ip)

	identity, err := e.repo.IdentityByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.failLogin(ctx, "", ip, userAgent, loc, "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := e.passwordHash.Verify(secret, identity.PasswordHash)
	if err != nil {
		// A stored hash that fails to parse is corrupt state, not a
		// wrong password.
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		e.failLogin(ctx, identity.ID, ip, userAgent, loc, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	stepUp, err := e.assessRisk(ctx, identity.ID, loc)
	if err != nil {
		return nil, err
	}
	if stepUp {
		return nil, e.rejectNewLocation(ctx, identity, ip, userAgent, loc)
	}

	fp := device.Fingerprint(userAgent, ip)
	dev, created, err := e.repo.ResolveDevice(ctx, identity.ID, fp, func() *store.Device {
		now := e.now()
		return &store.Device{
			ID:          uuid.NewString(),
			IdentityID:  identity.ID,
			Fingerprint: fp,
			Name:        device.Describe(userAgent),
			LastUsed:    now,
			CreatedAt:   now,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created {
		e.metricInc(MetricDeviceRegistered)
	}

	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}

	now := e.now()
	session := &store.Session{
		ID:         uuid.NewString(),
		IdentityID: identity.ID,
		Token:      token,
		DeviceID:   dev.ID,
		IP:         ip,
		Location:   loc.Coarse(),
		LastActive: now,
		ExpiresAt:  now.Add(e.config.Session.Lifetime),
	}
	if err := e.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.recordAttempt(ctx, &store.LoginAttempt{
		ID:         uuid.NewString(),
		IdentityID: identity.ID,
		IP:         ip,
		UserAgent:  userAgent,
		Location:   loc,
		Status:     store.StatusSuccess,
		Timestamp:  now,
	})
	e.appendHistory(ctx, identity.ID, store.ActionLogin, store.StatusSuccess, dev.ID)

	if err := e.repo.UpdateLastLogin(ctx, identity.ID, now); err != nil {
		log.Print("stepauth: last-login update failed: ", err)
	}

	result := &LoginResult{
		IdentityID:       identity.ID,
		SessionID:        session.ID,
		SessionToken:     token,
		Device:           dev,
		VerificationStep: identity.VerificationStep,
		Verified:         identity.Verified,
	}

	if e.trustManager != nil && identity.Verified {
		trustToken, err := e.trustManager.Issue(identity.ID, session.ID, identity.VerificationStep)
		if err != nil {
			log.Print("stepauth: trust token issuance failed: ", err)
		} else {
			result.TrustToken = trustToken
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, session.ID, nil, func() map[string]string {
		return map[string]string{
			"device_id":  dev.ID,
			"new_device": fmt.Sprintf("%t", created),
		}
	})

	return result, nil
}

// Logout deletes the session identified by its opaque token and records
// the logout in the auth history.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrValidation
	}

	session, err := e.repo.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.repo.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.appendHistory(ctx, session.IdentityID, store.ActionLogout, store.StatusSuccess, session.DeviceID)

	e.metricInc(MetricSessionDeleted)
	e.emitAudit(ctx, auditEventLogoutSession, true, session.IdentityID, session.ID, nil, nil)

	return nil
}

// assessRisk reports whether the current location demands step-up
// verification: it does when the location resolves to a country absent
// from the identity's trailing attempt window. An unresolvable location
// follows the configured fail-open policy.
func (e *Engine) assessRisk(ctx context.Context, identityID string, loc *geo.Location) (bool, error) {
	if loc == nil || loc.Country == "" {
		return !e.config.Risk.FailOpen, nil
	}

	attempts, err := e.repo.AttemptsSince(ctx, identityID, e.now().Add(-e.config.Risk.Window))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, attempt := range attempts {
		if attempt.Location != nil && attempt.Location.Country == loc.Country {
			return false, nil
		}
	}
	return true, nil
}

// rejectNewLocation issues an email proof for a geo anomaly and returns
// the step-up rejection. The recorded attempt carries the resolved
// location, so the window sees the country once it has been challenged.
func (e *Engine) rejectNewLocation(ctx context.Context, identity *store.Identity, ip, userAgent string, loc *geo.Location) error {
	if _, err := e.issueCode(ctx, identity, store.ChannelEmail); err != nil {
		log.Print("stepauth: step-up code issuance failed: ", err)
	}

	e.recordAttempt(ctx, &store.LoginAttempt{
		ID:            uuid.NewString(),
		IdentityID:    identity.ID,
		IP:            ip,
		UserAgent:     userAgent,
		Location:      loc,
		Status:        store.StatusFailed,
		FailureReason: "new_location",
		Timestamp:     e.now(),
	})
	e.appendHistory(ctx, identity.ID, store.ActionLogin, store.StatusFailed, "")

	e.metricInc(MetricLocationAnomaly)
	e.metricInc(MetricLoginStepUpRequired)
	e.emitAudit(ctx, auditEventLocationAnomaly, false, identity.ID, "", ErrLocationVerificationRequired, nil)
	e.emitAudit(ctx, auditEventLoginStepUpRequired, false, identity.ID, "", ErrLocationVerificationRequired, nil)

	return ErrLocationVerificationRequired
}

func (e *Engine) failLogin(ctx context.Context, identityID, ip, userAgent string, loc *geo.Location, reason string) {
	e.recordAttempt(ctx, &store.LoginAttempt{
		ID:            uuid.NewString(),
		IdentityID:    identityID,
		IP:            ip,
		UserAgent:     userAgent,
		Location:      loc,
		Status:        store.StatusFailed,
		FailureReason: reason,
		Timestamp:     e.now(),
	})
	if identityID != "" {
		e.appendHistory(ctx, identityID, store.ActionLogin, store.StatusFailed, "")
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, identityID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func (e *Engine) resolveLocation(ip string) *geo.Location {
	if e.resolver == nil || ip == "" {
		return nil
	}
	loc, err := e.resolver.Resolve(ip)
	if err != nil {
		log.Print("stepauth: geo resolution failed: ", err)
		return nil
	}
	return loc
}

// recordAttempt and appendHistory are best-effort bookkeeping: a full
// ledger never blocks the authentication decision itself.
func (e *Engine) recordAttempt(ctx context.Context, attempt *store.LoginAttempt) {
	if err := e.repo.RecordAttempt(ctx, attempt); err != nil {
		log.Print("stepauth: attempt record failed: ", err)
	}
}

func (e *Engine) appendHistory(ctx context.Context, identityID string, action store.AuthAction, status store.AuthStatus, deviceID string) {
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	entry := &store.AuthHistoryEntry{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Action:     action,
		Status:     status,
		DeviceID:   deviceID,
		IP:         ip,
		UserAgent:  userAgent,
		Location:   e.resolveLocation(ip),
		Timestamp:  e.now(),
	}
	if err := e.repo.AppendHistory(ctx, entry); err != nil {
		log.Print("stepauth: history append failed: ", err)
	}
}

func validateRegisterRequest(req RegisterRequest) error {
	if req.Username == "" || req.Password == "" || req.Email == "" || req.Phone == "" {
		return ErrValidation
	}
	seen := map[string]bool{}
	for _, q := range req.SecurityQuestions {
		if q.QuestionID == "" || q.Answer == "" {
			return ErrValidation
		}
		if seen[q.QuestionID] {
			return ErrValidation
		}
		seen[q.QuestionID] = true
	}
	return nil
}
