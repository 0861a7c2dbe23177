package stepauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lsasec/stepauth/geo"
	"github.com/lsasec/stepauth/store"
)

func TestRegisterCreatesIdentityAtStepOne(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	res := mustRegister(t, e, "alice")
	if res.IdentityID == "" {
		t.Fatal("expected identity id")
	}
	if res.TOTPSecret == "" || res.OTPAuthURI == "" {
		t.Fatal("expected TOTP enrollment material")
	}

	step, verified, err := e.VerificationStep(context.Background(), res.IdentityID)
	if err != nil {
		t.Fatalf("VerificationStep failed: %v", err)
	}
	if step != store.StepRegistered || verified {
		t.Fatalf("expected step 1 unverified, got step=%d verified=%v", step, verified)
	}

	history, err := e.AuthHistory(context.Background(), res.IdentityID)
	if err != nil {
		t.Fatalf("AuthHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Action != store.ActionRegister || history[0].Status != store.StatusSuccess {
		t.Fatalf("expected one REGISTER/SUCCESS entry, got %+v", history)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	mustRegister(t, e, "alice")
	_, err := e.Register(requestContext(testIP, testUserAgent), registerRequest("alice"))
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	cases := map[string]func(*RegisterRequest){
		"empty username":     func(r *RegisterRequest) { r.Username = "" },
		"empty password":     func(r *RegisterRequest) { r.Password = "" },
		"empty email":        func(r *RegisterRequest) { r.Email = "" },
		"empty phone":        func(r *RegisterRequest) { r.Phone = "" },
		"empty answer":       func(r *RegisterRequest) { r.SecurityQuestions[1].Answer = "" },
		"duplicate question": func(r *RegisterRequest) { r.SecurityQuestions[2].QuestionID = r.SecurityQuestions[0].QuestionID },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			req := registerRequest("bob")
			corrupt(&req)
			if _, err := e.Register(requestContext(testIP, testUserAgent), req); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestLoginSuccessCreatesSession(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	reg := mustRegister(t, e, "alice")

	ctx := requestContext(testIP, testUserAgent)
	res, err := e.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.IdentityID != reg.IdentityID {
		t.Fatalf("identity mismatch: %s vs %s", res.IdentityID, reg.IdentityID)
	}
	if res.SessionToken == "" || res.SessionID == "" {
		t.Fatal("expected session token and id")
	}
	if res.TrustToken != "" {
		t.Fatal("unverified identity must not receive a trust token")
	}
	if res.Device == nil || res.Device.Name == "" {
		t.Fatalf("expected a named device, got %+v", res.Device)
	}

	session, err := e.Session(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("Session lookup failed: %v", err)
	}
	if session.ID != res.SessionID || session.IdentityID != reg.IdentityID {
		t.Fatalf("session mismatch: %+v", session)
	}

	identity, err := e.repo.Identity(ctx, reg.IdentityID)
	if err != nil {
		t.Fatalf("identity fetch failed: %v", err)
	}
	if identity.LastLogin.IsZero() {
		t.Fatal("expected LastLogin to be set")
	}
}

func TestLoginUniformInvalidCredentials(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	mustRegister(t, e, "alice")

	ctx := requestContext(testIP, testUserAgent)

	_, unknownErr := e.Login(ctx, "nobody", "correct-horse-battery")
	_, wrongErr := e.Login(ctx, "alice", "wrong-password-entirely")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	// Same sentinel, same message: nothing distinguishes the two cases.
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("responses differ: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLoginSameDeviceResolvesOnce(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	reg := mustRegister(t, e, "alice")

	ctx := requestContext(testIP, testUserAgent)
	first, err := e.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := e.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if first.Device.ID != second.Device.ID {
		t.Fatalf("expected one device, got %s and %s", first.Device.ID, second.Device.ID)
	}

	devices, err := e.Devices(ctx, reg.IdentityID)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
}

func TestLoginAbuseGuardWindow(t *testing.T) {
	cfg := testConfig()
	cfg.AbuseGuard.MaxAttempts = 5
	cfg.AbuseGuard.Window = 15 * time.Minute
	e := newTestEngine(t, cfg, nil)
	reg := mustRegister(t, e, "alice")

	ctx := requestContext(testIP, testUserAgent)
	for i := 0; i < 5; i++ {
		if _, err := e.Login(ctx, "alice", "wrong-password-entirely"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The sixth attempt is refused before the credential verifier runs:
	// the correct password changes nothing and no attempt is recorded.
	if _, err := e.Login(ctx, "alice", "correct-horse-battery"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}

	attempts, err := e.repo.AttemptsSince(ctx, reg.IdentityID, time.Time{})
	if err != nil {
		t.Fatalf("AttemptsSince failed: %v", err)
	}
	if len(attempts) != 5 {
		t.Fatalf("expected 5 recorded attempts, got %d", len(attempts))
	}

	// Uniform rejection for accounts that do not exist.
	if _, err := e.Login(ctx, "nobody", "whatever-password"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts for unknown user, got %v", err)
	}

	// A fresh window admits logins again.
	e.mr.FastForward(16 * time.Minute)
	if _, err := e.Login(ctx, "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("expected login after window reset, got %v", err)
	}
}

func TestLoginNewCountryRequiresStepUp(t *testing.T) {
	resolver := geo.StaticResolver{
		"203.0.113.10": {Country: "US", City: "Portland"},
		"198.51.100.7": {Country: "DE", City: "Berlin"},
	}
	e := newTestEngine(t, testConfig(), resolver)
	reg := mustRegister(t, e, "alice")

	usCtx := requestContext("203.0.113.10", testUserAgent)

	// No attempt in the window has ever seen US, so even the first login
	// is challenged and exactly one email code goes out.
	_, err := e.Login(usCtx, "alice", "correct-horse-battery")
	if !errors.Is(err, ErrLocationVerificationRequired) {
		t.Fatalf("expected ErrLocationVerificationRequired, got %v", err)
	}
	sent := drainSent(t, e)
	if sent.Channel != store.ChannelEmail || sent.IdentityID != reg.IdentityID {
		t.Fatalf("expected one email code for the identity, got %+v", sent)
	}
	select {
	case extra := <-e.sent.Sends():
		t.Fatalf("expected exactly one code, also got %+v", extra)
	default:
	}

	// The challenged country is now in the window; the retry passes and
	// no further code is issued.
	if _, err := e.Login(usCtx, "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("expected login from challenged country, got %v", err)
	}

	// A different country is challenged again.
	deCtx := requestContext("198.51.100.7", testUserAgent)
	if _, err := e.Login(deCtx, "alice", "correct-horse-battery"); !errors.Is(err, ErrLocationVerificationRequired) {
		t.Fatalf("expected step-up for new country, got %v", err)
	}
}

func TestLoginSeenCountryNoStepUp(t *testing.T) {
	resolver := geo.StaticResolver{
		"203.0.113.10": {Country: "US", City: "Portland"},
		"203.0.113.99": {Country: "US", City: "Chicago"},
	}
	e := newTestEngine(t, testConfig(), resolver)
	reg := mustRegister(t, e, "alice")

	// Seed the window with a successful attempt from US.
	if err := e.repo.RecordAttempt(context.Background(), &store.LoginAttempt{
		ID:         "seed",
		IdentityID: reg.IdentityID,
		IP:         "203.0.113.10",
		Location:   &geo.Location{Country: "US", City: "Portland"},
		Status:     store.StatusSuccess,
		Timestamp:  time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed attempt failed: %v", err)
	}

	// Same country, different city: no challenge.
	ctx := requestContext("203.0.113.99", testUserAgent)
	if _, err := e.Login(ctx, "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("expected same-country login, got %v", err)
	}
}

func TestLoginStaleWindowTriggersStepUp(t *testing.T) {
	resolver := geo.StaticResolver{
		"203.0.113.10": {Country: "US"},
	}
	cfg := testConfig()
	cfg.Risk.Window = 24 * time.Hour
	e := newTestEngine(t, cfg, resolver)
	reg := mustRegister(t, e, "alice")

	// The only US sighting is older than the trailing window.
	if err := e.repo.RecordAttempt(context.Background(), &store.LoginAttempt{
		ID:         "stale",
		IdentityID: reg.IdentityID,
		Location:   &geo.Location{Country: "US"},
		Status:     store.StatusSuccess,
		Timestamp:  time.Now().Add(-25 * time.Hour),
	}); err != nil {
		t.Fatalf("seed attempt failed: %v", err)
	}

	ctx := requestContext("203.0.113.10", testUserAgent)
	if _, err := e.Login(ctx, "alice", "correct-horse-battery"); !errors.Is(err, ErrLocationVerificationRequired) {
		t.Fatalf("expected step-up for stale window, got %v", err)
	}
}

func TestLoginUnresolvableLocationPolicy(t *testing.T) {
	t.Run("fail open skips assessment", func(t *testing.T) {
		cfg := testConfig()
		cfg.Risk.FailOpen = true
		e := newTestEngine(t, cfg, geo.StaticResolver{})
		mustRegister(t, e, "alice")

		ctx := requestContext(testIP, testUserAgent)
		if _, err := e.Login(ctx, "alice", "correct-horse-battery"); err != nil {
			t.Fatalf("expected fail-open login, got %v", err)
		}
	})

	t.Run("fail closed challenges", func(t *testing.T) {
		cfg := testConfig()
		cfg.Risk.FailOpen = false
		e := newTestEngine(t, cfg, geo.StaticResolver{})
		mustRegister(t, e, "alice")

		ctx := requestContext(testIP, testUserAgent)
		if _, err := e.Login(ctx, "alice", "correct-horse-battery"); !errors.Is(err, ErrLocationVerificationRequired) {
			t.Fatalf("expected fail-closed step-up, got %v", err)
		}
	})
}

func TestLogout(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	reg := mustRegister(t, e, "alice")

	ctx := requestContext(testIP, testUserAgent)
	res, err := e.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := e.Logout(ctx, res.SessionToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := e.Session(ctx, res.SessionToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
	if err := e.Logout(ctx, res.SessionToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second logout, got %v", err)
	}

	history, err := e.AuthHistory(ctx, reg.IdentityID)
	if err != nil {
		t.Fatalf("AuthHistory failed: %v", err)
	}
	if history[0].Action != store.ActionLogout {
		t.Fatalf("expected LOGOUT as most recent entry, got %+v", history[0])
	}
}

func TestLoginFailureRecordsAttemptAndHistory(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	reg := mustRegister(t, e, "alice")

	ctx := requestContext(testIP, testUserAgent)
	if _, err := e.Login(ctx, "alice", "wrong-password-entirely"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	attempts, err := e.repo.AttemptsSince(ctx, reg.IdentityID, time.Time{})
	if err != nil {
		t.Fatalf("AttemptsSince failed: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Status != store.StatusFailed || attempts[0].FailureReason != "invalid_credentials" {
		t.Fatalf("unexpected attempt record: %+v", attempts[0])
	}
	if attempts[0].IP != testIP || attempts[0].UserAgent != testUserAgent {
		t.Fatalf("attempt missing request context: %+v", attempts[0])
	}
}

func TestConcurrentFirstContactCreatesOneDevice(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	reg := mustRegister(t, e, "alice")

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			// Distinct IPs keep the abuse guard out of the way while the
			// fingerprint stays constant per worker pair.
			ctx := requestContext(fmt.Sprintf("203.0.113.%d", 20+n%2), testUserAgent)
			_, err := e.Login(ctx, "alice", "correct-horse-battery")
			errs <- err
		}(i)
	}
	for i := 0; i < workers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent login failed: %v", err)
		}
	}

	devices, err := e.Devices(context.Background(), reg.IdentityID)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected exactly 2 devices (one per fingerprint), got %d", len(devices))
	}
}
