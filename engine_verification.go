package stepauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lsasec/stepauth/internal"
	"github.com/lsasec/stepauth/store"
)

// RequestEmailCode issues a fresh email code for the identity and hands
// it to the delivery collaborator. The code is persisted before the send
// is attempted, so a delivery failure leaves it valid for retry. A new
// code supersedes any live one for the same channel.
func (e *Engine) RequestEmailCode(ctx context.Context, identityID string) error {
	return e.requestCode(ctx, identityID, store.ChannelEmail)
}

// RequestSMSCode issues a fresh SMS code. The phone channel opens only
// after the email step is complete.
func (e *Engine) RequestSMSCode(ctx context.Context, identityID string) error {
	return e.requestCode(ctx, identityID, store.ChannelSMS)
}

func (e *Engine) requestCode(ctx context.Context, identityID string, channel store.Channel) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if identityID == "" {
		return ErrValidation
	}

	identity, err := e.identity(ctx, identityID)
	if err != nil {
		return err
	}
	if channel == store.ChannelSMS && identity.VerificationStep < store.StepEmailVerified {
		return ErrStepNotReached
	}

	code, err := e.issueCode(ctx, identity, channel)
	if err != nil {
		return err
	}
	return e.deliverCode(ctx, identity, channel, code.Code)
}

// ConfirmEmailCode checks a submitted email code and, when accepted,
// advances a step-1 identity to step 2. Accepted codes issued for
// location verification at a later step leave the step untouched.
func (e *Engine) ConfirmEmailCode(ctx context.Context, identityID, submitted string) (CodeOutcome, error) {
	return e.confirmCode(ctx, identityID, store.ChannelEmail, submitted, store.StepEmailVerified, store.StepRegistered)
}

// ConfirmSMSCode checks a submitted SMS code and, when accepted,
// advances a step-2 identity to step 3. The email step is a prerequisite.
func (e *Engine) ConfirmSMSCode(ctx context.Context, identityID, submitted string) (CodeOutcome, error) {
	return e.confirmCode(ctx, identityID, store.ChannelSMS, submitted, store.StepPhoneVerified, store.StepEmailVerified)
}

func (e *Engine) confirmCode(ctx context.Context, identityID string, channel store.Channel, submitted string, target, prerequisite int) (CodeOutcome, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if identityID == "" || submitted == "" {
		return 0, ErrValidation
	}

	identity, err := e.identity(ctx, identityID)
	if err != nil {
		return 0, err
	}
	// The prerequisite is checked before the code is touched, so a
	// premature confirm burns no attempts.
	if identity.VerificationStep < prerequisite {
		e.emitAudit(ctx, auditEventCodeConfirm, false, identityID, "", ErrStepNotReached, nil)
		return 0, ErrStepNotReached
	}

	outcome, err := e.verifyCode(ctx, identityID, channel, submitted)
	if err != nil {
		return 0, err
	}

	if outcome == CodeAccepted {
		if _, err := e.repo.AdvanceVerificationStep(ctx, identityID, target); err != nil {
			if errors.Is(err, store.ErrStepSkipped) {
				return 0, ErrStepNotReached
			}
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if identity.VerificationStep < target {
			e.afterStepAdvance(ctx, identityID, target)
		}
	}

	e.metricInc(codeOutcomeMetric(outcome))
	e.emitAudit(ctx, auditEventCodeConfirm, outcome == CodeAccepted, identityID, "", nil, func() map[string]string {
		return map[string]string{
			"channel": string(channel),
			"outcome": outcome.String(),
		}
	})

	return outcome, nil
}

// verifyCode runs the full code state machine inside the store's per-key
// atomic section. The order is fixed: consumed, expired, attempt cap,
// then comparison. The cap check precedes the compare, so once attempts
// are spent even the correct value is rejected.
func (e *Engine) verifyCode(ctx context.Context, identityID string, channel store.Channel, submitted string) (CodeOutcome, error) {
	outcome := CodeNotFound

	_, err := e.repo.UpdateLatestCode(ctx, identityID, channel, func(code *store.OneTimeCode) error {
		switch {
		case code.Consumed:
			outcome = CodeNotFound
		case e.now().After(code.ExpiresAt):
			outcome = CodeExpired
		case code.Attempts >= e.config.Code.MaxAttempts:
			outcome = CodeAttemptsExceeded
		case subtle.ConstantTimeCompare([]byte(code.Code), []byte(submitted)) == 1:
			code.Consumed = true
			outcome = CodeAccepted
		default:
			code.Attempts++
			outcome = CodeMismatch
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CodeNotFound, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return outcome, nil
}

// VerifySecurityQuestions checks the submitted answers against the
// stored hashes and, when all three match, advances a step-3 identity to
// step 4. Matching is all-or-nothing; no per-answer feedback is given.
// There is no attempt counter on this proof, a recorded trade-off
// carried over from the source system.
func (e *Engine) VerifySecurityQuestions(ctx context.Context, identityID string, answers [3]SecurityAnswer) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	if identityID == "" {
		return false, ErrValidation
	}

	identity, err := e.identity(ctx, identityID)
	if err != nil {
		return false, err
	}
	if identity.VerificationStep < store.StepPhoneVerified {
		return false, ErrStepNotReached
	}
	if identity.SecurityQuestions[0].QuestionID == "" {
		return false, ErrQuestionsNotConfigured
	}

	// Every submitted answer is hashed and compared regardless of earlier
	// mismatches, keeping the comparison time independent of which answer
	// was wrong.
	matched := true
	for _, stored := range identity.SecurityQuestions {
		found := false
		for _, submitted := range answers {
			if submitted.QuestionID != stored.QuestionID {
				continue
			}
			found = internal.AnswerHashesEqual(stored.AnswerHash, internal.HashAnswer(submitted.Answer))
			break
		}
		if !found {
			matched = false
		}
	}

	if !matched {
		e.metricInc(MetricQuestionsFailure)
		e.emitAudit(ctx, auditEventQuestionsConfirm, false, identityID, "", nil, nil)
		return false, nil
	}

	if _, err := e.repo.AdvanceVerificationStep(ctx, identityID, store.StepQuestionsVerified); err != nil {
		if errors.Is(err, store.ErrStepSkipped) {
			return false, ErrStepNotReached
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.VerificationStep < store.StepQuestionsVerified {
		e.afterStepAdvance(ctx, identityID, store.StepQuestionsVerified)
	}

	e.metricInc(MetricQuestionsSuccess)
	e.emitAudit(ctx, auditEventQuestionsConfirm, true, identityID, "", nil, nil)

	return true, nil
}

// ConfirmTOTP checks a time-based code against the identity's stored
// secret and, when valid, advances a step-4 identity to step 5, marking
// it fully verified. Verification is stateless; re-confirmation at step
// 5 is an accepted no-op.
func (e *Engine) ConfirmTOTP(ctx context.Context, identityID, code string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	if identityID == "" || code == "" {
		return false, ErrValidation
	}

	identity, err := e.identity(ctx, identityID)
	if err != nil {
		return false, err
	}
	if identity.VerificationStep < store.StepQuestionsVerified {
		return false, ErrStepNotReached
	}
	if identity.TOTPSecret == "" {
		return false, ErrTOTPNotProvisioned
	}

	if !e.totp.Verify(identity.TOTPSecret, code, e.now()) {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, identityID, "", nil, nil)
		return false, nil
	}

	if _, err := e.repo.AdvanceVerificationStep(ctx, identityID, store.StepFullyVerified); err != nil {
		if errors.Is(err, store.ErrStepSkipped) {
			return false, ErrStepNotReached
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.VerificationStep < store.StepFullyVerified {
		e.afterStepAdvance(ctx, identityID, store.StepFullyVerified)
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, identityID, "", nil, nil)

	return true, nil
}

// ProvisionTOTP rebuilds the otpauth:// enrollment URI for the stored
// secret. Rendering it as a QR code is the caller's concern.
func (e *Engine) ProvisionTOTP(ctx context.Context, identityID string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if identityID == "" {
		return "", ErrValidation
	}

	identity, err := e.identity(ctx, identityID)
	if err != nil {
		return "", err
	}
	if identity.TOTPSecret == "" {
		return "", ErrTOTPNotProvisioned
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, identityID, "", nil, nil)

	return e.totp.ProvisionURI(identity.TOTPSecret, identity.Username), nil
}

// VerificationStep reports the identity's current ladder position.
func (e *Engine) VerificationStep(ctx context.Context, identityID string) (int, bool, error) {
	if !e.ready() {
		return 0, false, ErrEngineNotReady
	}
	identity, err := e.identity(ctx, identityID)
	if err != nil {
		return 0, false, err
	}
	return identity.VerificationStep, identity.Verified, nil
}

func (e *Engine) issueCode(ctx context.Context, identity *store.Identity, channel store.Channel) (*store.OneTimeCode, error) {
	value, err := internal.NewCodeValue()
	if err != nil {
		return nil, fmt.Errorf("code generation: %w", err)
	}

	now := e.now()
	code := &store.OneTimeCode{
		ID:         uuid.NewString(),
		IdentityID: identity.ID,
		Channel:    channel,
		Code:       value,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.config.Code.TTL),
	}
	if err := e.repo.CreateCode(ctx, code); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricCodeIssued)
	e.emitAudit(ctx, auditEventCodeIssued, true, identity.ID, "", nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})

	return code, nil
}

func (e *Engine) deliverCode(ctx context.Context, identity *store.Identity, channel store.Channel, value string) error {
	var err error
	switch channel {
	case store.ChannelSMS:
		err = e.delivery.SendSMSCode(ctx, identity, value)
	default:
		err = e.delivery.SendEmailCode(ctx, identity, value)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (e *Engine) afterStepAdvance(ctx context.Context, identityID string, target int) {
	e.emitAudit(ctx, auditEventStepAdvanced, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"step": fmt.Sprint(target)}
	})
	if target == store.StepFullyVerified {
		e.metricInc(MetricIdentityFullyVerified)
		e.emitAudit(ctx, auditEventIdentityFullyVerified, true, identityID, "", nil, nil)
	}
}

// identity fetches by id and maps storage errors to the engine taxonomy.
func (e *Engine) identity(ctx context.Context, id string) (*store.Identity, error) {
	identity, err := e.repo.Identity(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return identity, nil
}

func codeOutcomeMetric(outcome CodeOutcome) MetricID {
	switch outcome {
	case CodeAccepted:
		return MetricCodeAccepted
	case CodeExpired:
		return MetricCodeExpired
	case CodeAttemptsExceeded:
		return MetricCodeAttemptsExceeded
	default:
		return MetricCodeMismatch
	}
}
