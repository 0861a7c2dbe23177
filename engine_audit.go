package stepauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterDuplicate     = "register_duplicate"
	auditEventRegisterFailure       = "register_failure"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventLoginStepUpRequired   = "login_step_up_required"
	auditEventCodeIssued            = "code_issued"
	auditEventCodeConfirm           = "code_confirm"
	auditEventQuestionsConfirm      = "security_questions_confirm"
	auditEventTOTPSetupRequested    = "totp_setup_requested"
	auditEventTOTPSuccess           = "totp_success"
	auditEventTOTPFailure           = "totp_failure"
	auditEventStepAdvanced          = "verification_step_advanced"
	auditEventIdentityFullyVerified = "identity_fully_verified"
	auditEventLogoutSession         = "logout_session"
	auditEventSessionExpired        = "session_expired"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventLocationAnomaly       = "location_anomaly_detected"
)

// AuditErrorCode is the stable machine-readable failure tag carried in
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrIdentityNotFound   AuditErrorCode = "identity_not_found"
	auditErrStepUpRequired     AuditErrorCode = "location_verification_required"
	auditErrStepNotReached     AuditErrorCode = "step_not_reached"
	auditErrTOTPNotProvisioned AuditErrorCode = "totp_not_provisioned"
	auditErrQuestionsMissing   AuditErrorCode = "questions_not_configured"
	auditErrDeviceNotFound     AuditErrorCode = "device_not_found"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    identityID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrRateLimited
	case errors.Is(err, ErrUsernameTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrIdentityNotFound
	case errors.Is(err, ErrLocationVerificationRequired):
		return auditErrStepUpRequired
	case errors.Is(err, ErrStepNotReached):
		return auditErrStepNotReached
	case errors.Is(err, ErrTOTPNotProvisioned):
		return auditErrTOTPNotProvisioned
	case errors.Is(err, ErrQuestionsNotConfigured):
		return auditErrQuestionsMissing
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrRateLimiterUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
