package internaldefs

import (
	stepauth "github.com/lsasec/stepauth"
)

// CounterDef binds a counter ID to its exported name and help text.
// Both exporters iterate the same table so the two surfaces never drift.
type CounterDef struct {
	ID   stepauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order.
var CounterDefs = []CounterDef{
	{ID: stepauth.MetricRegisterSuccess, Name: "stepauth_register_success_total", Help: "Successful registrations."},
	{ID: stepauth.MetricRegisterDuplicate, Name: "stepauth_register_duplicate_total", Help: "Registrations rejected as duplicate username."},
	{ID: stepauth.MetricLoginSuccess, Name: "stepauth_login_success_total", Help: "Successful login attempts."},
	{ID: stepauth.MetricLoginFailure, Name: "stepauth_login_failure_total", Help: "Failed login attempts."},
	{ID: stepauth.MetricLoginRateLimited, Name: "stepauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: stepauth.MetricLoginStepUpRequired, Name: "stepauth_login_step_up_required_total", Help: "Logins deferred for location verification."},
	{ID: stepauth.MetricCodeIssued, Name: "stepauth_code_issued_total", Help: "One-time codes issued."},
	{ID: stepauth.MetricCodeAccepted, Name: "stepauth_code_accepted_total", Help: "One-time codes accepted."},
	{ID: stepauth.MetricCodeMismatch, Name: "stepauth_code_mismatch_total", Help: "One-time code guesses that did not match."},
	{ID: stepauth.MetricCodeExpired, Name: "stepauth_code_expired_total", Help: "One-time code confirmations past the TTL."},
	{ID: stepauth.MetricCodeAttemptsExceeded, Name: "stepauth_code_attempts_exceeded_total", Help: "One-time codes invalidated by the attempt cap."},
	{ID: stepauth.MetricQuestionsSuccess, Name: "stepauth_questions_success_total", Help: "Successful security-question verifications."},
	{ID: stepauth.MetricQuestionsFailure, Name: "stepauth_questions_failure_total", Help: "Failed security-question verifications."},
	{ID: stepauth.MetricTOTPSuccess, Name: "stepauth_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: stepauth.MetricTOTPFailure, Name: "stepauth_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: stepauth.MetricIdentityFullyVerified, Name: "stepauth_identity_fully_verified_total", Help: "Identities that completed every verification step."},
	{ID: stepauth.MetricRateLimitHit, Name: "stepauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: stepauth.MetricSessionCreated, Name: "stepauth_session_created_total", Help: "Created sessions."},
	{ID: stepauth.MetricSessionDeleted, Name: "stepauth_session_deleted_total", Help: "Deleted sessions."},
	{ID: stepauth.MetricSessionSwept, Name: "stepauth_session_swept_total", Help: "Expired sessions removed by the sweeper."},
	{ID: stepauth.MetricDeviceRegistered, Name: "stepauth_device_registered_total", Help: "First-contact device registrations."},
	{ID: stepauth.MetricLocationAnomaly, Name: "stepauth_location_anomaly_total", Help: "Logins from a country unseen in the risk window."},
}
