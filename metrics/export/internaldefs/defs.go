package internaldefs

import (
	identity "github.com/clinicore/identity"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: identity.MetricRegisterSuccess, Name: "identity_register_success_total", Help: "Successful registrations."},
	{ID: identity.MetricRegisterFailure, Name: "identity_register_failure_total", Help: "Rejected or failed registrations."},
	{ID: identity.MetricRegisterCompensated, Name: "identity_register_compensated_total", Help: "Accounts removed after the verification mail failed."},
	{ID: identity.MetricEmailVerificationSuccess, Name: "identity_email_verification_success_total", Help: "Successful email verifications."},
	{ID: identity.MetricEmailVerificationFailure, Name: "identity_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: identity.MetricVerificationResent, Name: "identity_verification_resent_total", Help: "Verification codes sent again."},
	{ID: identity.MetricLoginChallengeIssued, Name: "identity_login_challenge_issued_total", Help: "Login codes mailed after a correct password."},
	{ID: identity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Failed password logins."},
	{ID: identity.MetricAccountLocked, Name: "identity_account_locked_total", Help: "Accounts locked by the failure threshold."},
	{ID: identity.MetricAccountUnlocked, Name: "identity_account_unlocked_total", Help: "Accounts unlocked by a password reset."},
	{ID: identity.MetricLogin2FASuccess, Name: "identity_login_2fa_success_total", Help: "Successful second-factor confirmations."},
	{ID: identity.MetricLogin2FAFailure, Name: "identity_login_2fa_failure_total", Help: "Failed second-factor confirmations."},
	{ID: identity.MetricRefreshSuccess, Name: "identity_refresh_success_total", Help: "Successful token refreshes."},
	{ID: identity.MetricRefreshFailure, Name: "identity_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: identity.MetricLogout, Name: "identity_logout_total", Help: "Logouts."},
	{ID: identity.MetricPasswordResetRequest, Name: "identity_password_reset_request_total", Help: "Password reset codes mailed."},
	{ID: identity.MetricPasswordResetSuccess, Name: "identity_password_reset_success_total", Help: "Completed password resets."},
	{ID: identity.MetricPasswordResetFailure, Name: "identity_password_reset_failure_total", Help: "Failed password resets."},
	{ID: identity.MetricRateLimitHit, Name: "identity_rate_limit_hit_total", Help: "Requests denied by a throttle."},
	{ID: identity.MetricMailFailure, Name: "identity_mail_failure_total", Help: "Codes that could not be mailed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: identity.MetricLoginLatency, Name: "identity_login_latency_seconds", Help: "Password login latency."},
}

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "identity_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped under dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// NormalizeBuckets copies raw into a fixed-width array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
