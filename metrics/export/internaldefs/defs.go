package internaldefs

import (
	"github.com/MrEthical07/venueauth"
)

type CounterDef struct {
	ID   venueauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   venueauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: venueauth.MetricLoginSuccess, Name: "venueauth_login_success_total", Help: "Successful logins that issued tokens."},
	{ID: venueauth.MetricLoginFailure, Name: "venueauth_login_failure_total", Help: "Rejected login attempts."},
	{ID: venueauth.MetricLoginLocked, Name: "venueauth_login_locked_total", Help: "Login attempts refused because the account is locked."},
	{ID: venueauth.MetricAccountLocked, Name: "venueauth_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: venueauth.MetricMFARequired, Name: "venueauth_mfa_required_total", Help: "Logins that required a second factor."},
	{ID: venueauth.MetricMFASuccess, Name: "venueauth_mfa_success_total", Help: "Successful second-factor verifications."},
	{ID: venueauth.MetricMFAFailure, Name: "venueauth_mfa_failure_total", Help: "Failed second-factor verifications."},
	{ID: venueauth.MetricOTPSent, Name: "venueauth_otp_sent_total", Help: "One-time passcodes delivered."},
	{ID: venueauth.MetricOTPDeliveryFailure, Name: "venueauth_otp_delivery_failure_total", Help: "One-time passcodes that could not be delivered."},
	{ID: venueauth.MetricGoogleLogin, Name: "venueauth_google_login_total", Help: "Google sign-ins that issued tokens."},
	{ID: venueauth.MetricGoogleAccountCreated, Name: "venueauth_google_account_created_total", Help: "Accounts created through Google sign-in."},
	{ID: venueauth.MetricLinkingRequired, Name: "venueauth_linking_required_total", Help: "Google sign-ins that required account linking."},
	{ID: venueauth.MetricAccountLinked, Name: "venueauth_account_linked_total", Help: "Google identities linked to existing accounts."},
	{ID: venueauth.MetricAccountUnlinked, Name: "venueauth_account_unlinked_total", Help: "Google identities unlinked."},
	{ID: venueauth.MetricRegistrationSuccess, Name: "venueauth_registration_success_total", Help: "Completed registrations."},
	{ID: venueauth.MetricRegistrationConflict, Name: "venueauth_registration_conflict_total", Help: "Registrations rejected as duplicates."},
	{ID: venueauth.MetricEmailVerificationSent, Name: "venueauth_email_verification_sent_total", Help: "Verification emails sent."},
	{ID: venueauth.MetricEmailVerificationSuccess, Name: "venueauth_email_verification_success_total", Help: "Successful email verifications."},
	{ID: venueauth.MetricEmailVerificationFailure, Name: "venueauth_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: venueauth.MetricPasswordResetRequest, Name: "venueauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: venueauth.MetricPasswordResetSuccess, Name: "venueauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: venueauth.MetricPasswordResetFailure, Name: "venueauth_password_reset_failure_total", Help: "Rejected password reset confirmations."},
	{ID: venueauth.MetricPhoneVerificationSuccess, Name: "venueauth_phone_verification_success_total", Help: "Verified phone numbers."},
	{ID: venueauth.MetricTokenIssued, Name: "venueauth_token_issued_total", Help: "Tokens issued and recorded."},
	{ID: venueauth.MetricTokenRevoked, Name: "venueauth_token_revoked_total", Help: "Tokens blacklisted."},
	{ID: venueauth.MetricTokenVerifyFailure, Name: "venueauth_token_verify_failure_total", Help: "Tokens that failed verification."},
	{ID: venueauth.MetricRefreshSuccess, Name: "venueauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: venueauth.MetricRefreshFailure, Name: "venueauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: venueauth.MetricLogout, Name: "venueauth_logout_total", Help: "Single-session logouts."},
	{ID: venueauth.MetricLogoutAll, Name: "venueauth_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: venueauth.MetricTokensCleaned, Name: "venueauth_tokens_cleaned_total", Help: "Token records removed by the sweeper."},
	{ID: venueauth.MetricRateLimitHit, Name: "venueauth_rate_limit_hit_total", Help: "Requests refused by a throttle."},
	{ID: venueauth.MetricBookkeepingFailure, Name: "venueauth_bookkeeping_failure_total", Help: "Best-effort writes that failed."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: venueauth.MetricValidateLatency, Name: "venueauth_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: venueauth.MetricDeliveryLatency, Name: "venueauth_notification_delivery_seconds", Help: "Time spent handing an email or SMS to the sender."},
}

// AuditDroppedName is the dispatcher backpressure counter.
const (
	AuditDroppedName = "venueauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket limits in seconds. The engine
// keeps one extra overflow bucket past the last bound.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels are the le values of each bucket, overflow included.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Cumulative turns raw per-bucket counts into running totals, padded or
// truncated to the engine bucket count. The last entry is the sample count.
func Cumulative(raw []uint64) [venueauth.HistogramBucketCount]uint64 {
	var out [venueauth.HistogramBucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
