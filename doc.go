// Package venueauth is the authentication and session core of the venue
// booking platform: password, phone and Google logins with email/SMS OTP
// second factors, database-backed token revocation, OAuth account linking and
// login lockout.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// venueauth is the public surface. It exposes [Engine], [Builder], [Config],
// the three core services ([TokenService], [CredentialService], [OtpService])
// and the collaborator interfaces ([AccountStore], [TokenStore],
// [NotificationSender], [OAuthProvider]). Redis adapters, throttles and audit
// dispatch live under internal/ and are never exported. Concrete backends live
// in sub-packages: gormstore, notify, google.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or signing secrets in its public API.
//   - Perform I/O outside of Engine and service methods (construction via Builder
//     is allocation-only until Build).
//   - Import any sub-package that re-imports venueauth (no import cycles).
//   - Let bookkeeping failures (attempt counters, audit) change the outcome of
//     an authentication decision.
package venueauth
