// Package stores provides Redis-backed, short-lived records for the
// authentication flows: one-time passcodes, account-linking token mirrors and
// password-reset tokens.
//
// # Design
//
// Every record lives under "<prefix>:<id>" with a TTL, so expiry is enforced
// by Redis rather than by application timers. Consume operations are atomic:
// OTP and linking records use WATCH/MULTI compare-and-delete with retry on
// contention, reset tokens use GETDEL. A record is therefore accepted at most
// once even under concurrent requests.
//
// # What this package must NOT do
//
//   - Import venueauth or any sibling internal package.
//   - Log or expose stored secrets.
//   - Compare secrets with non-constant-time equality.
package stores
