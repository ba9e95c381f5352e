// Package limiters provides Redis-backed fixed-window throttles for flows that
// send messages on a caller's behalf: verification e-mail resends, password
// reset requests and phone verification codes.
//
// All limiters are nil-safe: calling any method on a nil receiver allows the
// request.
//
// # What this package must NOT do
//
//   - Import venueauth or any sibling internal package.
//   - Decide consequences beyond counting. Callers map ErrRateLimited.
package limiters
