// Package password hashes and verifies account passwords with bcrypt and
// checks candidate passwords against a strength policy.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the policy check only. Whether
// an account may log in with a password is decided by the credential service.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other venueauth package.
//   - Log plaintext passwords.
package password
