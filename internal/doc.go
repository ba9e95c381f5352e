// Package internal contains helper utilities that are private to venueauth,
// chiefly secure random code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: Redis-backed fixed-window throttles for resend flows
//   - logging: zap logger construction
//   - stores: Redis adapters for OTPs, linking mirrors and reset tokens
//
// # What this package must NOT do
//
//   - Export types that appear in the public venueauth API.
//   - Be imported by any package outside the venueauth module.
package internal
