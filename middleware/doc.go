// Package middleware exposes HTTP middleware around venueauth.Engine.
//
// # Guards
//
//   - [RequireAccess] validates the bearer access token against the token
//     store and injects the [venueauth.TokenPayload] into the request context.
//   - [RequireRole] rejects requests whose payload carries another role.
//   - [ClientInfo] copies the caller IP, User-Agent and request id into the
//     context so login flows and audit events can record them.
//
// This package translates HTTP semantics into Engine calls and never parses
// tokens itself.
package middleware
