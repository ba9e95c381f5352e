// Package jwt signs and parses the HMAC tokens used by venueauth.
//
// Tokens are grouped into signing categories (session, verification, reset,
// invitation, linking, mfa). Every category is keyed by its own secret and the
// category name is written into the "kid" header, so a token minted for one
// category never parses under another even if a caller mixes them up.
//
// # What this package must NOT do
//
//   - Touch any store. Revocation and single-use checks belong to callers.
//   - Accept algorithms other than HS256.
package jwt
