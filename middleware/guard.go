package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/venueauth"
)

type payloadContextKey struct{}

// PayloadFromContext returns the payload stored by RequireAccess.
func PayloadFromContext(ctx context.Context) (*venueauth.TokenPayload, bool) {
	p, ok := ctx.Value(payloadContextKey{}).(*venueauth.TokenPayload)
	return p, ok
}

// RequireAccess rejects requests without a valid, non-revoked access token.
func RequireAccess(engine *venueauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			payload, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				status := venueauth.HTTPStatus(err)
				if status != http.StatusInternalServerError {
					status = http.StatusUnauthorized
				}
				http.Error(w, venueauth.PublicMessage(err), status)
				return
			}

			ctx := context.WithValue(r.Context(), payloadContextKey{}, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only payloads whose RoleID is one of roleIDs. It must
// run after RequireAccess.
func RequireRole(roleIDs ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		allowed[id] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PayloadFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[p.RoleID]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
