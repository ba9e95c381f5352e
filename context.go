package venueauth

import "context"

type ctxKey uint8

const (
	ctxClientIP ctxKey = iota
	ctxUserAgent
	ctxCorrelationID
)

// WithClientIP records the caller address. Login flows store it in the
// failed-attempt map and on the account.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxClientIP, ip)
}

// WithUserAgent records the caller's User-Agent header.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, ctxUserAgent, userAgent)
}

// WithCorrelationID tags log lines and audit events with a request id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, id)
}

// CorrelationIDFromContext returns the request id, or "" when unset.
func CorrelationIDFromContext(ctx context.Context) string {
	return ctxString(ctx, ctxCorrelationID)
}

func clientIPFromContext(ctx context.Context) string  { return ctxString(ctx, ctxClientIP) }
func userAgentFromContext(ctx context.Context) string { return ctxString(ctx, ctxUserAgent) }

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}
