package identity

import "context"

type ctxKey int

const (
	clientIPKey ctxKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP throttling and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the HTTP User-Agent to ctx for audit records.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPKey)
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentKey)
}
