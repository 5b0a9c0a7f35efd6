package dispatch

import "context"

type sessionKey struct{}

// WithSession stores the caller's bearer session token on ctx. The relay call
// is authenticated with it.
func WithSession(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionKey{}, token)
}

// SessionFromContext returns the session token, if any.
func SessionFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionKey{}).(string)
	return token, ok && token != ""
}
