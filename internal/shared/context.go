package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the cookie session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the cookie session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SessionID returns the id of the cookie session in ctx, or "".
func SessionID(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess != nil && !sess.destroyed {
		return sess.ID
	}
	return ""
}
