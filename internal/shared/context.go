package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ActorFromContext extracts the acting operator from the request session.
// Returns nil when no operator is logged in.
func ActorFromContext(ctx context.Context) *Actor {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return nil
	}
	return sess.Actor()
}
