package logging

import (
	"context"
	"time"
)

type sessionKey struct{}

// WithSession stores a session id on the context so background work started
// for a turn can be correlated in the logs.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session id stored by WithSession, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// ForContext returns l scoped with the context's session id, if any.
func (l *Logger) ForContext(ctx context.Context) *Logger {
	if id := SessionFrom(ctx); id != "" {
		return l.WithField("session", id)
	}
	return l
}

// DetachContext keeps the parent's values but drops its cancellation.
// Turn-log writes use it so they finish after the request context ends.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout is DetachContext with its own deadline.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
