package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithSessionID attaches a session identifier to the context logger so all
// work done on behalf of one authenticated session correlates in the logs.
func WithSessionID(ctx context.Context, sid string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("sid", sid))
}
