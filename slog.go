package feedsearch

import (
	"context"
	"log/slog"
)

var _ slog.Handler = (*slogRequestHandler)(nil)

type slogRequestHandler struct {
	h slog.Handler
}

// WithSlogRequestHandler wraps handler so that every record logged with a
// request context carries the request id.
func WithSlogRequestHandler(handler slog.Handler) slog.Handler {
	return &slogRequestHandler{handler}
}

func (h *slogRequestHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *slogRequestHandler) Handle(ctx context.Context, record slog.Record) error {
	id := GetRequestID(ctx)
	if id == "" {
		return h.h.Handle(ctx, record)
	}
	return h.h.WithAttrs([]slog.Attr{slog.String("requestID", id)}).Handle(ctx, record)
}

func (h *slogRequestHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return WithSlogRequestHandler(h.h.WithAttrs(attrs))
}

func (h *slogRequestHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return WithSlogRequestHandler(h.h.WithGroup(name))
}
