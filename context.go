package feedsearch

import (
	"context"

	"github.com/google/uuid"
)

type ctxKeyRequestID struct{}

func ctxWithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, uuid.NewString())
}

// GetRequestID returns the request id stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	if !ok {
		return ""
	}
	return id
}
