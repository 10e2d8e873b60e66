package internal

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the id the HTTP layer minted for this
// request, so audit log lines can be correlated back to it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
