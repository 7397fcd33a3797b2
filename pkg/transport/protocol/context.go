package protocol

import "context"

type contextKey string

const clientIDKey contextKey = "client_id"

// WithClientID stores the id of the connection a message arrived on.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext returns the id stored by WithClientID.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
