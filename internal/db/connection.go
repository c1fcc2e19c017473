package db

import "context"

// connectionKey is an unexported type to prevent collisions with context keys from other packages.
type connectionKey struct{}

// WithConnection returns a context whose warehouse calls run on the named connection.
// Each build worker carries its own name, so workers never share a session.
func WithConnection(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, connectionKey{}, name)
}

// ConnectionFrom returns the connection name carried by ctx, or DefaultConnection.
func ConnectionFrom(ctx context.Context) string {
	if name, ok := ctx.Value(connectionKey{}).(string); ok && name != "" {
		return name
	}
	return DefaultConnection
}
