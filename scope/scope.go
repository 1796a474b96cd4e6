// Package scope carries user and project identity through context, so
// emission sites deep in a call stack don't have to thread them
// explicitly.
package scope

import "context"

type ctxKey int

const (
	keyUser ctxKey = iota
	keyProject
)

// WithUser returns a context carrying the user ID.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, keyUser, userID)
}

// WithProject returns a context carrying the project ID.
func WithProject(ctx context.Context, projectID string) context.Context {
	if projectID == "" {
		return ctx
	}
	return context.WithValue(ctx, keyProject, projectID)
}

// Capture extracts user and project from the context. Either may be empty.
func Capture(ctx context.Context) (userID, projectID string) {
	if v, ok := ctx.Value(keyUser).(string); ok {
		userID = v
	}
	if v, ok := ctx.Value(keyProject).(string); ok {
		projectID = v
	}
	return userID, projectID
}
