// Package actor carries the calling internal user through request contexts.
package actor

import "context"

// User identifies the internal user acting on a batch or reviewing volumes.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// System is used for work initiated by background jobs.
var System = User{ID: 0, Email: "system"}

type ctxKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// OrSystem returns the context user or System when none is present.
func OrSystem(ctx context.Context) User {
	if u, ok := FromContext(ctx); ok {
		return u
	}
	return System
}
