// Package auth carries the acting user and session through the context.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"orgledger/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a new context that carries the acting user.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting user from the context, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	value := ctx.Value(actorKey)
	if value == nil {
		return domain.Actor{}, false
	}
	actor, ok := value.(domain.Actor)
	if !ok || !actor.Known() {
		return domain.Actor{}, false
	}
	return actor, true
}

// RequireActor returns the acting user or an error when the context has no
// authenticated actor attached.
func RequireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("no acting user in context")
	}
	return actor, nil
}

// NewSession builds an actor for userID under a fresh session id.
func NewSession(userID int64) domain.Actor {
	return domain.Actor{UserID: userID, SessionID: uuid.New()}
}
