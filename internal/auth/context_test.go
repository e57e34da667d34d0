package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"orgledger/internal/domain"
)

func TestActorRoundTrip(t *testing.T) {
	actor := NewSession(7)
	if actor.SessionID == uuid.Nil {
		t.Fatalf("NewSession must mint a session id")
	}

	ctx := WithActor(context.Background(), actor)
	got, ok := ActorFromContext(ctx)
	if !ok {
		t.Fatalf("actor not found in context")
	}
	if got != actor {
		t.Fatalf("actor changed in transit: %+v", got)
	}
}

func TestActorFromContext_MissingOrSystem(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatalf("empty context must not yield an actor")
	}

	// The system actor is not an authenticated identity.
	ctx := WithActor(context.Background(), domain.SystemActor())
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("system actor must not count as authenticated")
	}
	if _, err := RequireActor(ctx); err == nil {
		t.Fatalf("RequireActor must fail without a real user")
	}
}
