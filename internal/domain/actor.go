package domain

import "github.com/google/uuid"

// Actor identifies the authenticated user performing a mutation. It is
// produced by the (out of scope) authentication layer and passed explicitly
// into every engine call; the engine never consults ambient state.
type Actor struct {
	UserID    int64
	SessionID uuid.UUID
}

// SystemActor marks mutations performed by operational tooling rather than
// an interactive user, such as roster ingestion and seeding.
func SystemActor() Actor {
	return Actor{UserID: 0, SessionID: uuid.Nil}
}

// Known reports whether the actor carries a real user identity.
func (a Actor) Known() bool { return a.UserID != 0 }
