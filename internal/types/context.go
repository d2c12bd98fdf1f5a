package types

import (
	"context"
)

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	// ActorTypeUser is an end user authenticated with an account API key.
	ActorTypeUser ActorType = "user"
	// ActorTypeSystem is a trusted backend caller holding the service key.
	ActorTypeSystem ActorType = "system"
	// ActorTypeCron is the external scheduler holding the cron secret.
	ActorTypeCron ActorType = "cron"
)

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID        string
	Type      ActorType
	AccountID string // empty for system and cron actors
	KeyID     string // API key that authenticated a user actor
}

// IsSystem reports whether the actor may act on any account.
func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystem
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
