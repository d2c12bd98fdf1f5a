package core

import (
	"context"

	"lexledger/internal/types"
)

// Authenticator resolves a bearer token to an Actor. Implementations return
// an AppError with an auth_ code for unknown, malformed or revoked tokens.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// CronVerifier checks the shared secret presented by the external scheduler.
type CronVerifier interface {
	Verify(presented string) bool
}
