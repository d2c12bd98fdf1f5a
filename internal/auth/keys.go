// Package auth resolves bearer credentials to actors. End users present an
// account API key; trusted backends present the service-role key; the
// external scheduler presents the cron secret.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"lexledger/internal/types"
)

const (
	// KeyTag starts every account API key.
	KeyTag = "lk_live_"

	// keySecretLength is the number of random bytes in a key. The encoded
	// key (8-byte tag + 43 base64 chars) stays under bcrypt's 72-byte limit.
	keySecretLength = 32

	// keyPrefixLength is how many encoded characters after the tag are
	// stored in clear for lookup.
	keyPrefixLength = 8

	keyBcryptCost = bcrypt.DefaultCost
)

// KeyStore is the persistence the authenticator needs.
type KeyStore interface {
	Create(ctx context.Context, key *types.APIKey) error
	FindByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// Hasher abstracts bcrypt for testability.
type Hasher interface {
	CompareHashAndPassword(hashed, plaintext string) error
	GenerateFromPassword(plaintext string) (string, error)
}

type bcryptHasher struct{}

func (bcryptHasher) CompareHashAndPassword(hashed, plaintext string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext))
}

func (bcryptHasher) GenerateFromPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), keyBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// KeyAuthenticator issues account API keys and resolves bearer tokens.
type KeyAuthenticator struct {
	keys       KeyStore
	serviceKey types.SecretString
	hasher     Hasher
	logger     *slog.Logger
}

// NewKeyAuthenticator creates a KeyAuthenticator. An unset serviceKey
// disables system access.
func NewKeyAuthenticator(keys KeyStore, serviceKey types.SecretString, logger *slog.Logger) *KeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyAuthenticator{
		keys:       keys,
		serviceKey: serviceKey,
		hasher:     bcryptHasher{},
		logger:     logger,
	}
}

// Issue creates a new API key for accountID and returns the plaintext,
// which is shown exactly once and never stored.
func (a *KeyAuthenticator) Issue(ctx context.Context, accountID string) (string, *types.APIKey, error) {
	randomBytes := make([]byte, keySecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("crypto/rand read failed: %w", err)
	}
	plaintext := KeyTag + base64.RawURLEncoding.EncodeToString(randomBytes)

	hash, err := a.hasher.GenerateFromPassword(plaintext)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash failed: %w", err)
	}

	key := &types.APIKey{
		ID:        "key_" + uuid.New().String(),
		AccountID: accountID,
		KeyPrefix: keyPrefix(plaintext),
		KeyHash:   hash,
	}
	if err := a.keys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// ResolveToken maps a bearer token to an actor. The service-role key yields
// a system actor; an account API key yields a user actor bound to its
// account.
func (a *KeyAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if a.serviceKey.IsSet() && subtle.ConstantTimeCompare([]byte(token), []byte(a.serviceKey.Unmask())) == 1 {
		return &types.Actor{ID: "service", Type: types.ActorTypeSystem}, nil
	}

	prefix := keyPrefix(token)
	if prefix == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed API key", nil)
	}

	candidates, err := a.keys.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	for _, key := range candidates {
		if a.hasher.CompareHashAndPassword(key.KeyHash, token) != nil {
			continue
		}
		if key.RevokedAt != nil {
			return nil, types.NewAppError(types.ErrCodeAuthTokenRevoked, "API key has been revoked", nil)
		}
		if err := a.keys.TouchLastUsed(ctx, key.ID); err != nil {
			a.logger.WarnContext(ctx, "failed to update API key last_used_at",
				"key_id", key.ID,
				"error", err,
			)
		}
		return &types.Actor{
			ID:        key.AccountID,
			Type:      types.ActorTypeUser,
			AccountID: key.AccountID,
			KeyID:     key.ID,
		}, nil
	}

	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown API key", nil)
}

// keyPrefix returns the stored lookup prefix of a key, or "" if the token
// does not look like an account API key.
func keyPrefix(token string) string {
	if len(token) < len(KeyTag)+keyPrefixLength || token[:len(KeyTag)] != KeyTag {
		return ""
	}
	return token[:len(KeyTag)+keyPrefixLength]
}

// CronVerifier checks the shared secret the external scheduler sends.
type CronVerifier struct {
	secret types.SecretString
}

// NewCronVerifier creates a CronVerifier. An unset secret rejects all
// requests.
func NewCronVerifier(secret types.SecretString) *CronVerifier {
	return &CronVerifier{secret: secret}
}

// Verify reports whether presented matches the configured secret in
// constant time.
func (v *CronVerifier) Verify(presented string) bool {
	if !v.secret.IsSet() || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(v.secret.Unmask())) == 1
}
