package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexledger/internal/types"
)

type mockKeyStore struct {
	keys      []*types.APIKey
	touched   []string
	createErr error
	findErr   error
	touchErr  error
}

func (m *mockKeyStore) Create(_ context.Context, key *types.APIKey) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.keys = append(m.keys, key)
	return nil
}

func (m *mockKeyStore) FindByPrefix(_ context.Context, prefix string) ([]*types.APIKey, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*types.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockKeyStore) TouchLastUsed(_ context.Context, id string) error {
	m.touched = append(m.touched, id)
	return m.touchErr
}

// plainHasher stores keys reversibly so tests avoid bcrypt's cost.
type plainHasher struct{}

func (plainHasher) CompareHashAndPassword(hashed, plaintext string) error {
	if hashed != "h:"+plaintext {
		return errors.New("mismatch")
	}
	return nil
}

func (plainHasher) GenerateFromPassword(plaintext string) (string, error) {
	return "h:" + plaintext, nil
}

func newTestAuthenticator(store *mockKeyStore, serviceKey string) *KeyAuthenticator {
	a := NewKeyAuthenticator(store, types.SecretString(serviceKey), nil)
	a.hasher = plainHasher{}
	return a
}

func TestIssueAndResolve(t *testing.T) {
	store := &mockKeyStore{}
	a := newTestAuthenticator(store, "")
	ctx := context.Background()

	plaintext, key, err := a.Issue(ctx, "acct_1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, KeyTag))
	assert.Less(t, len(plaintext), 72, "bcrypt truncates input beyond 72 bytes")
	assert.Equal(t, plaintext[:len(KeyTag)+keyPrefixLength], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, "lk_live_x", "sanity")
	assert.True(t, strings.HasPrefix(key.ID, "key_"))

	actor, err := a.ResolveToken(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, types.ActorTypeUser, actor.Type)
	assert.Equal(t, "acct_1", actor.AccountID)
	assert.Equal(t, key.ID, actor.KeyID)
	assert.Equal(t, []string{key.ID}, store.touched)
}

func TestResolveToken_ServiceKey(t *testing.T) {
	a := newTestAuthenticator(&mockKeyStore{}, "svc-secret-123")

	actor, err := a.ResolveToken(context.Background(), "svc-secret-123")
	require.NoError(t, err)
	assert.True(t, actor.IsSystem())
	assert.Empty(t, actor.AccountID)
}

func TestResolveToken_Failures(t *testing.T) {
	revokedAt := time.Now()
	store := &mockKeyStore{keys: []*types.APIKey{
		{ID: "key_revoked", AccountID: "acct_1", KeyPrefix: "lk_live_AAAAAAAA", KeyHash: "h:lk_live_AAAAAAAArevoked", RevokedAt: &revokedAt},
	}}
	a := newTestAuthenticator(store, "svc")

	tests := []struct {
		name  string
		token string
		code  types.ErrorCode
	}{
		{"malformed", "not-a-key", types.ErrCodeAuthTokenInvalid},
		{"unknown key", "lk_live_ZZZZZZZZsomething", types.ErrCodeAuthTokenInvalid},
		{"wrong secret for known prefix", "lk_live_AAAAAAAAwrong", types.ErrCodeAuthTokenInvalid},
		{"revoked", "lk_live_AAAAAAAArevoked", types.ErrCodeAuthTokenRevoked},
		{"near miss on service key", "svc ", types.ErrCodeAuthTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ResolveToken(context.Background(), tt.token)
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
	assert.Empty(t, store.touched)
}

func TestResolveToken_TouchFailureIsNonFatal(t *testing.T) {
	store := &mockKeyStore{touchErr: errors.New("db down")}
	a := newTestAuthenticator(store, "")
	ctx := context.Background()

	plaintext, _, err := a.Issue(ctx, "acct_1")
	require.NoError(t, err)

	actor, err := a.ResolveToken(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", actor.AccountID)
}

func TestResolveToken_StoreError(t *testing.T) {
	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to query API keys", errors.New("timeout"))
	a := newTestAuthenticator(&mockKeyStore{findErr: dbErr}, "")

	_, err := a.ResolveToken(context.Background(), "lk_live_AAAAAAAAxyz")
	assert.ErrorIs(t, err, dbErr)
}

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := bcryptHasher{}
	hash, err := h.GenerateFromPassword("lk_live_abcdefgh12345")
	require.NoError(t, err)
	assert.NoError(t, h.CompareHashAndPassword(hash, "lk_live_abcdefgh12345"))
	assert.Error(t, h.CompareHashAndPassword(hash, "lk_live_abcdefgh12346"))
}

func TestCronVerifier(t *testing.T) {
	v := NewCronVerifier("cron-s3cret")
	assert.True(t, v.Verify("cron-s3cret"))
	assert.False(t, v.Verify("cron-s3cre"))
	assert.False(t, v.Verify(""))

	unset := NewCronVerifier("")
	assert.False(t, unset.Verify(""))
	assert.False(t, unset.Verify("anything"))
}
