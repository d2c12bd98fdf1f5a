package config

import "context"

// SecretProvider resolves secret paths to plaintext values. Only found keys
// appear in the returned map.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
