package secrets

import (
	"context"
	"errors"
)

// ErrSecretNotFound is wrapped when no provider holds a secret.
var ErrSecretNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// GetSecret returns the value of name, or an error wrapping
	// ErrSecretNotFound when the backend does not hold it.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name returns the provider name used in logs ("env", "file").
	Name() string
}
