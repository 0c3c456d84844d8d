package remote

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// Authenticator provides authentication for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry.
	// Empty credentials mean anonymous access.
	Authenticate(registry string) (username, password string, err error)
}

// DefaultAuthenticator uses the system keychain (like Docker).
type DefaultAuthenticator struct {
	keychain authn.Keychain
}

func NewDefaultAuthenticator() *DefaultAuthenticator {
	return &DefaultAuthenticator{keychain: authn.DefaultKeychain}
}

// Authenticate returns basic credentials from the keychain. Identity tokens
// are not representable here and resolve to anonymous.
func (a *DefaultAuthenticator) Authenticate(registry string) (string, string, error) {
	reg, err := name.NewRegistry(registry)
	if err != nil {
		return "", "", fmt.Errorf("invalid registry %q: %w", registry, err)
	}

	auth, err := a.keychain.Resolve(reg)
	if err != nil {
		return "", "", fmt.Errorf("resolve credentials for %s: %w", registry, err)
	}

	cfg, err := auth.Authorization()
	if err != nil {
		return "", "", fmt.Errorf("credentials for %s: %w", registry, err)
	}
	return cfg.Username, cfg.Password, nil
}

// StaticAuthenticator returns the same credentials for every registry.
type StaticAuthenticator struct {
	Username string
	Password string
}

func (a StaticAuthenticator) Authenticate(string) (string, string, error) {
	return a.Username, a.Password, nil
}
