package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// EnvStore resolves credential references of the form "env:VAR_NAME" from the
// process environment. Plain references without the prefix are rejected so a
// raw secret pasted into a config never round-trips through storage.
type EnvStore struct{}

func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

const envPrefix = "env:"

func (s *EnvStore) Resolve(_ context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, envPrefix) {
		return "", fmt.Errorf("credential reference %q must use the env: scheme: %w", ref, domain.ErrCredential)
	}
	name := strings.TrimPrefix(ref, envPrefix)
	if name == "" {
		return "", fmt.Errorf("credential reference has empty variable name: %w", domain.ErrCredential)
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("credential %s is not set: %w", name, domain.ErrCredential)
	}
	return value, nil
}
