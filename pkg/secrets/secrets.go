// Package secrets resolves named credentials and materializes provider keys
// into the process environment at worker start.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultDir is where container runtimes mount secrets.
const DefaultDir = "/run/secrets"

// ErrNotFound is returned when no store holds the named secret.
var ErrNotFound = errors.New("secret not found")

// Store looks up a secret by name.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// FileStore reads one file per secret from a directory.
type FileStore struct {
	Dir string
}

func (s FileStore) GetSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}

	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		dir = DefaultDir
	}

	payload, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(payload)), nil
}

// EnvStore reads secrets from environment variables. The name is upper-cased
// and every non-alphanumeric character becomes an underscore, so
// "bing-api-key" reads BING_API_KEY.
type EnvStore struct{}

func (EnvStore) GetSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}

	value, ok := os.LookupEnv(EnvName(name))
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return strings.TrimSpace(value), nil
}

// EnvName maps a secret name to its environment variable.
func EnvName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Chain tries each store in order and returns the first hit. Errors other
// than ErrNotFound stop the search.
type Chain []Store

func (c Chain) GetSecret(ctx context.Context, name string) (string, error) {
	for _, store := range c {
		value, err := store.GetSecret(ctx, name)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Cached memoizes successful lookups for the life of the process.
type Cached struct {
	store Store

	mu     sync.Mutex
	values map[string]string
}

// NewCached wraps store.
func NewCached(store Store) *Cached {
	return &Cached{store: store, values: make(map[string]string)}
}

func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, ok := c.values[name]; ok {
		return value, nil
	}

	value, err := c.store.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	c.values[name] = value
	return value, nil
}

// Materialize loads a JSON object secret and exports every entry as an
// environment variable. It returns the exported variable names, sorted.
func Materialize(ctx context.Context, store Store, name string, log *slog.Logger) ([]string, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "secrets")

	raw, err := store.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode secret %s: expected JSON object of strings: %w", name, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if err := os.Setenv(key, values[key]); err != nil {
			return nil, fmt.Errorf("export %s: %w", key, err)
		}
	}

	log.Info("Secrets materialized", "secret", name, "keys", keys)
	return keys, nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("secret name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid secret name %q", name)
	}
	return nil
}
