// Package session persists per-shopper checkout state such as pending transactions,
// processed markers and last-known totals.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultPrefix namespaces every key written by the checkout engine.
const DefaultPrefix = "checkout"

// Kind groups keys of the same shape under a scope.
type Kind string

const (
	KindPending   Kind = "pending"
	KindProcessed Kind = "processed"
	KindTotals    Kind = "totals"
)

// ErrInvalidKey is returned when a key cannot be built from empty parts.
var ErrInvalidKey = errors.New("session: invalid key")

// Store is a scoped key/value store with per-entry expiry.
// Get reports found=false for absent or expired entries.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

// Keyspace builds keys of the form {prefix}:{scope}:{kind}[:{id}].
type Keyspace struct {
	Prefix string
}

// Key returns the storage key for the given scope, kind and optional id.
func (k Keyspace) Key(scope string, kind Kind, id string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || kind == "" {
		return "", ErrInvalidKey
	}
	prefix := strings.TrimSpace(k.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	parts := []string{prefix, scope, string(kind)}
	if id = strings.TrimSpace(id); id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, ":"), nil
}
