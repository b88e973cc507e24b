// Package storage provides the durable key-value primitive room state is
// persisted through: one opaque blob per room, with a transactional
// read-check-write operation for conditional mutations.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no blob exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// UpdateFunc transforms the current blob for a key into its replacement.
// old is nil when the key does not exist yet. Returning write=false makes
// the update a no-op without error; this is how conditional transitions
// (auto-reveal re-checks) decline to fire.
type UpdateFunc func(old []byte) (next []byte, write bool, err error)

// Store is a durable blob store keyed by room id.
//
// Update must be atomic with respect to concurrent Updates on the same key:
// the blob passed to fn is re-read inside the transaction, so a plain
// read-then-write race cannot interleave between the check and the write.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
