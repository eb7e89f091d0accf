package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/segvis/blobstore"
	"github.com/hupe1980/segvis/codec"
)

var (
	// ErrNotFound is returned by Get for unknown keys.
	ErrNotFound = blobstore.ErrNotFound

	// ErrConcurrentModification is returned when the stored version differs
	// from the expected one.
	ErrConcurrentModification = errors.New("statestore: concurrent modification")
)

// Store holds versioned documents.
type Store interface {
	// Get returns the document under key and its version.
	Get(ctx context.Context, key string) ([]byte, int64, error)
	// Put replaces the document if its version is expected (0 when the key
	// must not exist yet) and returns the new version.
	Put(ctx context.Context, key string, data []byte, expected int64) (int64, error)
}

// Save encodes v with codec.Default and stores it.
func Save(ctx context.Context, s Store, key string, v any, expected int64) (int64, error) {
	data, err := codec.Default.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("statestore: encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data, expected)
}

// Load decodes the document under key into v.
func Load(ctx context.Context, s Store, key string, v any) (int64, error) {
	data, version, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := codec.Default.Unmarshal(data, v); err != nil {
		return version, fmt.Errorf("statestore: decode %s: %w", key, err)
	}
	return version, nil
}
