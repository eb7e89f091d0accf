package statestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/segvis/blobstore"
)

// BlobStore keeps documents as "<key>.json" with the version in
// "<key>.version".
type BlobStore struct {
	bs blobstore.BlobStore
	mu sync.Mutex
}

// NewBlobStore wraps bs.
func NewBlobStore(bs blobstore.BlobStore) *BlobStore {
	return &BlobStore{bs: bs}
}

// Get implements Store.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.version(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if version == 0 {
		return nil, 0, fmt.Errorf("statestore: %s: %w", key, ErrNotFound)
	}
	data, err := blobstore.Get(ctx, s.bs, key+".json")
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

// Put implements Store.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.version(ctx, key)
	if err != nil {
		return 0, err
	}
	if current != expected {
		return 0, fmt.Errorf("%w: %s is at version %d, expected %d", ErrConcurrentModification, key, current, expected)
	}

	if err := s.bs.Put(ctx, key+".json", data); err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.bs.Put(ctx, key+".version", []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BlobStore) version(ctx context.Context, key string) (int64, error) {
	data, err := blobstore.Get(ctx, s.bs, key+".version")
	if errors.Is(err, blobstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("statestore: corrupt version of %s: %w", key, err)
	}
	return v, nil
}
