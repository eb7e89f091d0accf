package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// OpenerFunc opens a store for a parsed locator.
type OpenerFunc func(ctx context.Context, u *url.URL) (BlobStore, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]OpenerFunc{}
)

// Register makes a locator scheme available to OpenLocator. It panics if the
// scheme is registered twice.
func Register(scheme string, fn OpenerFunc) {
	openersMu.Lock()
	defer openersMu.Unlock()

	if _, dup := openers[scheme]; dup {
		panic("blobstore: Register called twice for scheme " + scheme)
	}
	openers[scheme] = fn
}

// Schemes returns the sorted list of registered remote schemes.
func Schemes() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()

	s := make([]string, 0, len(openers))
	for k := range openers {
		s = append(s, k)
	}
	sort.Strings(s)
	return s
}

// OpenLocator resolves a locator URL to a store.
func OpenLocator(ctx context.Context, locator string) (BlobStore, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("blobstore: parse locator %q: %w", locator, err)
	}

	switch u.Scheme {
	case "memory":
		return Memory(u.Host + u.Path), nil
	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("blobstore: locator %q has no path", locator)
		}
		return NewLocalStore(u.Path), nil
	}

	openersMu.RLock()
	fn, ok := openers[u.Scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blobstore: unsupported locator scheme %q", u.Scheme)
	}
	return fn(ctx, u)
}

// SplitBucket splits a locator into bucket and key prefix, taking the bucket
// from the host (s3://bucket/prefix) or, when hostIsEndpoint is set, from the
// first path element (minio://host/bucket/prefix).
func SplitBucket(u *url.URL, hostIsEndpoint bool) (bucket, prefix string) {
	p := strings.Trim(u.Path, "/")
	if !hostIsEndpoint {
		return u.Host, p
	}
	bucket, prefix, _ = strings.Cut(p, "/")
	return bucket, prefix
}
