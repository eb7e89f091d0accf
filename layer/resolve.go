package layer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/segvis/blobstore"
	"github.com/hupe1980/segvis/codec"
	"github.com/hupe1980/segvis/geometry"
)

// InfoName is the blob describing a source.
const InfoName = "info"

// Volume is a resolved volume source.
type Volume struct {
	Locator string
	// Info is the raw content of the info blob, if present.
	Info []byte
}

// GeometrySource is a resolved mesh or skeleton source.
type GeometrySource struct {
	Locator     string               `json:"locator"`
	Kind        geometry.Kind        `json:"kind"`
	Fragments   uint32               `json:"fragments,omitempty"`
	Compression geometry.Compression `json:"compression,omitempty"`
}

// Resolver locates the data sources named in a layer state. Methods may be
// called concurrently.
type Resolver interface {
	ResolveVolume(ctx context.Context, locator string) (*Volume, error)
	ResolveMesh(ctx context.Context, locator string) (*GeometrySource, error)
	ResolveSkeleton(ctx context.Context, locator string) (*GeometrySource, error)
}

// ResolveError reports a data source that could not be resolved.
type ResolveError struct {
	Kind    string
	Locator string
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("layer: resolve %s %q: %v", e.Kind, e.Locator, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// StatusSink receives user-facing status messages.
type StatusSink interface {
	Status(layer string, err error)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(layer string, err error)

// Status implements StatusSink.
func (f StatusFunc) Status(layer string, err error) { f(layer, err) }

type sourceInfo struct {
	Fragments   uint32 `json:"fragments"`
	Compression string `json:"compression"`
}

// BlobResolver resolves locators through blobstore.OpenLocator and reads an
// optional info blob: {"fragments": 4, "compression": "zstd"}.
type BlobResolver struct {
	// Open defaults to blobstore.OpenLocator.
	Open func(ctx context.Context, locator string) (blobstore.BlobStore, error)
	// Fragments is used when the info blob names none. Defaults to 1.
	Fragments uint32
	// Compression is the wire compression used when the info blob names
	// none.
	Compression geometry.Compression
}

func (r BlobResolver) open(ctx context.Context, locator string) (blobstore.BlobStore, error) {
	if r.Open != nil {
		return r.Open(ctx, locator)
	}
	return blobstore.OpenLocator(ctx, locator)
}

func (r BlobResolver) info(ctx context.Context, locator string) ([]byte, error) {
	store, err := r.open(ctx, locator)
	if err != nil {
		return nil, err
	}
	data, err := blobstore.Get(ctx, store, InfoName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// ResolveVolume implements Resolver.
func (r BlobResolver) ResolveVolume(ctx context.Context, locator string) (*Volume, error) {
	data, err := r.info(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &Volume{Locator: locator, Info: data}, nil
}

// ResolveMesh implements Resolver.
func (r BlobResolver) ResolveMesh(ctx context.Context, locator string) (*GeometrySource, error) {
	return r.geometry(ctx, locator, geometry.KindMesh)
}

// ResolveSkeleton implements Resolver.
func (r BlobResolver) ResolveSkeleton(ctx context.Context, locator string) (*GeometrySource, error) {
	return r.geometry(ctx, locator, geometry.KindSkeleton)
}

func (r BlobResolver) geometry(ctx context.Context, locator string, kind geometry.Kind) (*GeometrySource, error) {
	data, err := r.info(ctx, locator)
	if err != nil {
		return nil, err
	}
	src := &GeometrySource{Locator: locator, Kind: kind, Fragments: max(r.Fragments, 1), Compression: r.Compression}
	if data == nil {
		return src, nil
	}

	info, err := codec.Decode[sourceInfo](codec.Default, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", InfoName, err)
	}
	if info.Fragments > 0 {
		src.Fragments = info.Fragments
	}
	if info.Compression != "" {
		c, err := geometry.ParseCompression(info.Compression)
		if err != nil {
			return nil, err
		}
		src.Compression = c
	}
	return src, nil
}
