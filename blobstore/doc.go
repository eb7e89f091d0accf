// Package blobstore provides read access to immutable chunk blobs.
//
// Chunk sources fetch encoded geometry fragments by name from a BlobStore.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, used by tests and the memory:// scheme
//   - LocalStore: local filesystem, served through read-only mmap
//   - s3.Store: Amazon S3 with range reads and managed uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// # Locators
//
// OpenLocator resolves a locator URL to a store:
//
//	memory://name
//	file:///abs/path
//	s3://bucket/prefix
//	minio://host:port/bucket/prefix
//
// memory and file are built in. Remote schemes are registered by their
// packages with Register.
package blobstore
