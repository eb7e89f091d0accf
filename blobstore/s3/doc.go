// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("meshes/"))
//
// Importing the package registers the s3:// locator scheme:
//
//	store, err := blobstore.OpenLocator(ctx, "s3://my-bucket/meshes")
//
// # Features
//
//   - Range reads through GetObject
//   - Managed (multipart when large) uploads via feature/s3/manager
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
