// Package s3 provides Amazon S3 implementations of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("annex/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = eng.SaveCollection(ctx, "movies", store)
//
// S3 has no compare-and-swap, so concurrent writers of the same collection
// should commit through DDBCommitStore, which keeps the CURRENT pointer of
// every collection in a DynamoDB table with conditional writes.
//
// # Features
//
//   - Multipart uploads for large snapshots
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - S3-compatible endpoints via WithEndpoint
package s3
