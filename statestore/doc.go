// Package statestore persists versioned documents, such as layer states,
// with optimistic concurrency.
//
// Every Put names the version it expects to replace (0 for a new key) and
// fails with ErrConcurrentModification when another writer got there
// first. BlobStore keeps the version in a sidecar blob and serializes
// writers within the process; DynamoDB uses conditional writes and is safe
// across processes.
//
// DynamoDB table schema:
//
//	aws dynamodb create-table \
//	  --table-name segvis-state \
//	  --attribute-definitions AttributeName=key,AttributeType=S \
//	  --key-schema AttributeName=key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package statestore
