// Package storage defines the persistence configuration and the ObjectStore
// abstraction used for business logos and archived invoice PDFs.
//
// Relational data (users, invoices, sequences, subscriptions) lives in
// Postgres and is accessed by the owning domain packages directly. The
// postgres subpackage provides the connection manager, schema migrations,
// the S3 object store and the Redis client.
//
// Two ObjectStore implementations exist:
//
//   - postgres.S3Client: S3 or MinIO, supports presigned share links
//   - FileSystemStore: a local directory for development
package storage
