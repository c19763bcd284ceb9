// Package rawstore persists fetched records, one per ID, append-once.
//
// Write never replaces an existing record: a second write of the same ID
// reports written=false and leaves the stored record untouched. This makes
// duplicate delivery of a retried-but-actually-succeeded fetch harmless.
//
// # Backends
//
//   - sqlite:PATH        records table in a WAL-mode database
//   - dir:PATH           one PATH/<id>.json file per record
//   - postgres://...     records table via a pgx connection pool
//   - s3://BUCKET/PREFIX object per record in S3 or MinIO
//   - mem:               in-process map, for tests and dry runs
//
// Any backend can be wrapped in Cached, which remembers IDs known to exist.
package rawstore
