// Package storage defines the append-only byte device a store persists to.
//
// A Storage is close to an append-only file: bytes are appended at the end,
// read back by offset, and never rewritten in place. The only exception is
// Replace, which atomically substitutes the entire content and exists solely
// for log compaction.
//
// Backends:
//   - FileStorage: a local file, the default for native use
//   - MemoryStorage: an in-memory buffer for tests and ephemeral stores
//   - ObjectStorage: a single object in MinIO/S3-compatible storage, for
//     platforms without a seekable filesystem
package storage
