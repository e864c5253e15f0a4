// Package logkv is an embedded, versioned key-value store built as a
// log-structured hash table.
//
// Writes never overwrite old entries: every committed value is appended to
// the end of an append-only log, and an in-memory index tracks the log
// offsets of all versions of every key. Old versions stay readable until the
// store is merged, which rewrites the log to contain only the latest live
// value of each key.
//
// Features:
//   - simple: log-structured hash architecture, all keys in memory
//   - fully versioned: old values remain accessible until merged
//   - transactional: all reads and writes happen through a single open
//     transaction, committed atomically as one contiguous append
//   - storage-agnostic: file, in-memory and object-store backends behind one
//     append-only port (package storage)
//
// Keys are scoped to a slot, a small integer namespace, so independent
// subsystems can share one log without key collisions. Values are opaque
// bytes; package codec provides typed encoding on top.
//
// Basic usage:
//
//	st, err := storage.OpenFile(path)
//	...
//	store, err := logkv.Open(ctx, st)
//	...
//	err = store.Update(ctx, func(tx *logkv.Tx) error {
//	    return tx.Insert(0, []byte("key1"), []byte("value"))
//	})
package logkv
