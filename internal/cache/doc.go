// Package cache provides a byte-bounded LRU for decoded log values.
//
// Reading a versioned value means seeking into the log and, for compressed
// entries, decompressing. The cache keeps recently read values in memory,
// keyed by log offset. Offsets are only stable within one log generation:
// a merge or a recovery truncation rewrites offsets, so the store bumps
// the generation and old entries become unreachable.
package cache
