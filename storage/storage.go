package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned by Read when the requested range extends
	// past the current end of the storage.
	ErrOutOfRange = errors.New("storage: read out of range")

	// ErrMergeIncomplete is returned by Open when a previous content swap
	// was interrupted and the storage may not reflect a complete log.
	ErrMergeIncomplete = errors.New("storage: incomplete merge detected")

	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("storage: closed")
)

// Storage is an append-only byte device backing a store's log.
//
// All methods are called from a single goroutine at a time; implementations
// do not need to support concurrent use. I/O methods take a context because
// some backends (object stores) suspend on network round trips.
type Storage interface {
	// Name returns the name the storage was opened with.
	Name() string

	// Len returns the current total length in bytes.
	Len() int64

	// Read returns n bytes starting at off.
	// It returns ErrOutOfRange if the range extends past the end.
	Read(ctx context.Context, off int64, n int) ([]byte, error)

	// Append writes p at the end and returns the offset it was written at.
	Append(ctx context.Context, p []byte) (int64, error)

	// Truncate discards all bytes at and after size.
	Truncate(ctx context.Context, size int64) error

	// Flush makes all appended bytes durable.
	Flush(ctx context.Context) error

	// Replace atomically substitutes the entire content with data.
	// Readers observe either the old content or the new one, never a mix.
	Replace(ctx context.Context, data []byte) error

	// Close releases the storage. The storage is unusable afterwards.
	Close() error
}

// rangeErr builds the ErrOutOfRange for a failed read.
func rangeErr(off int64, n int, size int64) error {
	return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, off, off+int64(n), size)
}
