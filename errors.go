package logkv

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionConflict is returned when a second transaction is
	// requested while one is still open.
	ErrTransactionConflict = errors.New("transaction already open")

	// ErrTxClosed is returned when a committed or aborted transaction is
	// used again.
	ErrTxClosed = errors.New("transaction is closed")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrEmptyKey is returned when a key with zero bytes is inserted or
	// removed. Empty keys cannot be represented in the log format.
	ErrEmptyKey = errors.New("empty key")
)

// CorruptEntryError indicates a checksum or format mismatch while decoding a
// log entry somewhere before the end of the log, which cannot be explained by
// a crashed append and is therefore fatal.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type CorruptEntryError struct {
	Offset int64
	cause  error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt entry at offset %d", e.Offset)
}

func (e *CorruptEntryError) Unwrap() error { return e.cause }

// SizeLimitError indicates a key, value or slot outside the configured
// bounds. It is raised before the operation is buffered, so a failed insert
// never leaves state behind.
type SizeLimitError struct {
	Kind  string // "key", "value" or "slot"
	Size  int
	Limit int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s size %d exceeds limit %d", e.Kind, e.Size, e.Limit)
}
