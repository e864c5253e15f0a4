package storage

import (
	"context"
	"sync"
)

// MemoryStorage is an in-memory Storage implementation.
//
// It is primarily used in tests and for short-lived stores that do not need
// to survive a restart. All operations are infallible apart from range
// checks, which makes crash scenarios easy to simulate by mutating Bytes.
type MemoryStorage struct {
	mu   sync.Mutex
	name string
	data []byte
}

// NewMemoryStorage creates an empty in-memory storage with the given name.
func NewMemoryStorage(name string) *MemoryStorage {
	return &MemoryStorage{name: name}
}

// Name returns the name the storage was created with.
func (m *MemoryStorage) Name() string { return m.name }

// Len returns the current length in bytes.
func (m *MemoryStorage) Len() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

// Read returns n bytes starting at off.
func (m *MemoryStorage) Read(_ context.Context, off int64, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 || off+int64(n) > int64(len(m.data)) {
		return nil, rangeErr(off, n, int64(len(m.data)))
	}
	out := make([]byte, n)
	copy(out, m.data[off:])
	return out, nil
}

// Append writes p at the end and returns the offset it was written at.
func (m *MemoryStorage) Append(_ context.Context, p []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(len(m.data))
	m.data = append(m.data, p...)
	return off, nil
}

// Truncate discards all bytes at and after size.
func (m *MemoryStorage) Truncate(_ context.Context, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size < int64(len(m.data)) {
		m.data = m.data[:size]
	}
	return nil
}

// Flush is a no-op for memory storage.
func (m *MemoryStorage) Flush(_ context.Context) error { return nil }

// Replace atomically substitutes the entire content with data.
func (m *MemoryStorage) Replace(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make([]byte, len(data))
	copy(m.data, data)
	return nil
}

// Close releases the storage.
func (m *MemoryStorage) Close() error { return nil }

// Bytes returns the raw content. Tests use this to corrupt specific
// offsets when exercising crash recovery.
func (m *MemoryStorage) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// SetBytes overwrites the raw content. Tests use this to construct
// hand-crafted or damaged logs.
func (m *MemoryStorage) SetBytes(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}
