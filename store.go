package logkv

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/logkv/internal/cache"
	"github.com/hupe1980/logkv/storage"
)

// Store is a versioned key-value store over an append-only storage.
//
// A Store owns its storage exclusively: one log, one in-memory version
// index, and at most one open transaction at a time. All mutations go
// through a transaction (see Current and Update); Merge compacts the log in
// place of dead history.
type Store struct {
	name    string
	storage storage.Storage
	codec   *entryCodec
	opts    options

	// writer serializes the single open transaction and merge.
	writer *semaphore.Weighted

	// values caches decoded payloads by log offset. Offsets are only valid
	// within one generation; replay bumps it after offsets may have moved.
	values *cache.LRU

	mu         sync.Mutex
	index      *versionIndex
	seq        uint64
	lastRecord uint64 // version of the most recent committed record
	generation uint64
	closed     bool
}

// Open reads a store from storage.
//
// If the storage is empty, a new store is initialized. Otherwise the log is
// replayed into a fresh index and checked for corruption. A damaged tail
// (the signature of a crashed append) is truncated and logged; corruption
// anywhere before the tail fails Open with a CorruptEntryError.
func Open(ctx context.Context, st storage.Storage, optFns ...Option) (*Store, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.mergeRateBytes > 0 {
		// Burst must admit the largest entry the store can hold, or a
		// single oversized WaitN would fail merge outright.
		burst := opts.mergeRateBytes
		if maxEntry := int64(entryHeaderSize + opts.maxKeySize + opts.maxValueSize); burst < maxEntry {
			burst = maxEntry
		}
		opts.mergeRateLimit = rate.NewLimiter(rate.Limit(opts.mergeRateBytes), int(burst))
	}

	ec, err := newEntryCodec(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		name:    st.Name(),
		storage: st,
		codec:   ec,
		opts:    opts,
		writer:  semaphore.NewWeighted(1),
	}
	if opts.valueCacheSize > 0 {
		s.values = cache.NewLRU(opts.valueCacheSize)
	}
	if err := s.replay(ctx); err != nil {
		ec.close()
		return nil, err
	}
	return s, nil
}

// Name returns the name of the underlying storage.
func (s *Store) Name() string { return s.name }

// Len returns the total length of the log in bytes.
func (s *Store) Len() int64 { return s.storage.Len() }

// Close waits for an open transaction to resolve, then releases the
// storage. The store is unusable afterwards.
func (s *Store) Close() error {
	if err := s.writer.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.writer.Release(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.codec.close()
	return s.storage.Close()
}

// Current opens the store's transaction, waiting until any prior
// transaction has been committed or rolled back. The returned transaction
// must be resolved by Commit or Rollback; Update does this automatically.
func (s *Store) Current(ctx context.Context) (*Tx, error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if s.isClosed() {
		s.writer.Release(1)
		return nil, ErrClosed
	}
	return newTx(s), nil
}

// TryCurrent opens the store's transaction without waiting. It fails with
// ErrTransactionConflict while another transaction is open.
func (s *Store) TryCurrent() (*Tx, error) {
	if !s.writer.TryAcquire(1) {
		return nil, ErrTransactionConflict
	}
	if s.isClosed() {
		s.writer.Release(1)
		return nil, ErrClosed
	}
	return newTx(s), nil
}

// Update runs fn inside a transaction and commits it if fn succeeds. On any
// error the transaction is rolled back, so every exit path resolves it.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Current(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if err := fn(tx); err != nil {
		return err
	}
	_, err = tx.Commit(ctx)
	return err
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// replayedRecord is a record waiting for its batch's commit frame.
type replayedRecord struct {
	slot uint8
	key  []byte
	info versionInfo
}

// replay rebuilds the index by sequentially decoding the log from offset 0.
//
// Records become visible only when their batch's commit frame validates, so
// a crash between append and commit frame can never surface a partial
// transaction. Anything after the last committed boundary is truncated.
func (s *Store) replay(ctx context.Context) error {
	index := newVersionIndex()

	var (
		pending       []replayedRecord
		batchCRC      = crc32.NewIEEE()
		off           int64
		lastCommitted int64
		entries       int
		seq           uint64
		lastRecord    uint64
	)

	logLen := s.storage.Len()
	for off < logLen {
		e, err := s.codec.readEntry(ctx, s.storage, off)
		if err != nil {
			if recoverableAt(err, e, off, logLen) {
				break
			}
			return fmt.Errorf("log replay at offset %d: %w", off, err)
		}

		if e.isCommit() {
			count, cerr := e.commitCount()
			_, _ = batchCRC.Write(e.value) // frame payload closes the batch checksum
			if cerr != nil || count != uint64(len(pending)) || batchCRC.Sum32() != e.crc {
				// A commit frame that fails its batch checksum marks the
				// batch as never committed. In the tail this is a crash
				// artifact; earlier it is unexplained damage.
				if off+e.size >= logLen {
					break
				}
				return &CorruptEntryError{Offset: off, cause: errChecksum}
			}
			for _, rec := range pending {
				index.record(rec.slot, rec.key, rec.info)
				if rec.info.version > lastRecord {
					lastRecord = rec.info.version
				}
				entries++
			}
			if e.version > seq {
				seq = e.version
			}
			pending = pending[:0]
			batchCRC = crc32.NewIEEE()
			lastCommitted = off + e.size
		} else {
			_, _ = batchCRC.Write(appendRawEntry(nil, e))
			pending = append(pending, replayedRecord{
				slot: e.slot,
				key:  e.key,
				info: versionInfo{
					version:   e.version,
					offset:    off,
					size:      e.size,
					tombstone: e.isTombstone(),
				},
			})
		}
		off += e.size
	}

	truncatedAt := int64(-1)
	if lastCommitted < logLen {
		if err := s.storage.Truncate(ctx, lastCommitted); err != nil {
			return fmt.Errorf("failed to truncate corrupt log tail: %w", err)
		}
		truncatedAt = lastCommitted
	}

	s.mu.Lock()
	s.index = index
	s.seq = seq
	s.lastRecord = lastRecord
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if s.values != nil {
		s.values.InvalidateBefore(gen)
	}

	s.opts.logger.LogRecovery(ctx, entries, truncatedAt, nil)
	s.opts.metrics.RecordRecovery(entries, truncatedAt >= 0)
	return nil
}

// recoverableAt reports whether a replay error is a crash artifact that can
// be healed by truncation rather than a fatal corruption.
//
// Short reads always are: a half-written entry can only sit at the physical
// end of the log. Checksum mismatches and invalid headers are recoverable
// only when the damaged entry extends to the physical end — for invalid
// headers the declared lengths stand in for the real size, which covers a
// torn header whose garbage lengths point past the end of the log. A bad
// entry with committed data behind it is unexplained damage and fatal.
func recoverableAt(err error, e *decodedEntry, off, logLen int64) bool {
	if errors.Is(err, storage.ErrOutOfRange) {
		return true
	}
	var ce *CorruptEntryError
	if !errors.As(err, &ce) {
		return false
	}
	return e != nil && off+e.size >= logLen
}

// appendRawEntry re-encodes a decoded entry into its exact log bytes.
// Replay uses this to feed batch checksums without a second storage read.
func appendRawEntry(buf []byte, e *decodedEntry) []byte {
	buf = appendHeader(buf, e.flags, e.slot, uint32(len(e.key)), uint32(len(e.value)), e.version, e.crc)
	buf = append(buf, e.key...)
	return append(buf, e.value...)
}

// readValue fetches and decodes the payload of a committed version,
// consulting the value cache when one is configured. Callers get their own
// copy on a cache hit, so cached bytes stay immutable.
func (s *Store) readValue(ctx context.Context, v versionInfo) ([]byte, error) {
	var key cache.Key
	if s.values != nil {
		s.mu.Lock()
		key = cache.Key{Generation: s.generation, Offset: v.offset}
		s.mu.Unlock()

		if val, ok := s.values.Get(key); ok {
			return append([]byte(nil), val...), nil
		}
	}

	e, err := s.codec.readEntry(ctx, s.storage, v.offset)
	if err != nil {
		return nil, err
	}
	val, err := s.codec.value(e)
	if err != nil {
		return nil, err
	}
	if s.values != nil && !e.isTombstone() {
		s.values.Set(key, append([]byte(nil), val...))
	}
	return val, nil
}

// Merge compacts the store by discarding superseded versions.
//
// Merge waits for the open transaction to resolve, then rewrites the log so
// every key with a live current value keeps exactly that one version, in a
// deterministic order (slot ascending, then key byte order). Keys whose
// current state is a tombstone disappear entirely; this is the only point
// where removed values are physically purged. The new log replaces the old
// one atomically and the index is rebuilt from it.
func (s *Store) Merge(ctx context.Context) error {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.writer.Release(1)

	if s.isClosed() {
		return ErrClosed
	}

	start := time.Now()
	oldLen := s.storage.Len()

	compacted, kept, err := s.buildCompactedLog(ctx)
	if err == nil {
		err = s.storage.Replace(ctx, compacted)
	}
	if err == nil {
		err = s.replay(ctx)
	}

	reclaimed := oldLen - int64(len(compacted))
	s.opts.logger.LogMerge(ctx, kept, reclaimed, time.Since(start), err)
	s.opts.metrics.RecordMerge(reclaimed, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// buildCompactedLog encodes the latest live version of every key into a new
// log image, terminated by a single commit frame. Record bytes are copied
// verbatim from the old log, so versions and per-record checksums survive.
func (s *Store) buildCompactedLog(ctx context.Context) ([]byte, int, error) {
	s.mu.Lock()
	index := s.index
	seq := s.seq
	s.mu.Unlock()

	var (
		out      []byte
		kept     int
		batchCRC hash.Hash32 = crc32.NewIEEE()
	)
	for _, ref := range index.sortedRefs() {
		latest := index.latest(ref)
		if latest.tombstone {
			continue
		}
		if s.opts.mergeRateLimit != nil {
			if err := s.opts.mergeRateLimit.WaitN(ctx, int(latest.size)); err != nil {
				return nil, 0, err
			}
		}
		e, err := s.codec.readEntry(ctx, s.storage, latest.offset)
		if err != nil {
			return nil, 0, err
		}
		raw := appendRawEntry(nil, e)
		_, _ = batchCRC.Write(raw)
		out = append(out, raw...)
		kept++
	}

	if kept == 0 && seq == 0 {
		// Never committed: the compacted log stays empty.
		return nil, 0, nil
	}

	// Even when nothing survives, the trailing frame carries the current
	// sequence number so replay never rewinds it and versions of later
	// commits stay above every version ever assigned.
	_, _ = batchCRC.Write(commitPayload(uint64(kept)))
	out = appendCommit(out, seq, uint64(kept), batchCRC.Sum32())
	return out, kept, nil
}
