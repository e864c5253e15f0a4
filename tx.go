package logkv

import (
	"context"
	"fmt"
	"hash/crc32"
	"sort"
	"time"
)

// txState tracks the transaction lifecycle:
// open -> committing -> committed, or open -> aborted.
type txState int

const (
	txOpen txState = iota
	txCommitting
	txCommitted
	txAborted
)

// pendingOp is one buffered write: a value or a tombstone for (slot, key).
type pendingOp struct {
	slot      uint8
	key       []byte
	value     []byte
	tombstone bool
}

// Assigned reports the version a commit gave to one written key.
type Assigned struct {
	Slot    uint8
	Key     []byte
	Version uint64
}

// Tx is the store's single open transaction.
//
// All writes are buffered in memory and only reach the log when Commit
// appends them as one contiguous, atomically visible batch. Reads see the
// transaction's own pending writes first, then the committed index. A Tx is
// exclusive: its owner resolves it exactly once, via Commit or Rollback.
type Tx struct {
	store   *Store
	state   txState
	pending map[slotRef]pendingOp
}

func newTx(s *Store) *Tx {
	return &Tx{
		store:   s,
		pending: make(map[slotRef]pendingOp),
	}
}

// Insert buffers a write of value under (slot, key), superseding older
// versions at commit time. A later Insert or Remove of the same (slot, key)
// within this transaction replaces the buffered operation; only the last
// one becomes a version.
func (tx *Tx) Insert(slot uint8, key, value []byte) error {
	if err := tx.validate(slot, key, value); err != nil {
		return err
	}
	tx.buffer(pendingOp{
		slot:  slot,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// Remove buffers a tombstone for (slot, key). The key's history stays
// readable until the next merge; only its current value disappears.
func (tx *Tx) Remove(slot uint8, key []byte) error {
	if err := tx.validate(slot, key, nil); err != nil {
		return err
	}
	tx.buffer(pendingOp{
		slot:      slot,
		key:       append([]byte(nil), key...),
		tombstone: true,
	})
	return nil
}

// Get returns the latest value of (slot, key) and whether it exists.
// Pending writes of this transaction win over committed state; a removed
// key reads as absent.
func (tx *Tx) Get(ctx context.Context, slot uint8, key []byte) ([]byte, bool, error) {
	start := time.Now()
	val, ok, err := tx.get(ctx, slot, key)
	tx.store.opts.metrics.RecordGet(time.Since(start), err)
	return val, ok, err
}

func (tx *Tx) get(ctx context.Context, slot uint8, key []byte) ([]byte, bool, error) {
	if tx.state != txOpen {
		return nil, false, ErrTxClosed
	}
	if op, ok := tx.pending[slotRef{slot: slot, key: string(key)}]; ok {
		if op.tombstone {
			return nil, false, nil
		}
		return append([]byte(nil), op.value...), true, nil
	}

	info := tx.store.index.current(slot, key)
	if !info.IsSome() {
		return nil, false, nil
	}
	val, err := tx.store.readValue(ctx, info.Unwrap())
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// GetUnremoved returns the latest non-removed value of (slot, key), even
// when the key's current state is a tombstone. It is absent only if the key
// was never written (or its history was merged away).
func (tx *Tx) GetUnremoved(ctx context.Context, slot uint8, key []byte) ([]byte, bool, error) {
	if tx.state != txOpen {
		return nil, false, ErrTxClosed
	}
	if op, ok := tx.pending[slotRef{slot: slot, key: string(key)}]; ok && !op.tombstone {
		return append([]byte(nil), op.value...), true, nil
	}

	info := tx.store.index.unremoved(slot, key)
	if !info.IsSome() {
		return nil, false, nil
	}
	val, err := tx.store.readValue(ctx, info.Unwrap())
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// GetVersion returns the value recorded at the given version of
// (slot, key). It is absent if the version was never recorded for that key,
// or records a removal.
func (tx *Tx) GetVersion(ctx context.Context, slot uint8, key []byte, version uint64) ([]byte, bool, error) {
	if tx.state != txOpen {
		return nil, false, ErrTxClosed
	}
	info := tx.store.index.find(slot, key, version)
	if !info.IsSome() {
		return nil, false, nil
	}
	v := info.Unwrap()
	if v.tombstone {
		return nil, false, nil
	}
	val, err := tx.store.readValue(ctx, v)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Versions returns all committed versions of (slot, key), oldest first.
// Removals count as versions of their own; pending writes do not appear
// until committed.
func (tx *Tx) Versions(slot uint8, key []byte) ([]uint64, error) {
	if tx.state != txOpen {
		return nil, ErrTxClosed
	}
	infos := tx.store.index.versions(slot, key)
	out := make([]uint64, len(infos))
	for i, v := range infos {
		out[i] = v.version
	}
	return out, nil
}

// Keys returns the live keys of a slot in byte order, reflecting this
// transaction's pending inserts and removes.
func (tx *Tx) Keys(slot uint8) ([][]byte, error) {
	if tx.state != txOpen {
		return nil, ErrTxClosed
	}
	live := make(map[string]struct{})
	for _, k := range tx.store.index.liveKeys(slot) {
		live[string(k)] = struct{}{}
	}
	for ref, op := range tx.pending {
		if ref.slot != slot {
			continue
		}
		if op.tombstone {
			delete(live, ref.key)
		} else {
			live[ref.key] = struct{}{}
		}
	}

	keys := make([][]byte, 0, len(live))
	for k := range live {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })
	return keys, nil
}

// LastUpdated returns the version of the most recent committed write still
// present in the log, or false if there is none. A merge that purged every
// key leaves nothing to report.
func (tx *Tx) LastUpdated() (uint64, bool) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return tx.store.lastRecord, tx.store.lastRecord > 0
}

// InsertValue encodes v with the store's codec and buffers it under
// (slot, key).
func (tx *Tx) InsertValue(slot uint8, key []byte, v any) error {
	data, err := tx.store.opts.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return tx.Insert(slot, key, data)
}

// GetInto reads the latest value of (slot, key) and decodes it into dst
// with the store's codec. It reports whether the key exists.
func (tx *Tx) GetInto(ctx context.Context, slot uint8, key []byte, dst any) (bool, error) {
	data, ok, err := tx.Get(ctx, slot, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := tx.store.opts.codec.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode value: %w", err)
	}
	return true, nil
}

// Commit appends every buffered operation as one contiguous batch, makes
// the new versions visible in the index, and closes the transaction. The
// returned assignments list each written key with its new version, in the
// order the records were appended.
//
// The full byte range is prepared before a single storage append, so a
// failed commit leaves log and index exactly as they were; a physically
// partial append is healed by truncation at the next open.
func (tx *Tx) Commit(ctx context.Context) ([]Assigned, error) {
	if tx.state != txOpen {
		return nil, ErrTxClosed
	}
	if tx.store.isClosed() {
		tx.finish(txAborted)
		return nil, ErrClosed
	}
	if len(tx.pending) == 0 {
		tx.finish(txCommitted)
		return nil, nil
	}
	tx.state = txCommitting

	start := time.Now()
	assigned, bytes, err := tx.commit(ctx)
	tx.store.opts.logger.LogCommit(ctx, len(assigned), bytes, err)
	tx.store.opts.metrics.RecordCommit(len(assigned), bytes, time.Since(start), err)
	if err != nil {
		tx.finish(txAborted)
		return nil, err
	}
	tx.finish(txCommitted)
	return assigned, nil
}

func (tx *Tx) commit(ctx context.Context) ([]Assigned, int64, error) {
	// Deterministic record order within the batch: slot ascending, then key
	// byte order.
	refs := make([]slotRef, 0, len(tx.pending))
	for ref := range tx.pending {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].slot != refs[j].slot {
			return refs[i].slot < refs[j].slot
		}
		return refs[i].key < refs[j].key
	})

	s := tx.store
	seq := s.seq
	batchCRC := crc32.NewIEEE()

	var (
		buf      []byte
		offsets  = make([]int64, 0, len(refs))
		sizes    = make([]int64, 0, len(refs))
		assigned = make([]Assigned, 0, len(refs))
	)
	for _, ref := range refs {
		op := tx.pending[ref]
		seq++
		recStart := int64(len(buf))
		buf = s.codec.appendRecord(buf, op.slot, op.key, op.value, op.tombstone, seq)
		_, _ = batchCRC.Write(buf[recStart:])
		offsets = append(offsets, recStart)
		sizes = append(sizes, int64(len(buf))-recStart)
		assigned = append(assigned, Assigned{Slot: op.slot, Key: op.key, Version: seq})
	}
	seq++
	_, _ = batchCRC.Write(commitPayload(uint64(len(refs))))
	buf = appendCommit(buf, seq, uint64(len(refs)), batchCRC.Sum32())

	preLen := s.storage.Len()
	base, err := s.storage.Append(ctx, buf)
	if err != nil {
		// Best effort: cut back whatever part of the batch reached the log.
		_ = s.storage.Truncate(ctx, preLen)
		return nil, 0, fmt.Errorf("failed to append commit batch: %w", err)
	}
	if err := s.storage.Flush(ctx); err != nil {
		_ = s.storage.Truncate(ctx, preLen)
		return nil, 0, fmt.Errorf("failed to flush commit batch: %w", err)
	}

	s.mu.Lock()
	for i, ref := range refs {
		op := tx.pending[ref]
		s.index.record(op.slot, op.key, versionInfo{
			version:   assigned[i].Version,
			offset:    base + offsets[i],
			size:      sizes[i],
			tombstone: op.tombstone,
		})
	}
	s.seq = seq
	s.lastRecord = assigned[len(assigned)-1].Version
	s.mu.Unlock()

	return assigned, int64(len(buf)), nil
}

// Rollback discards all buffered operations and closes the transaction.
// No bytes reach the log and the index is untouched. Rolling back a
// resolved transaction is a no-op, so it is safe to defer unconditionally.
func (tx *Tx) Rollback() error {
	if tx.state != txOpen {
		return nil
	}
	if len(tx.pending) > 0 {
		tx.store.opts.logger.LogDirtyRollback(context.Background(), len(tx.pending))
	}
	tx.finish(txAborted)
	return nil
}

// finish moves the transaction to a terminal state and releases the
// store's writer slot exactly once.
func (tx *Tx) finish(state txState) {
	tx.state = state
	tx.pending = nil
	tx.store.writer.Release(1)
}

func (tx *Tx) validate(slot uint8, key, value []byte) error {
	if tx.state != txOpen {
		return ErrTxClosed
	}
	o := tx.store.opts
	if int(slot) >= o.slotCount {
		return &SizeLimitError{Kind: "slot", Size: int(slot), Limit: o.slotCount - 1}
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > o.maxKeySize {
		return &SizeLimitError{Kind: "key", Size: len(key), Limit: o.maxKeySize}
	}
	if len(value) > o.maxValueSize {
		return &SizeLimitError{Kind: "value", Size: len(value), Limit: o.maxValueSize}
	}
	return nil
}

func (tx *Tx) buffer(op pendingOp) {
	tx.pending[slotRef{slot: op.slot, key: string(op.key)}] = op
}
