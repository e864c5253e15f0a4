package logkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/logkv/storage"
)

// seedStore commits one batch per call of fn and returns the backing
// memory, so tests can damage the raw log and reopen it.
func seedStore(t *testing.T, batches ...func(tx *Tx)) *storage.MemoryStorage {
	t.Helper()

	ctx := context.Background()
	st := storage.NewMemoryStorage("test")

	s, err := Open(ctx, st)
	require.NoError(t, err)
	for _, fn := range batches {
		mustCommit(t, s, fn)
	}
	require.NoError(t, s.Close())

	return st
}

func TestRecovery_TruncatesTrailingGarbage(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("k"), []byte("v")))
	})

	committed := st.Len()
	_, err := st.Append(ctx, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)

	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Equal(t, committed, s.Len())

	tx, err := s.Current(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	val, ok, err := tx.Get(ctx, 0, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)
}

func TestRecovery_TruncatesPartialEntry(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("k"), []byte("v")))
	})
	committed := st.Len()

	// Simulate a crash mid-append: only a prefix of the next record made
	// it to the log.
	c := newTestEntryCodec(t)
	rec := c.appendRecord(nil, 0, []byte("partial"), []byte("lost"), false, 99)
	_, err := st.Append(ctx, rec[:len(rec)-3])
	require.NoError(t, err)

	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Equal(t, committed, s.Len())
}

func TestRecovery_TruncatesUnterminatedBatch(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("committed"), []byte("v")))
	})
	committed := st.Len()

	// A structurally valid record with no commit frame behind it must not
	// become visible.
	c := newTestEntryCodec(t)
	_, err := st.Append(ctx, c.appendRecord(nil, 0, []byte("orphan"), []byte("v"), false, 99))
	require.NoError(t, err)

	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Equal(t, committed, s.Len())

	tx, err := s.Current(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, ok, err := tx.Get(ctx, 0, []byte("orphan"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecovery_DiscardsBatchWithBadCommitFrame(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("k"), []byte("v")))
	})

	// The last byte of the log belongs to the commit frame payload;
	// damaging it invalidates the whole trailing batch.
	data := st.Bytes()
	data[len(data)-1] ^= 0xff
	st.SetBytes(data)

	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Zero(t, s.Len())
}

func TestRecovery_MidLogInvalidHeaderIsFatal(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t,
		func(tx *Tx) {
			require.NoError(t, tx.Insert(0, []byte("first"), []byte("aaaa")))
		},
		func(tx *Tx) {
			require.NoError(t, tx.Insert(0, []byte("second"), []byte("bbbb")))
		},
	)

	// An unknown flag bit in the first record's header, with committed data
	// behind it. Truncating here would silently drop both batches, so the
	// open must refuse instead.
	data := st.Bytes()
	data[0] |= 1 << 6
	st.SetBytes(data)

	_, err := Open(ctx, st)
	var ce *CorruptEntryError
	require.ErrorAs(t, err, &ce)
	require.Zero(t, ce.Offset)
}

func TestRecovery_TruncatesGarbageHeaderAtTail(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("k"), []byte("v")))
	})
	committed := st.Len()

	// A full header's worth of garbage at the end: its declared lengths
	// point far past the log, the signature of a torn append.
	garbage := make([]byte, entryHeaderSize+8)
	for i := range garbage {
		garbage[i] = 0xff
	}
	_, err := st.Append(ctx, garbage)
	require.NoError(t, err)

	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Equal(t, committed, s.Len())
}

func TestRecovery_MidLogCorruptionIsFatal(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t,
		func(tx *Tx) {
			require.NoError(t, tx.Insert(0, []byte("first"), []byte("aaaa")))
		},
		func(tx *Tx) {
			require.NoError(t, tx.Insert(0, []byte("second"), []byte("bbbb")))
		},
	)

	// Damage a value byte of the first record. It is followed by committed
	// data, so truncation would silently drop good entries.
	data := st.Bytes()
	data[entryHeaderSize+len("first")] ^= 0xff
	st.SetBytes(data)

	_, err := Open(ctx, st)
	var ce *CorruptEntryError
	require.ErrorAs(t, err, &ce)
	require.Zero(t, ce.Offset)
}

func TestRecovery_StoreUsableAfterTruncation(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("k"), []byte("v1")))
	})

	_, err := st.Append(ctx, []byte("crash debris"))
	require.NoError(t, err)

	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	mustCommit(t, s, func(tx *Tx) {
		require.NoError(t, tx.Insert(0, []byte("k"), []byte("v2")))
	})

	tx, err := s.Current(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	val, ok, err := tx.Get(ctx, 0, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), val)

	versions, err := tx.Versions(0, []byte("k"))
	require.NoError(t, err)
	require.Len(t, versions, 2)
}
