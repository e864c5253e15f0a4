package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T) (*FileStorage, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.log")
	f, err := OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	return f, path
}

func TestFileStorage_AppendRead(t *testing.T) {
	ctx := context.Background()
	f, _ := openTestFile(t)

	require.Equal(t, "store.log", f.Name())
	require.Zero(t, f.Len())

	off, err := f.Append(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Zero(t, off)

	off, err = f.Append(ctx, []byte("world"))
	require.NoError(t, err)
	require.Equal(t, int64(5), off)
	require.NoError(t, f.Flush(ctx))

	data, err := f.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("helloworld"), data)

	_, err = f.Read(ctx, 8, 5)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileStorage_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	f, path := openTestFile(t)

	_, err := f.Append(ctx, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, f.Flush(ctx))
	require.NoError(t, f.Close())

	f2, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f2.Close() }()

	require.Equal(t, int64(7), f2.Len())
	data, err := f2.Read(ctx, 0, 7)
	require.NoError(t, err)
	require.Equal(t, []byte("durable"), data)
}

func TestFileStorage_Truncate(t *testing.T) {
	ctx := context.Background()
	f, _ := openTestFile(t)

	_, err := f.Append(ctx, []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(ctx, 5))
	require.Equal(t, int64(5), f.Len())

	data, err := f.Read(ctx, 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestFileStorage_Replace(t *testing.T) {
	ctx := context.Background()
	f, path := openTestFile(t)

	_, err := f.Append(ctx, []byte("old content that goes away"))
	require.NoError(t, err)

	require.NoError(t, f.Replace(ctx, []byte("compacted")))
	require.Equal(t, int64(9), f.Len())

	data, err := f.Read(ctx, 0, 9)
	require.NoError(t, err)
	require.Equal(t, []byte("compacted"), data)

	// No temp or marker files left behind.
	_, err = os.Stat(path + tmpSuffix)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + mergeMarker)
	require.True(t, os.IsNotExist(err))

	// The storage stays usable after the swap.
	_, err = f.Append(ctx, []byte("!"))
	require.NoError(t, err)
	require.Equal(t, int64(10), f.Len())
}

func TestFileStorage_LeftoverMergeMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	require.NoError(t, os.WriteFile(path, []byte("log"), 0600))
	require.NoError(t, os.WriteFile(path+mergeMarker, nil, 0600))

	_, err := OpenFile(path)
	require.ErrorIs(t, err, ErrMergeIncomplete)
}

func TestFileStorage_ExclusiveLock(t *testing.T) {
	_, path := openTestFile(t)

	_, err := OpenFile(path)
	require.ErrorIs(t, err, ErrLocked)
}

func TestFileStorage_ClosedRejectsIO(t *testing.T) {
	ctx := context.Background()
	f, _ := openTestFile(t)
	require.NoError(t, f.Close())

	_, err := f.Read(ctx, 0, 1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = f.Append(ctx, []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, f.Flush(ctx), ErrClosed)
	require.ErrorIs(t, f.Replace(ctx, nil), ErrClosed)

	// Double close is a no-op.
	require.NoError(t, f.Close())
}

func TestFileStorage_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "store.log")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
