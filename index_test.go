package logkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionIndex_CurrentFollowsLatest(t *testing.T) {
	ix := newVersionIndex()
	key := []byte("k")

	ix.record(0, key, versionInfo{version: 1, offset: 0, size: 10})
	ix.record(0, key, versionInfo{version: 2, offset: 10, size: 12})

	info := ix.current(0, key)
	require.True(t, info.IsSome())
	require.Equal(t, uint64(2), info.Unwrap().version)
}

func TestVersionIndex_TombstoneHidesCurrent(t *testing.T) {
	ix := newVersionIndex()
	key := []byte("k")

	ix.record(0, key, versionInfo{version: 1, size: 10})
	ix.record(0, key, versionInfo{version: 2, size: 22, tombstone: true})

	require.False(t, ix.current(0, key).IsSome())

	unremoved := ix.unremoved(0, key)
	require.True(t, unremoved.IsSome())
	require.Equal(t, uint64(1), unremoved.Unwrap().version)
}

func TestVersionIndex_FindExactVersion(t *testing.T) {
	ix := newVersionIndex()
	key := []byte("k")

	ix.record(3, key, versionInfo{version: 5, size: 10})
	ix.record(3, key, versionInfo{version: 8, size: 10})

	require.Equal(t, uint64(5), ix.find(3, key, 5).Unwrap().version)
	require.Equal(t, uint64(8), ix.find(3, key, 8).Unwrap().version)
	require.False(t, ix.find(3, key, 6).IsSome())
	require.False(t, ix.find(4, key, 5).IsSome())
}

func TestVersionIndex_VersionsOldestFirst(t *testing.T) {
	ix := newVersionIndex()
	key := []byte("k")

	ix.record(0, key, versionInfo{version: 1})
	ix.record(0, key, versionInfo{version: 4, tombstone: true})
	ix.record(0, key, versionInfo{version: 7})

	infos := ix.versions(0, key)
	require.Len(t, infos, 3)
	require.Equal(t, uint64(1), infos[0].version)
	require.Equal(t, uint64(4), infos[1].version)
	require.Equal(t, uint64(7), infos[2].version)

	require.Empty(t, ix.versions(0, []byte("missing")))
}

func TestVersionIndex_LiveKeysSorted(t *testing.T) {
	ix := newVersionIndex()

	ix.record(1, []byte("carol"), versionInfo{version: 1})
	ix.record(1, []byte("alice"), versionInfo{version: 2})
	ix.record(1, []byte("bob"), versionInfo{version: 3})
	ix.record(1, []byte("bob"), versionInfo{version: 4, tombstone: true})
	ix.record(2, []byte("other"), versionInfo{version: 5})

	keys := ix.liveKeys(1)
	require.Equal(t, [][]byte{[]byte("alice"), []byte("carol")}, keys)
}

func TestVersionIndex_SortedRefs(t *testing.T) {
	ix := newVersionIndex()

	ix.record(2, []byte("b"), versionInfo{version: 1})
	ix.record(1, []byte("z"), versionInfo{version: 2})
	ix.record(2, []byte("a"), versionInfo{version: 3})
	ix.record(1, []byte("a"), versionInfo{version: 4})

	refs := ix.sortedRefs()
	require.Equal(t, []slotRef{
		{slot: 1, key: "a"},
		{slot: 1, key: "z"},
		{slot: 2, key: "a"},
		{slot: 2, key: "b"},
	}, refs)
}
