package logkv

import (
	"sort"

	"github.com/tarantool/go-option"
)

// versionInfo locates one committed version of a key in the log.
type versionInfo struct {
	version   uint64
	offset    int64
	size      int64
	tombstone bool
}

// slotRef identifies a key within its slot namespace.
type slotRef struct {
	slot uint8
	key  string
}

// versionIndex is the in-memory view of everything committed to the log.
//
// For every (slot, key) it holds the ordered list of versions, oldest first.
// It is rebuilt by replaying the log at open time and updated incrementally
// on every commit; only the store and the single open transaction touch it.
type versionIndex struct {
	entries map[slotRef][]versionInfo
}

func newVersionIndex() *versionIndex {
	return &versionIndex{entries: make(map[slotRef][]versionInfo)}
}

// record appends a new version for (slot, key). Versions arrive in commit
// order, so the list stays sorted by construction.
func (ix *versionIndex) record(slot uint8, key []byte, v versionInfo) {
	ref := slotRef{slot: slot, key: string(key)}
	ix.entries[ref] = append(ix.entries[ref], v)
}

// current returns the newest version of (slot, key) if it is live. A key
// whose newest entry is a tombstone has no current value.
func (ix *versionIndex) current(slot uint8, key []byte) option.Generic[versionInfo] {
	versions := ix.entries[slotRef{slot: slot, key: string(key)}]
	if len(versions) == 0 {
		return option.None[versionInfo]()
	}
	latest := versions[len(versions)-1]
	if latest.tombstone {
		return option.None[versionInfo]()
	}
	return option.Some(latest)
}

// unremoved returns the newest non-tombstone version of (slot, key), even if
// the key is currently deleted.
func (ix *versionIndex) unremoved(slot uint8, key []byte) option.Generic[versionInfo] {
	versions := ix.entries[slotRef{slot: slot, key: string(key)}]
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].tombstone {
			return option.Some(versions[i])
		}
	}
	return option.None[versionInfo]()
}

// find returns the recorded version with the given number, if any.
func (ix *versionIndex) find(slot uint8, key []byte, version uint64) option.Generic[versionInfo] {
	versions := ix.entries[slotRef{slot: slot, key: string(key)}]
	// Version lists are short and sorted; binary search would be noise.
	for _, v := range versions {
		if v.version == version {
			return option.Some(v)
		}
	}
	return option.None[versionInfo]()
}

// versions returns all recorded versions of (slot, key), oldest first.
func (ix *versionIndex) versions(slot uint8, key []byte) []versionInfo {
	versions := ix.entries[slotRef{slot: slot, key: string(key)}]
	out := make([]versionInfo, len(versions))
	copy(out, versions)
	return out
}

// liveKeys returns the keys of slot whose current state is not a tombstone,
// in byte order.
func (ix *versionIndex) liveKeys(slot uint8) [][]byte {
	var keys [][]byte
	for ref, versions := range ix.entries {
		if ref.slot != slot || len(versions) == 0 {
			continue
		}
		if !versions[len(versions)-1].tombstone {
			keys = append(keys, []byte(ref.key))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })
	return keys
}

// sortedRefs returns every indexed (slot, key) in merge order: slot
// ascending, then key byte order. Merge output must be reproducible, so the
// order is fixed here.
func (ix *versionIndex) sortedRefs() []slotRef {
	refs := make([]slotRef, 0, len(ix.entries))
	for ref := range ix.entries {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].slot != refs[j].slot {
			return refs[i].slot < refs[j].slot
		}
		return refs[i].key < refs[j].key
	})
	return refs
}

// latest returns the newest recorded version for ref. The ref must exist.
func (ix *versionIndex) latest(ref slotRef) versionInfo {
	versions := ix.entries[ref]
	return versions[len(versions)-1]
}
