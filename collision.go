package encodeidmap

import (
	"bytes"
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/ruizhang0519/encodeidmap/internal/array"
	"github.com/ruizhang0519/encodeidmap/internal/bitpack"
	"github.com/ruizhang0519/encodeidmap/internal/parsort"
	"github.com/ruizhang0519/encodeidmap/internal/radix"
)

// collisionEntry pairs an original input identifier with a cheap
// fingerprint of it, so equality checks can usually short-circuit on a
// uint32 compare instead of an interface-level comparison. The internal id
// it belongs to lives in the parallel collisionStore.internalIDs array, not
// here, so that array can be backed by the same ArrayFactory (heap or
// mmap) as the data and group caches instead of a plain Go slice.
type collisionEntry struct {
	inputID     any
	fingerprint uint32
}

// collisionStore is the mapper's phase C side-store: for every internal id
// whose eId carries the collision mark, it holds the original input
// identifier, enabling get() to disambiguate exactly instead of trusting
// the encoded value alone. internalIDs and meta are built by scanning
// internal ids in ascending order and stay index-aligned, so internalIDs is
// already sorted — the binary search in findByInternalID relies on this
// rather than re-sorting.
type collisionStore struct {
	internalIDs array.LongStore
	meta        []collisionEntry
}

func (s *collisionStore) len() int { return len(s.meta) }

func (s *collisionStore) entry(i int) (internalID uint64, e collisionEntry) {
	return s.internalIDs.Get(uint64(i)), s.meta[i]
}

func fingerprint(inputID any) uint32 {
	b, err := asBytes(inputID)
	if err != nil {
		return 0
	}
	return uint32(xxhash.Sum64(b))
}

// inputIDsEqual compares two input identifiers for semantic equality. []
// byte is handled specially because Go's == panics between two
// non-comparable slice values; every other type falls through to the
// ordinary interface comparison.
func inputIDsEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok2 := b.([]byte)
		return ok2 && bytes.Equal(ab, bb)
	}
	return a == b
}

// buildCollisionStore scans every internal id in [0, highestInternalID],
// recording each one whose data-cache eId carries the collision mark.
// lookup resolves the internal id back to its original input identifier —
// only ever called for marked ids, matching the original's phase C scan.
// internalIDs is sized exactly to numCollisions and backed by factory, the
// same array abstraction the data and group caches use, so a caller
// running an MmapArrayFactory-backed mapper keeps the side-store off the Go
// heap too.
func buildCollisionStore(factory ArrayFactory, data array.LongStore, highestInternalID uint64, numCollisions int, lookup InputIDLookup) *collisionStore {
	internalIDs := factory.NewFixedLongArray(uint64(numCollisions), 0)
	meta := make([]collisionEntry, 0, numCollisions)
	for id := uint64(0); id <= highestInternalID; id++ {
		eid := data.Get(id)
		if bitpack.CollisionMark.Get(eid) == 0 {
			continue
		}
		inputID := lookup(id)
		internalIDs.Set(uint64(len(meta)), id)
		meta = append(meta, collisionEntry{
			inputID:     inputID,
			fingerprint: fingerprint(inputID),
		})
	}
	return &collisionStore{internalIDs: internalIDs, meta: meta}
}

// findByInternalID binary-searches internalIDs for internalID. Safe because
// internalIDs is appended in ascending internal-id order during phase C.
func (s *collisionStore) findByInternalID(internalID uint64) (collisionEntry, bool) {
	lo, hi := 0, s.len()-1
	for lo <= hi {
		mid := (lo + hi) / 2
		id, e := s.entry(mid)
		switch {
		case id == internalID:
			return e, true
		case id < internalID:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return collisionEntry{}, false
}

// collisionValues adapts collisionStore into parsort.Values: a ref is an
// index into internalIDs/meta, and its sort key is the (mark-cleared) eId
// of the internal id it names — the two-level comparator §4.7 phase C
// calls for, since parsort's own tie-break on ref matches the required
// tie-break on internal id (internalIDs is already in ascending
// internal-id order).
type collisionValues struct {
	store *collisionStore
	data  array.LongStore
}

func (v collisionValues) Value(ref uint64) uint64 {
	return bitpack.CollisionMark.Clear(v.data.Get(v.store.internalIDs.Get(ref)))
}

// sortForDuplicateScan builds a fresh radix index over the collision
// entries' eIds and sorts a tracker over them, producing the run adjacency
// the duplicate scan needs: entries with equal eIds end up contiguous in
// tracker order, in ascending internal-id order. Group is not part of the
// sort key, so entries of different groups can interleave within a run.
func sortForDuplicateScan(ctx context.Context, store *collisionStore, data array.LongStore, workers int) (array.Tracker, error) {
	n := uint64(store.len())
	tracker := array.NewTracker(n)
	if n == 0 {
		return tracker, nil
	}
	values := collisionValues{store: store, data: data}
	idx := radix.New()
	for i := uint64(0); i < n; i++ {
		idx.Register(values.Value(i))
	}
	if err := parsort.Sort(ctx, tracker, values, idx, workers); err != nil {
		return nil, err
	}
	return tracker, nil
}
