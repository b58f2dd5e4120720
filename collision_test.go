package encodeidmap

import (
	"context"
	"testing"

	"github.com/ruizhang0519/encodeidmap/internal/array"
	"github.com/ruizhang0519/encodeidmap/internal/bitpack"
)

func TestFingerprintDeterministic(t *testing.T) {
	if fingerprint("hello") != fingerprint("hello") {
		t.Fatal("fingerprint is not deterministic for the same input")
	}
	if fingerprint("hello") == fingerprint("goodbye") {
		t.Fatal("fingerprint collided for two very different strings (statistically implausible)")
	}
}

func TestFingerprintUnsupportedTypeIsZero(t *testing.T) {
	if got := fingerprint(1234); got != 0 {
		t.Fatalf("fingerprint(int) = %d, want 0 for an unsupported type", got)
	}
}

func TestInputIDsEqualHandlesByteSlices(t *testing.T) {
	if !inputIDsEqual([]byte("abc"), []byte("abc")) {
		t.Fatal("inputIDsEqual([]byte, []byte) with equal contents = false")
	}
	if inputIDsEqual([]byte("abc"), []byte("xyz")) {
		t.Fatal("inputIDsEqual([]byte, []byte) with different contents = true")
	}
}

func TestInputIDsEqualHandlesStrings(t *testing.T) {
	if !inputIDsEqual("abc", "abc") {
		t.Fatal("inputIDsEqual(string, string) with equal contents = false")
	}
	if inputIDsEqual("abc", "xyz") {
		t.Fatal("inputIDsEqual(string, string) with different contents = true")
	}
}

func TestInputIDsEqualMixedTypesNeverPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("inputIDsEqual panicked: %v", r)
		}
	}()
	if inputIDsEqual([]byte("abc"), "abc") {
		t.Fatal("a []byte and a string with the same bytes should not compare equal")
	}
}

func TestBuildCollisionStoreOrdersByInternalID(t *testing.T) {
	data := array.NewLongArray(0)
	// Mark ids 2 and 5 as colliding; 0, 1, 3, 4 are not.
	for i := uint64(0); i < 6; i++ {
		data.Set(i, i+1) // arbitrary non-zero eIds
	}
	data.Set(2, bitpack.CollisionMark.Set(data.Get(2), 1))
	data.Set(5, bitpack.CollisionMark.Set(data.Get(5), 1))

	names := map[uint64]string{2: "two", 5: "five"}
	store := buildCollisionStore(defaultArrayFactory{}, data, 5, 2, func(id uint64) any { return names[id] })

	if store.len() != 2 {
		t.Fatalf("len() = %d, want 2", store.len())
	}
	id0, _ := store.entry(0)
	id1, _ := store.entry(1)
	if id0 != 2 || id1 != 5 {
		t.Fatalf("entries not in ascending internal-id order: %d, %d", id0, id1)
	}
}

func TestCollisionStoreFindByInternalID(t *testing.T) {
	data := array.NewLongArray(0)
	for i := uint64(0); i < 3; i++ {
		data.Set(i, i+1)
	}
	data.Set(1, bitpack.CollisionMark.Set(data.Get(1), 1))
	store := buildCollisionStore(defaultArrayFactory{}, data, 2, 1, func(id uint64) any { return "x" })

	if _, ok := store.findByInternalID(1); !ok {
		t.Fatal("findByInternalID(1) not found, want found")
	}
	if _, ok := store.findByInternalID(0); ok {
		t.Fatal("findByInternalID(0) found an entry that was never marked")
	}
}

func TestSortForDuplicateScanGroupsByEID(t *testing.T) {
	data := array.NewLongArray(0)
	eids := []uint64{50, 10, 10, 30}
	for i, v := range eids {
		data.Set(uint64(i), bitpack.CollisionMark.Set(v, 1))
	}
	ids := defaultArrayFactory{}.NewFixedLongArray(4, 0)
	for i, id := range []uint64{0, 1, 2, 3} {
		ids.Set(uint64(i), id)
	}
	store := &collisionStore{
		internalIDs: ids,
		meta: []collisionEntry{
			{inputID: "a"},
			{inputID: "b"},
			{inputID: "c"},
			{inputID: "d"},
		},
	}

	tracker, err := sortForDuplicateScan(context.Background(), store, data, 2)
	if err != nil {
		t.Fatalf("sortForDuplicateScan() = %v", err)
	}
	if tracker.Len() != 4 {
		t.Fatalf("tracker.Len() = %d, want 4", tracker.Len())
	}
	// The two entries sharing eId 10 (refs 1 and 2) must end up adjacent.
	positions := make(map[uint64]uint64)
	for i := uint64(0); i < tracker.Len(); i++ {
		positions[tracker.Get(i)] = i
	}
	p1, p2 := positions[1], positions[2]
	diff := int64(p1) - int64(p2)
	if diff != 1 && diff != -1 {
		t.Fatalf("entries sharing an eId are not adjacent: positions %d, %d", p1, p2)
	}
}

func TestSortForDuplicateScanEmpty(t *testing.T) {
	store := &collisionStore{}
	data := array.NewLongArray(0)
	tracker, err := sortForDuplicateScan(context.Background(), store, data, 2)
	if err != nil {
		t.Fatalf("sortForDuplicateScan() = %v", err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("tracker.Len() = %d, want 0", tracker.Len())
	}
}
