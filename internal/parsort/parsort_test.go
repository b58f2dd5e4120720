package parsort

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"testing"

	errs "github.com/ruizhang0519/encodeidmap/errors"
	"github.com/ruizhang0519/encodeidmap/internal/array"
	"github.com/ruizhang0519/encodeidmap/internal/radix"
)

// newTestRNG returns an fnv-seeded RNG so runs are reproducible across a
// test binary invocation without a fixed literal seed.
func newTestRNG(seed string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

type sliceValues []uint64

func (v sliceValues) Value(ref uint64) uint64 { return v[ref] }

func buildRadixIndex(values []uint64) *radix.Index {
	idx := radix.New()
	for _, v := range values {
		idx.Register(v)
	}
	return idx
}

func assertSorted(t *testing.T, tracker array.Tracker, values sliceValues) {
	t.Helper()
	n := tracker.Len()
	for i := uint64(1); i < n; i++ {
		a, b := tracker.Get(i-1), tracker.Get(i)
		va, vb := values[a], values[b]
		if va > vb || (va == vb && a > b) {
			t.Fatalf("tracker not sorted at %d/%d: refs (%d,%d) values (%d,%d)", i-1, i, a, b, va, vb)
		}
	}
	seen := make(map[uint64]bool, n)
	for i := uint64(0); i < n; i++ {
		ref := tracker.Get(i)
		if seen[ref] {
			t.Fatalf("ref %d appears more than once in tracker", ref)
		}
		seen[ref] = true
	}
}

func TestSortOrdersByValueThenRef(t *testing.T) {
	rng := newTestRNG("parsort-basic")
	const n = 5000
	values := make([]uint64, n)
	for i := range values {
		values[i] = uint64(rng.Intn(200)) << radix.Shift
	}

	tracker := array.NewTracker(n)
	idx := buildRadixIndex(values)

	if err := Sort(context.Background(), tracker, sliceValues(values), idx, 4); err != nil {
		t.Fatalf("Sort returned error: %v", err)
	}
	assertSorted(t, tracker, sliceValues(values))
}

func TestSortSingleWorker(t *testing.T) {
	rng := newTestRNG("parsort-single")
	const n = 2000
	values := make([]uint64, n)
	for i := range values {
		values[i] = uint64(rng.Intn(50)) << radix.Shift
	}
	tracker := array.NewTracker(n)
	idx := buildRadixIndex(values)

	if err := Sort(context.Background(), tracker, sliceValues(values), idx, 1); err != nil {
		t.Fatalf("Sort returned error: %v", err)
	}
	assertSorted(t, tracker, sliceValues(values))
}

func TestSortAllEqualValues(t *testing.T) {
	const n = 1000
	values := make([]uint64, n)
	for i := range values {
		values[i] = uint64(3) << radix.Shift
	}
	tracker := array.NewTracker(n)
	idx := buildRadixIndex(values)

	if err := Sort(context.Background(), tracker, sliceValues(values), idx, 8); err != nil {
		t.Fatalf("Sort returned error: %v", err)
	}
	// All values equal: ties break on ref, so the tracker should come out
	// as the identity permutation.
	for i := uint64(0); i < n; i++ {
		if tracker.Get(i) != i {
			t.Fatalf("tracker[%d] = %d, want %d (identity, tie-broken by ref)", i, tracker.Get(i), i)
		}
	}
}

func TestSortEmpty(t *testing.T) {
	tracker := array.NewTracker(0)
	idx := radix.New()
	if err := Sort(context.Background(), tracker, sliceValues(nil), idx, 4); err != nil {
		t.Fatalf("Sort on empty tracker returned error: %v", err)
	}
}

// panicAfterTracker wraps a Tracker and panics on the first Set call past
// the n-th, which lands the panic inside a sortRange goroutine's write-back
// loop rather than scatter's own single-threaded fill.
type panicAfterTracker struct {
	array.Tracker
	n     int
	mu    sync.Mutex
	calls int
}

func (t *panicAfterTracker) Set(i, v uint64) {
	t.mu.Lock()
	t.calls++
	trigger := t.calls > t.n
	t.mu.Unlock()
	if trigger {
		panic("simulated tracker failure")
	}
	t.Tracker.Set(i, v)
}

func TestSortRecoversWorkerPanic(t *testing.T) {
	rng := newTestRNG("parsort-panic")
	const n = 5000
	values := make([]uint64, n)
	for i := range values {
		values[i] = uint64(rng.Intn(200)) << radix.Shift
	}
	tracker := &panicAfterTracker{Tracker: array.NewTracker(n), n: n}
	idx := buildRadixIndex(values)

	err := Sort(context.Background(), tracker, sliceValues(values), idx, 4)
	if !errors.Is(err, errs.ErrWorkerPanicked) {
		t.Fatalf("Sort() = %v, want ErrWorkerPanicked", err)
	}
}

func TestSortPropagatesCancellation(t *testing.T) {
	rng := newTestRNG("parsort-cancel")
	const n = 20000
	values := make([]uint64, n)
	for i := range values {
		values[i] = uint64(rng.Intn(NumCodesForTest())) << radix.Shift
	}
	tracker := array.NewTracker(n)
	idx := buildRadixIndex(values)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sort(ctx, tracker, sliceValues(values), idx, 4)
	if err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}
}

// NumCodesForTest avoids importing radix.NumCodes directly into a rand call
// expression, keeping the table setup readable.
func NumCodesForTest() int { return radix.NumCodes }

func TestQuicksortMatchesStdlibSort(t *testing.T) {
	rng := newTestRNG("parsort-quicksort")
	const n = 3000
	refs := make([]uint64, n)
	values := make(sliceValues, n)
	for i := range refs {
		refs[i] = uint64(i)
		values[i] = uint64(rng.Intn(1000))
	}
	rng.Shuffle(n, func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })

	want := append([]uint64(nil), refs...)
	sort.Slice(want, func(i, j int) bool { return less(values, want[i], want[j]) })

	quicksort(refs, values, 0, n-1)
	for i := range refs {
		if refs[i] != want[i] {
			t.Fatalf("quicksort diverged from sort.Slice at %d: got %d want %d", i, refs[i], want[i])
		}
	}
}
