// Package parsort implements the mapper's parallel, radix-partitioned
// tracker sort: partition the tracker into contiguous ranges by radix
// bucket, then quicksort each range independently across a small pool of
// worker goroutines. The array being sorted (the data cache) is never
// touched; only the tracker permutation moves.
package parsort

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	errs "github.com/ruizhang0519/encodeidmap/errors"
	"github.com/ruizhang0519/encodeidmap/internal/array"
	"github.com/ruizhang0519/encodeidmap/internal/radix"
)

// Values supplies the sort key for a raw tracker reference. In the mapper's
// main sort, a ref is an internal id and Value looks it up in the data
// cache; in the collision side-store's duplicate-detection sort, a ref is
// an index into the collision arrays.
type Values interface {
	// Value returns the eId (collision mark already cleared) that ref
	// sorts by.
	Value(ref uint64) uint64
}

// less orders two refs by (eId, ref): eId ascending, ties broken by ref
// ascending. Because ref is unique, this is a strict total order, which is
// what gives the sort its stability invariant (equal-eId runs come out in
// ascending ref order) without needing a separate stable-sort algorithm.
func less(v Values, a, b uint64) bool {
	va, vb := v.Value(a), v.Value(b)
	if va != vb {
		return va < vb
	}
	return a < b
}

// Sort partitions tracker by radix bucket (using radixIdx, which must
// already have been populated over the same values), then quicksorts each
// bucket range in parallel across up to workers goroutines. Afterward,
// iterating tracker yields refs whose Values are non-decreasing.
func Sort(ctx context.Context, tracker array.Tracker, values Values, radixIdx *radix.Index, workers int) error {
	n := tracker.Len()
	if n == 0 {
		return nil
	}

	scatter(tracker, values, radixIdx, n)

	ranges := radixIdx.Ranges()
	if len(ranges) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(ranges) {
		workers = len(ranges)
	}

	workChan := make(chan radix.Range, len(ranges))
	for _, r := range ranges {
		workChan <- r
	}
	close(workChan)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: worker %d: %v", errs.ErrWorkerPanicked, i, rec)
				}
			}()
			for r := range workChan {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				sortRange(tracker, values, r.Start, r.End)
			}
			return nil
		})
	}
	return g.Wait()
}

// scatter moves every ref (0..n-1, the tracker's identity permutation) into
// the contiguous index range its radix bucket owns. Order within a bucket
// is unspecified until sortRange runs; this step only guarantees that all
// refs sharing a radix code land in one contiguous span.
func scatter(tracker array.Tracker, values Values, radixIdx *radix.Index, n uint64) {
	buckets := radixIdx.Buckets()
	cursor := make([]uint64, radix.NumCodes)
	for code := range cursor {
		cursor[code] = buckets[code].Start
	}

	scattered := make([]uint64, n)
	for ref := uint64(0); ref < n; ref++ {
		code := radix.Code(values.Value(ref))
		pos := cursor[code]
		cursor[code]++
		scattered[pos] = ref
	}
	for i := uint64(0); i < n; i++ {
		tracker.Set(i, scattered[i])
	}
}

// sortRange quicksorts tracker[start:end) in place. It copies the range
// into a plain slice first: index arithmetic on a []uint64 is far cheaper
// and far less error-prone than repeated Tracker.Get/Set calls inside the
// hot inner loop of a quicksort partition.
func sortRange(tracker array.Tracker, values Values, start, end uint64) {
	n := end - start
	if n < 2 {
		return
	}
	refs := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		refs[i] = tracker.Get(start + i)
	}
	quicksort(refs, values, 0, int(n)-1)
	for i := uint64(0); i < n; i++ {
		tracker.Set(start+i, refs[i])
	}
}

// smallCutoff is the run length below which quicksort defers to a plain
// insertion sort, avoiding partition overhead on tiny buckets.
const smallCutoff = 16

func quicksort(refs []uint64, values Values, lo, hi int) {
	for lo < hi {
		if hi-lo < smallCutoff {
			insertionSort(refs, values, lo, hi)
			return
		}
		p := partition(refs, values, lo, hi)
		// Recurse into the smaller side and loop into the larger side to
		// bound stack depth to O(log n).
		if p-lo < hi-p {
			quicksort(refs, values, lo, p-1)
			lo = p + 1
		} else {
			quicksort(refs, values, p+1, hi)
			hi = p - 1
		}
	}
}

func insertionSort(refs []uint64, values Values, lo, hi int) {
	for i := lo + 1; i <= hi; i++ {
		v := refs[i]
		j := i
		for j > lo && less(values, v, refs[j-1]) {
			refs[j] = refs[j-1]
			j--
		}
		refs[j] = v
	}
}

// partition pivots on the median of refs[lo], refs[mid], refs[hi] and
// returns the pivot's final index, with everything left of it <= pivot and
// everything right of it >= pivot. Requires hi-lo >= smallCutoff.
func partition(refs []uint64, values Values, lo, hi int) int {
	mid := lo + (hi-lo)/2
	if less(values, refs[mid], refs[lo]) {
		refs[mid], refs[lo] = refs[lo], refs[mid]
	}
	if less(values, refs[hi], refs[lo]) {
		refs[hi], refs[lo] = refs[lo], refs[hi]
	}
	if less(values, refs[hi], refs[mid]) {
		refs[hi], refs[mid] = refs[mid], refs[hi]
	}
	refs[mid], refs[hi-1] = refs[hi-1], refs[mid]
	pivot := refs[hi-1]

	i, j := lo, hi-1
	for {
		i++
		for less(values, refs[i], pivot) {
			i++
		}
		j--
		for less(values, pivot, refs[j]) {
			j--
		}
		if i >= j {
			break
		}
		refs[i], refs[j] = refs[j], refs[i]
	}
	refs[i], refs[hi-1] = refs[hi-1], refs[i]
	return i
}
