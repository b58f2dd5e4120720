// Package radix implements the encoding id mapper's radix index: a dense
// histogram of eIds by their high-order bits, used both to drive the
// parallel sorter's bucket partitioning and, after sort, to "zoom" a
// lookup's binary-search range.
package radix

// Bits is the width of the radix code: the bits of an eId strictly above
// the collision mark at bit 56. Those bits double as the encoder's
// length/confidence metadata (see the eId layout in the data model), which
// makes them a convenient, already-present high-order discriminator.
const Bits = 7

// NumCodes is the number of distinct radix codes (2^Bits).
const NumCodes = 1 << Bits

// Shift is the bit position the radix code starts at.
const Shift = 64 - Bits

// Code extracts the radix code of an eId. It ignores the collision mark
// (bit 56) entirely, so marking or clearing collisions never changes an
// eId's bucket.
func Code(eid uint64) uint32 {
	return uint32(eid >> Shift)
}

// Bucket is one entry of the post-sort zoom table: RadixCeiling is a radix
// code, and Start is the tracker index where entries whose radix code is
// <= RadixCeiling begin (following the previous bucket).
type Bucket struct {
	RadixCeiling uint32
	Start        uint64
}

// Index is a dense histogram over the NumCodes radix codes.
type Index struct {
	counts [NumCodes]uint64
}

// New returns an empty radix index.
func New() *Index {
	return &Index{}
}

// Register tallies one eId's radix code. Call this once per entry (GAP
// entries included) while scanning the data cache.
func (idx *Index) Register(eid uint64) {
	idx.counts[Code(eid)]++
}

// Count returns the number of registered eIds with the given radix code.
func (idx *Index) Count(code uint32) uint64 {
	return idx.counts[code]
}

// Buckets returns the NumCodes-entry zoom table: for radix code k,
// Buckets()[k].Start is the tracker offset where that code's run begins,
// once the tracker has been sorted using this same histogram to drive
// bucket partitioning.
func (idx *Index) Buckets() []Bucket {
	buckets := make([]Bucket, NumCodes)
	var cum uint64
	for code := uint32(0); code < NumCodes; code++ {
		buckets[code] = Bucket{RadixCeiling: code, Start: cum}
		cum += idx.counts[code]
	}
	return buckets
}

// Range is a half-open [Start, End) tracker index range assigned to one
// radix bucket, used to hand disjoint partitions to sort workers.
type Range struct {
	Code  uint32
	Start uint64
	End   uint64
}

// Ranges returns the disjoint [Start, End) tracker ranges for every radix
// code that has at least one member, in ascending code order. Empty codes
// are skipped so the sorter never spins up a worker for zero elements.
func (idx *Index) Ranges() []Range {
	ranges := make([]Range, 0, NumCodes)
	var cum uint64
	for code := uint32(0); code < NumCodes; code++ {
		n := idx.counts[code]
		if n == 0 {
			continue
		}
		ranges = append(ranges, Range{Code: code, Start: cum, End: cum + n})
		cum += n
	}
	return ranges
}

// Total returns the total number of registered entries.
func (idx *Index) Total() uint64 {
	var total uint64
	for _, c := range idx.counts {
		total += c
	}
	return total
}

// Zoom narrows [0, highestInternalID] to the tracker range that a lookup
// for an eId with radix code rx must fall in, using the post-sort bucket
// table. It mirrors the mapper's own binarySearch bucket-selection loop:
// walk the buckets in order and take the first whose ceiling is >= rx.
func Zoom(buckets []Bucket, rx uint32, highestInternalID uint64) (low, high uint64) {
	for k, b := range buckets {
		if rx <= b.RadixCeiling {
			low = b.Start
			var end uint64
			if k == len(buckets)-1 {
				end = highestInternalID + 1
			} else {
				end = buckets[k+1].Start
			}
			if end == 0 {
				// No entries at or below this radix code at all; degenerate
				// single-slot range, safe because get() falls back to a
				// full-range search whenever the zoomed search misses.
				return low, low
			}
			return low, end - 1
		}
	}
	return 0, highestInternalID
}
