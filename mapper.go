package encodeidmap

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	errs "github.com/ruizhang0519/encodeidmap/errors"
	"github.com/ruizhang0519/encodeidmap/internal/array"
	"github.com/ruizhang0519/encodeidmap/internal/bitpack"
	"github.com/ruizhang0519/encodeidmap/internal/parsort"
	"github.com/ruizhang0519/encodeidmap/internal/radix"
	"github.com/ruizhang0519/encodeidmap/internal/workerpool"
)

// InputIDLookup resolves an internal id back to the original input
// identifier that was Put there. Called only for internal ids whose eId
// carries the collision mark, during phase C of prepare.
type InputIDLookup func(internalID uint64) any

type mapperState int32

const (
	stateOpen mapperState = iota
	statePrepared
	stateClosed
	statePoisoned
)

func (s mapperState) String() string {
	switch s {
	case stateOpen:
		return "OPEN"
	case statePrepared:
		return "PREPARED"
	case stateClosed:
		return "CLOSED"
	case statePoisoned:
		return "POISONED"
	default:
		return "UNKNOWN"
	}
}

// Mapper assigns arbitrary input identifiers to dense internal ids and,
// after Prepare, answers Get(input_id, group) lookups. The lifecycle is
// OPEN -> PREPARED -> CLOSED, with a POISONED state entered if prepare
// fails fatally; only Close is legal from POISONED.
type Mapper struct {
	cfg     *config
	encoder Encoder

	data       array.LongStore
	groupCache array.ByteStore
	groups     *Groups

	highestInternalID uint64
	hasAny            bool

	buckets []radix.Bucket
	track   array.Tracker

	collisions       *collisionStore
	collisionTracker array.Tracker

	state atomic.Int32
}

// NewMapper constructs an empty Mapper using encoder to turn input
// identifiers into eIds. See Option for construction-time configuration.
func NewMapper(encoder Encoder, opts ...Option) *Mapper {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Mapper{
		cfg:        cfg,
		encoder:    encoder,
		data:       cfg.arrayFactory.NewLongArray(0),
		groupCache: cfg.arrayFactory.NewByteArray(array.GroupCacheDefault),
		groups:     NewGroups(),
	}
}

// Put records that inputID, encoded, should be retrievable at internalID
// within group. Legal only before Prepare; not safe to call concurrently
// with itself or with Get/Prepare — the caller must serialize its own
// puts, matching the single-producer contract of a bulk import.
func (m *Mapper) Put(inputID any, internalID uint64, group Group) error {
	switch mapperState(m.state.Load()) {
	case stateClosed:
		return errs.ErrClosed
	case statePoisoned:
		return errs.ErrPoisoned
	case statePrepared:
		return errs.ErrPutAfterPrepare
	}

	eid, err := m.encoder.Encode(inputID)
	if err != nil {
		return fmt.Errorf("encodeidmap: encoding input id: %w", err)
	}
	if eid == 0 {
		return errs.ErrEncoderReturnedGap
	}
	if bitpack.CollisionMark.Get(eid) != 0 {
		return errs.ErrEncoderSetCollisionBit
	}
	if int(group.ID) >= m.cfg.groupCapacity {
		return errs.ErrTooManyGroups
	}

	m.data.Set(internalID, eid)
	m.groupCache.Set(internalID, group.ID)
	if err := m.groups.Register(group); err != nil {
		return err
	}
	if !m.hasAny || internalID > m.highestInternalID {
		m.highestInternalID = internalID
	}
	m.hasAny = true
	return nil
}

// NeedsPreparation always returns true: a Mapper must always run Prepare
// before Get is legal.
func (m *Mapper) NeedsPreparation() bool { return true }

// dataValues adapts the mapper's data cache into parsort.Values for the
// main sort: a ref is an internal id, and its sort key is the (mark-
// cleared) eId stored there.
type dataValues struct {
	data array.LongStore
}

func (v dataValues) Value(ref uint64) uint64 {
	return bitpack.CollisionMark.Clear(v.data.Get(ref))
}

// Prepare runs the mapper's one-shot, three-phase bulk algorithm: sort the
// tracker, mark collisions, and (only if any were found) resolve them and
// report duplicates to collector. It is not safe to call twice, and it is
// not safe to call Get concurrently with it. If ctx is cancelled while a
// worker-pool phase is in flight, prepare returns ErrPrepareInterrupted
// and the mapper is poisoned — only Close remains legal.
func (m *Mapper) Prepare(ctx context.Context, lookup InputIDLookup, collector Collector, progress Progress) error {
	switch mapperState(m.state.Load()) {
	case stateClosed:
		return errs.ErrClosed
	case statePoisoned:
		return errs.ErrPoisoned
	case statePrepared:
		return errs.ErrAlreadyPrepared
	}
	if collector == nil {
		collector = noopCollector{}
	}
	if progress == nil {
		progress = noopProgress{}
	}

	if !m.hasAny {
		m.markFinishedWriting()
		m.state.Store(int32(statePrepared))
		return nil
	}

	n := m.highestInternalID + 1

	progress.Started("SPLIT")
	radixIdx := radix.New()
	for i := uint64(0); i < n; i++ {
		radixIdx.Register(m.data.Get(i))
	}
	progress.Add(int(n))
	progress.Done()

	if err := ctx.Err(); err != nil {
		m.state.Store(int32(statePoisoned))
		return errs.ErrPrepareInterrupted
	}

	progress.Started("SORT")
	track := m.cfg.arrayFactory.NewTracker(n)
	if err := parsort.Sort(ctx, track, dataValues{data: m.data}, radixIdx, m.cfg.workers); err != nil {
		m.state.Store(int32(statePoisoned))
		if ctx.Err() != nil {
			return errs.ErrPrepareInterrupted
		}
		return err
	}
	progress.Add(int(n))
	progress.Done()
	m.track = track
	m.buckets = radixIdx.Buckets()

	progress.Started("DETECT")
	collisionCount, err := m.detectCollisions(ctx, n)
	if err != nil {
		m.state.Store(int32(statePoisoned))
		if ctx.Err() != nil {
			return errs.ErrPrepareInterrupted
		}
		return err
	}
	progress.Add(int(n))
	progress.Done()
	if m.cfg.monitor != nil {
		m.cfg.monitor.NumberOfCollisions(collisionCount)
	}

	if collisionCount > 0 {
		progress.Started(fmt.Sprintf("RESOLVE (%d collisions)", collisionCount))
		if err := m.resolveCollisions(ctx, lookup, collisionCount); err != nil {
			m.state.Store(int32(statePoisoned))
			return err
		}
		progress.Add(collisionCount)
		progress.Done()

		progress.Started("DEDUPLICATE")
		m.reportDuplicates(collector)
		progress.Add(m.collisions.len())
		progress.Done()
	}

	m.markFinishedWriting()
	m.state.Store(int32(statePrepared))
	return nil
}

// markFinishedWriting tells the data cache and group cache their writes are
// done and Get's random-access lookups are about to begin, so an
// mmap-backed store can switch its madvise hint accordingly. Heap-backed
// arrays don't implement finishedWriter and are skipped.
func (m *Mapper) markFinishedWriting() {
	if fw, ok := m.data.(finishedWriter); ok {
		fw.FinishedWriting()
	}
	if fw, ok := m.groupCache.(finishedWriter); ok {
		fw.FinishedWriting()
	}
}

// sameGroupDetector is the two-field state machine phase B uses to track
// the first member of the current equal-eId, same-group run: no heap
// allocation needed, matching the original's own hand-rolled equivalent.
type sameGroupDetector struct {
	active bool
	first  uint64
}

func (d *sameGroupDetector) reset() { d.active = false }

// firstOf returns the internal id every member of the current run should
// mark against: a if this is a new run, otherwise the run's remembered
// first member.
func (d *sameGroupDetector) firstOf(a uint64) uint64 {
	if !d.active {
		d.active = true
		d.first = a
	}
	return d.first
}

// markCollision sets the collision mark on internalID's eId, returning
// true only the first time (idempotent marks don't recount).
func (m *Mapper) markCollision(internalID uint64) bool {
	eid := m.data.Get(internalID)
	if bitpack.CollisionMark.Get(eid) != 0 {
		return false
	}
	m.data.Set(internalID, bitpack.CollisionMark.Set(eid, 1))
	return true
}

func (m *Mapper) detectCollisions(ctx context.Context, n uint64) (int, error) {
	counts := make([]int64, len(workerpool.Split(n, m.cfg.workers)))
	err := workerpool.Run(ctx, n, m.cfg.workers, func(_ context.Context, r workerpool.Range) error {
		return m.detectRange(r, &counts[r.Worker])
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	if total > math.MaxInt32 {
		return 0, errs.ErrTooManyCollisions
	}
	return int(total), nil
}

func (m *Mapper) detectRange(r workerpool.Range, counter *int64) error {
	var lastI uint64
	switch {
	case r.Last:
		if r.To < 2 {
			return nil
		}
		lastI = r.To - 2
	default:
		if r.To < 1 {
			return nil
		}
		lastI = r.To - 1
	}

	var det sameGroupDetector
	for i := r.From; i <= lastI; i++ {
		a := m.track.Get(i)
		b := m.track.Get(i + 1)
		eidA := bitpack.CollisionMark.Clear(m.data.Get(a))
		eidB := bitpack.CollisionMark.Clear(m.data.Get(b))

		if eidA == 0 || eidB == 0 {
			det.reset()
			continue
		}

		switch {
		case eidA < eidB:
			det.reset()
		case eidA > eidB:
			return fmt.Errorf("%w: tracker positions %d,%d (internal ids %d,%d)", errs.ErrUnsortedData, i, i+1, a, b)
		default:
			if m.groupCache.Get(a) != m.groupCache.Get(b) {
				det.reset()
				continue
			}
			first := det.firstOf(a)
			if m.markCollision(first) {
				*counter++
			}
			if m.markCollision(b) {
				*counter++
			}
			// The invariant this establishes ("ascending internal id
			// within an equal-eId run") already falls out of the sort's
			// own comparator (which ties on internal id), but the swap is
			// kept anyway for parity with the source it's grounded on —
			// see DESIGN.md.
			if a > b {
				m.track.Swap(i, i+1)
			}
		}
	}
	return nil
}

func (m *Mapper) resolveCollisions(ctx context.Context, lookup InputIDLookup, numCollisions int) error {
	m.collisions = buildCollisionStore(m.cfg.arrayFactory, m.data, m.highestInternalID, numCollisions, lookup)

	if m.cfg.strictEncoderCheck {
		for i := 0; i < m.collisions.len(); i++ {
			internalID, e := m.collisions.entry(i)
			reencoded, err := m.encoder.Encode(e.inputID)
			if err != nil {
				return fmt.Errorf("encodeidmap: re-encoding internal id %d during collision resolution: %w", internalID, err)
			}
			stored := bitpack.CollisionMark.Clear(m.data.Get(internalID))
			if bitpack.CollisionMark.Clear(reencoded) != stored {
				return fmt.Errorf("%w: internal id %d", errs.ErrEncoderNotDeterministic, internalID)
			}
		}
	}

	tracker, err := sortForDuplicateScan(ctx, m.collisions, m.data, m.cfg.workers)
	if err != nil {
		if ctx.Err() != nil {
			return errs.ErrPrepareInterrupted
		}
		return err
	}
	m.collisionTracker = tracker
	return nil
}

func (m *Mapper) reportDuplicates(collector Collector) {
	n := uint64(m.collisions.len())
	if n == 0 {
		return
	}

	// Equal-eId runs are ordered by internal id, not grouped by group, so
	// the run's entries are compared by group as well as by input id.
	type seenEntry struct {
		group uint16
		entry collisionEntry
	}
	var seen []seenEntry
	var prevEID uint64
	havePrev := false

	for i := uint64(0); i < n; i++ {
		ref := m.collisionTracker.Get(i)
		curID, cur := m.collisions.entry(int(ref))
		curEID := bitpack.CollisionMark.Clear(m.data.Get(curID))
		curGroup := m.groupCache.Get(curID)

		if !havePrev || curEID != prevEID {
			seen = seen[:0]
			havePrev = true
		}
		for _, s := range seen {
			if s.group == curGroup && s.entry.fingerprint == cur.fingerprint && inputIDsEqual(s.entry.inputID, cur.inputID) {
				collector.Duplicate(cur.inputID, curID, m.groups.NameOf(curGroup))
				break
			}
		}
		seen = append(seen, seenEntry{group: curGroup, entry: cur})
		prevEID = curEID
	}

	// Phase C's transient collision tracker is only needed for this scan;
	// the input-id and internal-id lists in m.collisions live on for Get.
	m.collisionTracker = nil
}

// Get returns the internal id that inputID was Put at within group — the
// lowest one, if it was Put more than once — or (0, false) if no such
// entry exists. Legal only after Prepare; safe for any number of
// concurrent callers, since everything it reads is written once during
// Prepare and never again.
func (m *Mapper) Get(inputID any, group Group) (uint64, bool) {
	if mapperState(m.state.Load()) != statePrepared || !m.hasAny {
		return 0, false
	}
	eid, err := m.encoder.Encode(inputID)
	if err != nil || eid == 0 {
		return 0, false
	}
	eid = bitpack.CollisionMark.Clear(eid)

	rx := radix.Code(eid)
	low, high := radix.Zoom(m.buckets, rx, m.highestInternalID)
	if id, ok := m.searchRange(low, high, eid, group, inputID); ok {
		return id, true
	}
	// Radix-zoomed search missed; fall back to a full search once, per the
	// original's own binarySearch fallback (see DESIGN.md's Open Question
	// decision).
	return m.searchRange(0, m.highestInternalID, eid, group, inputID)
}

func (m *Mapper) binarySearch(low, high, eid uint64) (uint64, bool) {
	for low <= high {
		mid := low + (high-low)/2
		ref := m.track.Get(mid)
		if ref == array.NotFound {
			return 0, false
		}
		v := bitpack.CollisionMark.Clear(m.data.Get(ref))
		switch {
		case v == eid:
			return mid, true
		case v < eid:
			low = mid + 1
		default:
			if mid == low {
				return 0, false
			}
			high = mid - 1
		}
	}
	return 0, false
}

func (m *Mapper) searchRange(low, high, eid uint64, group Group, inputID any) (uint64, bool) {
	if low > high {
		return 0, false
	}
	mid, found := m.binarySearch(low, high, eid)
	if !found {
		return 0, false
	}

	lo := mid
	for lo > low {
		ref := m.track.Get(lo - 1)
		if ref == array.NotFound || bitpack.CollisionMark.Clear(m.data.Get(ref)) != eid {
			break
		}
		lo--
	}
	hi := mid
	for hi < high {
		ref := m.track.Get(hi + 1)
		if ref == array.NotFound || bitpack.CollisionMark.Clear(m.data.Get(ref)) != eid {
			break
		}
		hi++
	}

	queryFP := fingerprint(inputID)
	best := array.NotFound
	for i := lo; i <= hi; i++ {
		id := m.track.Get(i)
		if id == array.NotFound || m.groupCache.Get(id) != group.ID {
			continue
		}
		raw := m.data.Get(id)
		if bitpack.CollisionMark.Get(raw) == 0 {
			if best == array.NotFound || id < best {
				best = id
			}
			continue
		}
		entry, ok := m.collisions.findByInternalID(id)
		if ok && entry.fingerprint == queryFP && inputIDsEqual(entry.inputID, inputID) {
			if best == array.NotFound || id < best {
				best = id
			}
		}
	}
	if best == array.NotFound {
		return 0, false
	}
	return best, true
}

// CalculateMemoryUsage estimates the byte footprint of a mapper holding
// numNodes nodes: 8 bytes of data cache plus the tracker width that many
// nodes would require, per node.
func (m *Mapper) CalculateMemoryUsage(numNodes uint64) uint64 {
	var highest uint64
	if numNodes > 0 {
		highest = numNodes - 1
	}
	return numNodes * (8 + array.TrackerWidthBytes(highest))
}

// AcceptMemoryStats reports the live/reserved byte footprint of every
// array the mapper currently holds.
func (m *Mapper) AcceptMemoryStats(v MemoryStatsVisitor) {
	m.data.Accept("data-cache", v)
	m.groupCache.Accept("group-cache", v)
	if m.track != nil {
		m.track.Accept("tracker", v)
	}
	if m.collisions != nil {
		m.collisions.internalIDs.Accept("collision-side-store-ids", v)
		// collisionEntry is {inputID any; fingerprint uint32}: the any's 16-byte
		// interface header dominates, fingerprint plus padding rounds it to 24.
		const bytesPerMeta = 24
		live := uint64(m.collisions.len()) * bytesPerMeta
		v.VisitMemoryStats("collision-side-store-meta", live, live)
	}
}

// Close releases the mapper's arrays. Legal from any state; calling it
// more than once is a no-op.
func (m *Mapper) Close() error {
	prev := m.state.Swap(int32(stateClosed))
	if prev == int32(stateClosed) {
		return nil
	}
	if closer, ok := m.cfg.arrayFactory.(interface{ CloseArrays() error }); ok {
		return closer.CloseArrays()
	}
	return nil
}

// String reports the encoder in use and the mapper's current state, for
// diagnostics.
func (m *Mapper) String() string {
	return fmt.Sprintf("Mapper{encoder=%T, highestInternalID=%d, state=%s}",
		m.encoder, m.highestInternalID, mapperState(m.state.Load()))
}
