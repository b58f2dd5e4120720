package encodeidmap

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ruizhang0519/encodeidmap/internal/array"
)

// ArrayFactory constructs the packed arrays a Mapper needs: the data
// cache, the group cache, the sort tracker, and the collision side-store's
// internal-id list. The default factory backs all of them with Go-heap
// chunks (internal/array's own constructors);
// MmapArrayFactory is the alternative for datasets whose per-node budget
// would otherwise pressure the GC or the process's RSS accounting.
type ArrayFactory interface {
	NewLongArray(gap uint64) array.LongStore
	NewFixedLongArray(length, gap uint64) array.LongStore
	NewByteArray(gap uint16) array.ByteStore
	NewTracker(length uint64) array.Tracker
}

// finishedWriter is implemented by array backings that care about the
// switch from sequential writes (during Put/Prepare) to random-access reads
// (during Get) — currently only the mmap-backed arrays, whose madvise hint
// changes accordingly. The heap-backed default arrays have no such hint to
// give and don't implement it.
type finishedWriter interface {
	FinishedWriting()
}

type defaultArrayFactory struct{}

func (defaultArrayFactory) NewLongArray(gap uint64) array.LongStore {
	return array.NewLongArray(gap)
}

func (defaultArrayFactory) NewFixedLongArray(length, gap uint64) array.LongStore {
	return array.NewFixedLongArray(length, gap)
}

func (defaultArrayFactory) NewByteArray(gap uint16) array.ByteStore {
	return array.NewByteArray(gap)
}

func (defaultArrayFactory) NewTracker(length uint64) array.Tracker {
	return array.NewTracker(length)
}

// MmapArrayFactory backs the data cache, the group cache, and the
// collision side-store's internal-id list with growable, memory-mapped
// temp files instead of Go-heap chunks, keeping a large
// index's bulk outside the GC's reach. The tracker stays heap-backed: it's
// transient (freed once prepare finishes) and small relative to the data
// cache, so mmap'ing it buys nothing.
type MmapArrayFactory struct {
	dir     string
	opened  []interface{ Close() error }
}

// NewMmapArrayFactory returns a factory whose arrays are backed by
// memory-mapped temp files created under dir (the OS default temp
// directory if dir is ""). It probes dir up front so construction failures
// surface immediately rather than on the first array allocation.
func NewMmapArrayFactory(dir string) (*MmapArrayFactory, error) {
	probe, err := os.CreateTemp(dir, "encodeidmap-probe-*")
	if err != nil {
		return nil, fmt.Errorf("encodeidmap: array factory directory %q is not usable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return &MmapArrayFactory{dir: dir}, nil
}

func (f *MmapArrayFactory) NewLongArray(gap uint64) array.LongStore {
	a := newMmapLongArray(f.dir, gap)
	f.opened = append(f.opened, a)
	return a
}

func (f *MmapArrayFactory) NewFixedLongArray(length, gap uint64) array.LongStore {
	a := newMmapLongArray(f.dir, gap)
	if length > 0 {
		a.ensure(length - 1)
	}
	f.opened = append(f.opened, a)
	return a
}

func (f *MmapArrayFactory) NewByteArray(gap uint16) array.ByteStore {
	a := newMmapByteArray(f.dir, gap)
	f.opened = append(f.opened, a)
	return a
}

func (f *MmapArrayFactory) NewTracker(length uint64) array.Tracker {
	return array.NewTracker(length)
}

// CloseArrays unmaps and removes every temp file this factory created.
// Mapper.Close calls this when the configured ArrayFactory implements it.
func (f *MmapArrayFactory) CloseArrays() error {
	var firstErr error
	for _, a := range f.opened {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.opened = nil
	return firstErr
}

const mmapInitialEntries = 1 << 16

// mmapLongArray is a LongStore backed by a single growable memory-mapped
// temp file: 8 bytes per entry, little-endian, doubling capacity (unmap,
// truncate, remap) whenever a write outgrows the current mapping.
type mmapLongArray struct {
	file   *os.File
	region mmap.MMap
	gap    uint64
	size   uint64
	cap    uint64
}

func newMmapLongArray(dir string, gap uint64) *mmapLongArray {
	f, err := os.CreateTemp(dir, "encodeidmap-long-*")
	if err != nil {
		panic(fmt.Errorf("encodeidmap: creating mmap-backed long array: %w", err))
	}
	os.Remove(f.Name()) // unlinked immediately; the fd keeps the data alive until Close
	a := &mmapLongArray{file: f, gap: gap}
	a.growTo(mmapInitialEntries)
	return a
}

func (a *mmapLongArray) growTo(entries uint64) {
	if a.region != nil {
		if err := a.region.Unmap(); err != nil {
			panic(err)
		}
	}
	if err := a.file.Truncate(int64(entries * 8)); err != nil {
		panic(fmt.Errorf("encodeidmap: growing mmap-backed long array: %w", err))
	}
	region, err := mmap.Map(a.file, mmap.RDWR, 0)
	if err != nil {
		panic(fmt.Errorf("encodeidmap: mapping long array file: %w", err))
	}
	if a.gap != 0 {
		for i := a.cap; i < entries; i++ {
			binary.LittleEndian.PutUint64(region[i*8:i*8+8], a.gap)
		}
	}
	a.region = region
	a.cap = entries
	madviseSequential(region)
}

func (a *mmapLongArray) ensure(index uint64) {
	if index >= a.cap {
		next := a.cap * 2
		if next <= index {
			next = index + 1
		}
		a.growTo(next)
	}
	if index+1 > a.size {
		a.size = index + 1
	}
}

func (a *mmapLongArray) Get(index uint64) uint64 {
	if index >= a.size {
		return a.gap
	}
	return binary.LittleEndian.Uint64(a.region[index*8 : index*8+8])
}

func (a *mmapLongArray) Set(index uint64, value uint64) {
	a.ensure(index)
	binary.LittleEndian.PutUint64(a.region[index*8:index*8+8], value)
}

func (a *mmapLongArray) Swap(i, j uint64) {
	vi, vj := a.Get(i), a.Get(j)
	a.Set(i, vj)
	a.Set(j, vi)
}

func (a *mmapLongArray) Size() uint64 { return a.size }

func (a *mmapLongArray) Accept(name string, v array.MemoryVisitor) {
	v.VisitMemoryStats(name, a.cap*8, a.cap*8)
}

// FinishedWriting hints the kernel that access is about to turn random,
// once prepare's sequential fill is done and lookups begin.
func (a *mmapLongArray) FinishedWriting() {
	madviseRandom(a.region)
}

func (a *mmapLongArray) Close() error {
	var err error
	if a.region != nil {
		err = a.region.Unmap()
	}
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// mmapByteArray mirrors mmapLongArray at 2 bytes per entry, for the group
// cache.
type mmapByteArray struct {
	file   *os.File
	region mmap.MMap
	gap    uint16
	size   uint64
	cap    uint64
}

func newMmapByteArray(dir string, gap uint16) *mmapByteArray {
	f, err := os.CreateTemp(dir, "encodeidmap-byte-*")
	if err != nil {
		panic(fmt.Errorf("encodeidmap: creating mmap-backed byte array: %w", err))
	}
	os.Remove(f.Name())
	a := &mmapByteArray{file: f, gap: gap}
	a.growTo(mmapInitialEntries)
	return a
}

func (a *mmapByteArray) growTo(entries uint64) {
	if a.region != nil {
		if err := a.region.Unmap(); err != nil {
			panic(err)
		}
	}
	if err := a.file.Truncate(int64(entries * 2)); err != nil {
		panic(fmt.Errorf("encodeidmap: growing mmap-backed byte array: %w", err))
	}
	region, err := mmap.Map(a.file, mmap.RDWR, 0)
	if err != nil {
		panic(fmt.Errorf("encodeidmap: mapping byte array file: %w", err))
	}
	if a.gap != 0 {
		for i := a.cap; i < entries; i++ {
			binary.LittleEndian.PutUint16(region[i*2:i*2+2], a.gap)
		}
	}
	a.region = region
	a.cap = entries
	madviseSequential(region)
}

func (a *mmapByteArray) ensure(index uint64) {
	if index >= a.cap {
		next := a.cap * 2
		if next <= index {
			next = index + 1
		}
		a.growTo(next)
	}
	if index+1 > a.size {
		a.size = index + 1
	}
}

func (a *mmapByteArray) Get(index uint64) uint16 {
	if index >= a.size {
		return a.gap
	}
	return binary.LittleEndian.Uint16(a.region[index*2 : index*2+2])
}

func (a *mmapByteArray) Set(index uint64, value uint16) {
	a.ensure(index)
	binary.LittleEndian.PutUint16(a.region[index*2:index*2+2], value)
}

// FinishedWriting hints the kernel that access is about to turn random, the
// same lifecycle switch mmapLongArray.FinishedWriting makes for the data
// cache.
func (a *mmapByteArray) FinishedWriting() {
	madviseRandom(a.region)
}

func (a *mmapByteArray) Size() uint64 { return a.size }

func (a *mmapByteArray) Accept(name string, v array.MemoryVisitor) {
	v.VisitMemoryStats(name, a.cap*2, a.cap*2)
}

func (a *mmapByteArray) Close() error {
	var err error
	if a.region != nil {
		err = a.region.Unmap()
	}
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	return err
}
