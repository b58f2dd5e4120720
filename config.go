package encodeidmap

import "github.com/ruizhang0519/encodeidmap/internal/workerpool"

// Monitor is an optional low-overhead collaborator notified once, after
// phase B of prepare, with the total number of collisions found —
// regardless of whether phase C (collision resolution) subsequently runs.
// Ported from the original's Monitor callback for callers who want the raw
// count without paying for the Collector's per-duplicate plumbing.
type Monitor interface {
	NumberOfCollisions(count int)
}

// config holds every Mapper construction-time option: an unexported struct,
// a defaultConfig constructor, and a functional-options type built around
// it.
type config struct {
	workers            int
	groupCapacity      int
	arrayFactory       ArrayFactory
	monitor            Monitor
	strictEncoderCheck bool
}

func defaultConfig() *config {
	return &config{
		workers:            workerpool.DefaultWorkers(),
		groupCapacity:      MaxGroups,
		arrayFactory:       defaultArrayFactory{},
		strictEncoderCheck: true,
	}
}

// Option configures a Mapper at construction time.
type Option func(*config)

// WithWorkers overrides the number of worker goroutines prepare's parallel
// phases use. Values below 1 are ignored (the default, max(1, cores-1),
// is kept).
func WithWorkers(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.workers = n
		}
	}
}

// WithGroupCapacity overrides how many distinct group ids the mapper
// accepts before returning ErrTooManyGroups. Values above MaxGroups are
// clamped to MaxGroups.
func WithGroupCapacity(n int) Option {
	return func(c *config) {
		if n < 1 {
			return
		}
		if n > MaxGroups {
			n = MaxGroups
		}
		c.groupCapacity = n
	}
}

// WithArrayFactory swaps the backing store for the mapper's packed arrays,
// e.g. to MmapArrayFactory for datasets too large to comfortably live on
// the Go heap.
func WithArrayFactory(f ArrayFactory) Option {
	return func(c *config) {
		if f != nil {
			c.arrayFactory = f
		}
	}
}

// WithMonitor registers a Monitor to be notified of the collision count
// found during prepare.
func WithMonitor(m Monitor) Option {
	return func(c *config) {
		c.monitor = m
	}
}

// WithStrictEncoderCheck toggles the debug-mode consistency check that
// re-encodes each collided input id during phase C and verifies it still
// produces the stored eId, catching a non-deterministic encoder with a
// precise diagnostic instead of silently trusting it. Enabled by default;
// disabling it trades a fatal ErrEncoderNotDeterministic for a small
// speedup on very large collision counts.
func WithStrictEncoderCheck(enabled bool) Option {
	return func(c *config) {
		c.strictEncoderCheck = enabled
	}
}
