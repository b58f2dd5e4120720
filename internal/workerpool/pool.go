// Package workerpool runs a fixed, small number of OS-level worker
// goroutines over disjoint half-open index ranges, joins them, and
// surfaces the first error — the shape prepare's collision-detection phase
// fans out with. (The sorts run on internal/parsort's own channel-fed
// goroutines instead.)
package workerpool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	errs "github.com/ruizhang0519/encodeidmap/errors"
)

// MinStride is the smallest per-worker share of work that justifies
// spinning up more than one goroutine. Below this, parallelizing is pure
// overhead and the pool collapses to a single worker.
const MinStride = 10

// DefaultWorkers returns max(1, cores-1), the pool's default worker count.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Range is a disjoint half-open [From, To) slice of work assigned to one
// worker. Last is true for the final range in the split, which owns no
// "seam" to a range after it (used by collision detection's adjacent-pair
// scan).
type Range struct {
	Worker int
	From   uint64
	To     uint64
	Last   bool
}

// Split divides [0, total) into up to workers disjoint ranges. If the
// resulting stride would be smaller than MinStride, it collapses to a
// single range covering the whole span — multithreading would be pure
// overhead.
func Split(total uint64, workers int) []Range {
	if workers < 1 {
		workers = 1
	}
	if total == 0 {
		return nil
	}
	stride := total / uint64(workers)
	if stride < MinStride {
		return []Range{{Worker: 0, From: 0, To: total, Last: true}}
	}

	ranges := make([]Range, 0, workers)
	var from uint64
	for i := 0; i < workers; i++ {
		last := i == workers-1
		to := from + stride
		if last {
			to = total
		}
		ranges = append(ranges, Range{Worker: i, From: from, To: to, Last: last})
		from = to
	}
	return ranges
}

// Run launches one goroutine per Range returned by Split(total, workers),
// invoking fn for each, and blocks until all finish. It returns the first
// error any worker returned (others are discarded, matching the "surface
// the first failure" contract), or ctx.Err() if the context was cancelled
// while workers were still running. A worker goroutine that panics is
// recovered and reported as ErrWorkerPanicked instead of crashing the
// whole process — errgroup.Go does not recover on its own.
func Run(ctx context.Context, total uint64, workers int, fn func(ctx context.Context, r Range) error) error {
	ranges := Split(total, workers)
	if len(ranges) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		r := r
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: worker %d: %v", errs.ErrWorkerPanicked, r.Worker, rec)
				}
			}()
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, r)
		})
	}
	return g.Wait()
}
