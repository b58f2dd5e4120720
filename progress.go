package encodeidmap

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Progress reports prepare's stage transitions. Stages are emitted in
// order: SPLIT, SORT, DETECT, RESOLVE (n collisions) (only when
// collisions were found), DEDUPLICATE (only alongside RESOLVE).
type Progress interface {
	Started(stage string)
	Add(n int)
	Done()
}

// NewStagePrinter returns a Progress that announces each stage with plain
// fmt.Fprintf lines like "SORT..." and "SORT done: 1000 entries in 2ms" — no
// logging library involved, since a one-shot CLI progress line doesn't
// need one.
func NewStagePrinter(w io.Writer) Progress {
	return &stagePrinter{w: w}
}

type stagePrinter struct {
	w       io.Writer
	stage   string
	started time.Time
	count   atomic.Int64
}

func (p *stagePrinter) Started(stage string) {
	p.stage = stage
	p.count.Store(0)
	p.started = time.Now()
	fmt.Fprintf(p.w, "%s...\n", stage)
}

func (p *stagePrinter) Add(n int) {
	p.count.Add(int64(n))
}

func (p *stagePrinter) Done() {
	elapsed := time.Since(p.started)
	fmt.Fprintf(p.w, "%s done: %d entries in %s\n", p.stage, p.count.Load(), elapsed)
}

// noopProgress discards every report; substituted whenever Prepare is
// called with a nil Progress.
type noopProgress struct{}

func (noopProgress) Started(string) {}
func (noopProgress) Add(int)        {}
func (noopProgress) Done()          {}
