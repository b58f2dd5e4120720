package encodeidmap

// Collector receives a structured report of a detected duplicate: the same
// (input_id, group) was put at more than one internal id. It never
// interrupts prepare — the mapper always retains the first-seen internal
// id and keeps going.
type Collector interface {
	Duplicate(inputID any, internalID uint64, groupName string)
}

// DuplicateCounter is a Collector that just counts reports, for callers
// who only care whether — and how often — duplicates occurred.
type DuplicateCounter struct {
	Count int
}

func (c *DuplicateCounter) Duplicate(_ any, _ uint64, _ string) {
	c.Count++
}

// noopCollector discards every report; substituted whenever Prepare is
// called with a nil Collector.
type noopCollector struct{}

func (noopCollector) Duplicate(any, uint64, string) {}
