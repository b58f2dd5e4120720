package encodeidmap

import "testing"

func TestDuplicateCounter(t *testing.T) {
	c := &DuplicateCounter{}
	c.Duplicate("a", 1, "g0")
	c.Duplicate("b", 2, "g0")
	if c.Count != 2 {
		t.Fatalf("Count = %d, want 2", c.Count)
	}
}

func TestNoopCollectorDoesNothing(t *testing.T) {
	var c Collector = noopCollector{}
	c.Duplicate("a", 1, "g0")
}
