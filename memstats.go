package encodeidmap

// MemoryStatsVisitor receives one report per live packed array from
// AcceptMemoryStats: the data cache, the group cache, the tracker, and (if
// any collisions were resolved) the collision side-store's arrays.
type MemoryStatsVisitor interface {
	VisitMemoryStats(name string, liveBytes, reservedBytes uint64)
}
