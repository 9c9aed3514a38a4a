package cache

// Stats is a snapshot of cache behavior, suitable for logging and tests.
type Stats struct {
	// Len is the current number of entries.
	Len int

	// Capacity is the per-shard capacity.
	Capacity int

	// TotalCapacity is the capacity across all shards.
	TotalCapacity int

	// Hits and Misses count lookups since creation or the last ResetStats.
	Hits   uint64
	Misses uint64

	// HitRate is Hits / (Hits + Misses), or 0 with no lookups.
	HitRate float64

	// Evictions counts entries dropped to make room.
	Evictions uint64
}
