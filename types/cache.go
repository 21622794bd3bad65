package types

import "time"

// Cache is an advisory key/value store. A miss is a normal outcome, never an error.
type Cache[K comparable, V any] interface {
	Put(key K, value V)
	Get(key K) (V, bool)
	Contains(key K) bool
	Remove(key K)
	CleanUp()
	Len() int
	Stats() CacheStats
	Shutdown()
}

// KeyIndex maps an entity id to the derived cache keys whose value contains it.
// Generation, MarkWrite and TrackAllIfCurrent let a reader skip indexing a
// result whose load overlapped a write.
type KeyIndex[ID comparable, K comparable] interface {
	Track(id ID, key K)
	KeysFor(id ID) []K
	Untrack(id ID)
	Generation() uint64
	MarkWrite()
	TrackAllIfCurrent(generation uint64, ids []ID, key K) bool
}

type EvictionReason string

const (
	EvictionCapacity EvictionReason = "capacity"
	EvictionExpired  EvictionReason = "expired"
)

type CacheStats struct {
	Name          string        `json:"name"`
	Entries       int           `json:"entries"`
	MaxEntries    int           `json:"max_entries"`
	TTL           time.Duration `json:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
	Sweeping      bool          `json:"sweeping"`
}
