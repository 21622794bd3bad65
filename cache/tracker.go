package cache

import "sync"

// KeyTracker records which derived cache keys hold a given entity so that a
// write to the entity can drop exactly those keys.
//
// The tracker also carries a write generation. A reader snapshots it before
// loading a derived result and tracks the result only if no write happened
// in between, so a load that raced a write is never indexed as current.
type KeyTracker[ID comparable, K comparable] struct {
	mu         sync.Mutex
	keys       map[ID]map[K]struct{}
	generation uint64
}

func NewKeyTracker[ID comparable, K comparable]() *KeyTracker[ID, K] {
	return &KeyTracker[ID, K]{
		keys: make(map[ID]map[K]struct{}),
	}
}

func (t *KeyTracker[ID, K]) Track(id ID, key K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.keys[id]
	if !ok {
		set = make(map[K]struct{})
		t.keys[id] = set
	}
	set[key] = struct{}{}
}

// TrackAll associates key with every id in ids.
func (t *KeyTracker[ID, K]) TrackAll(ids []ID, key K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trackAllLocked(ids, key)
}

// TrackAllIfCurrent behaves like TrackAll when the write generation still
// equals generation, and reports false without tracking anything otherwise.
func (t *KeyTracker[ID, K]) TrackAllIfCurrent(generation uint64, ids []ID, key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation != generation {
		return false
	}
	t.trackAllLocked(ids, key)
	return true
}

// Generation is the current write generation.
func (t *KeyTracker[ID, K]) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// MarkWrite advances the write generation. Writers call it after the
// repository write and before invalidating.
func (t *KeyTracker[ID, K]) MarkWrite() {
	t.mu.Lock()
	t.generation++
	t.mu.Unlock()
}

func (t *KeyTracker[ID, K]) trackAllLocked(ids []ID, key K) {
	for _, id := range ids {
		set, ok := t.keys[id]
		if !ok {
			set = make(map[K]struct{})
			t.keys[id] = set
		}
		set[key] = struct{}{}
	}
}

// KeysFor returns a snapshot; the caller may range over it while other
// goroutines keep tracking.
func (t *KeyTracker[ID, K]) KeysFor(id ID) []K {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.keys[id]
	keys := make([]K, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}

func (t *KeyTracker[ID, K]) Untrack(id ID) {
	t.mu.Lock()
	delete(t.keys, id)
	t.mu.Unlock()
}

// Len is the number of ids currently tracked.
func (t *KeyTracker[ID, K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
