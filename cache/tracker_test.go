package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saiset-co/vinyl-tracker/types"
)

func TestKeyTracker_RoundTrip(t *testing.T) {
	tracker := NewKeyTracker[int, string]()

	tracker.Track(1, "search-a")
	tracker.Track(1, "search-b")
	tracker.Track(1, "search-a")

	assert.ElementsMatch(t, []string{"search-a", "search-b"}, tracker.KeysFor(1))

	tracker.Untrack(1)
	assert.Empty(t, tracker.KeysFor(1))
	assert.Equal(t, 0, tracker.Len())
}

func TestKeyTracker_UnknownID(t *testing.T) {
	tracker := NewKeyTracker[int, string]()

	keys := tracker.KeysFor(42)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)

	assert.NotPanics(t, func() { tracker.Untrack(42) })
}

func TestKeyTracker_KeysForIsSnapshot(t *testing.T) {
	tracker := NewKeyTracker[int, string]()
	tracker.Track(7, "search-x")

	keys := tracker.KeysFor(7)
	tracker.Track(7, "search-y")

	assert.Equal(t, []string{"search-x"}, keys)
	assert.Len(t, tracker.KeysFor(7), 2)
}

func TestKeyTracker_TrackAll(t *testing.T) {
	tracker := NewKeyTracker[int, string]()

	tracker.TrackAll([]int{1, 2, 3}, "search-rock")

	for _, id := range []int{1, 2, 3} {
		assert.Equal(t, []string{"search-rock"}, tracker.KeysFor(id))
	}
	assert.Equal(t, 3, tracker.Len())
}

func TestKeyTracker_ConcurrentTrack(t *testing.T) {
	tracker := NewKeyTracker[int, string]()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tracker.Track(i%5, fmt.Sprintf("key-%d-%d", g, i))
				_ = tracker.KeysFor(i % 5)
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for id := 0; id < 5; id++ {
		total += len(tracker.KeysFor(id))
	}
	assert.Equal(t, 1000, total)
}

func TestKeyTracker_InvalidationProtocol(t *testing.T) {
	clock := newFakeClock()
	derived := newTestCache(t, clock, 100)
	tracker := NewKeyTracker[int, string]()

	derived.Put("search-x", "[7]")
	tracker.Track(7, "search-x")

	for _, key := range tracker.KeysFor(7) {
		derived.Remove(key)
	}
	tracker.Untrack(7)

	assert.False(t, derived.Contains("search-x"))
	assert.Empty(t, tracker.KeysFor(7))
}

func TestKeyTracker_TrackAllIfCurrent(t *testing.T) {
	tracker := NewKeyTracker[int, string]()

	generation := tracker.Generation()
	assert.True(t, tracker.TrackAllIfCurrent(generation, []int{1, 2}, "search-a"))
	assert.Equal(t, []string{"search-a"}, tracker.KeysFor(2))

	stale := tracker.Generation()
	tracker.MarkWrite()
	assert.NotEqual(t, stale, tracker.Generation())

	assert.False(t, tracker.TrackAllIfCurrent(stale, []int{3}, "search-b"))
	assert.Empty(t, tracker.KeysFor(3))
	assert.True(t, tracker.TrackAllIfCurrent(tracker.Generation(), []int{3}, "search-b"))
}

var _ types.KeyIndex[int, string] = (*KeyTracker[int, string])(nil)
