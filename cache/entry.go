package cache

import (
	"sync/atomic"
	"time"
)

// Entry holds one cached value and the time it was last touched. The value is
// immutable; the timestamp only moves forward.
type Entry[V any] struct {
	value   V
	touched atomic.Int64
}

func newEntry[V any](value V, now time.Time) *Entry[V] {
	e := &Entry[V]{value: value}
	e.touched.Store(now.UnixNano())
	return e
}

func (e *Entry[V]) Value() V {
	return e.value
}

func (e *Entry[V]) LastTouched() time.Time {
	return time.Unix(0, e.touched.Load())
}

func (e *Entry[V]) refresh(now time.Time) {
	next := now.UnixNano()
	for {
		current := e.touched.Load()
		if next <= current {
			return
		}
		if e.touched.CompareAndSwap(current, next) {
			return
		}
	}
}

func (e *Entry[V]) idleFor(now time.Time) time.Duration {
	return time.Duration(now.UnixNano() - e.touched.Load())
}
