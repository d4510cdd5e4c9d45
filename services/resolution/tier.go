// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolution

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts time for TTL checks so tests can advance it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TierStats is a point-in-time snapshot of one tier's counters.
type TierStats struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Sets      int64  `json:"sets"`
	Evictions int64  `json:"evictions"`
}

// tier is one keyed cache tier with an independent TTL and size bound.
//
// Eviction is least-recently-inserted: the insertion order list is
// never reordered by reads, so once the tier is full the oldest write
// goes first regardless of how often it is read. This is deliberately
// simpler than LRU; resolution workloads are bursty per document and
// recency-of-insert tracks usefulness closely enough.
//
// Thread Safety: all methods are safe for concurrent use.
type tier[V any] struct {
	name    string
	ttl     time.Duration
	maxSize int
	clock   Clock

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // Front = most recently inserted

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	metrics *Metrics
}

type tierEntry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

func newTier[V any](name string, ttl time.Duration, maxSize int, clock Clock, metrics *Metrics) *tier[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if clock == nil {
		clock = realClock{}
	}
	return &tier[V]{
		name:    name,
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock,
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		metrics: metrics,
	}
}

// get returns the stored value and whether it was present and fresh.
// An entry exactly at its TTL is still fresh; one time unit past it is
// expired and removed on sight.
func (t *tier[V]) get(key string) (V, bool) {
	var zero V

	t.mu.Lock()
	elem, ok := t.items[key]
	if !ok {
		t.mu.Unlock()
		t.miss()
		return zero, false
	}

	entry := elem.Value.(*tierEntry[V])
	if t.ttl > 0 && t.clock.Now().Sub(entry.insertedAt) > t.ttl {
		t.order.Remove(elem)
		delete(t.items, key)
		t.mu.Unlock()
		t.miss()
		return zero, false
	}
	value := entry.value
	t.mu.Unlock()

	t.hits.Add(1)
	if t.metrics != nil {
		t.metrics.Hits.WithLabelValues(t.name).Inc()
	}
	return value, true
}

func (t *tier[V]) miss() {
	t.misses.Add(1)
	if t.metrics != nil {
		t.metrics.Misses.WithLabelValues(t.name).Inc()
	}
}

// set inserts or replaces a value. Replacement refreshes insertedAt and
// moves the entry to the front of the insertion order.
func (t *tier[V]) set(key string, value V) {
	now := t.clock.Now()

	t.mu.Lock()
	if elem, ok := t.items[key]; ok {
		entry := elem.Value.(*tierEntry[V])
		entry.value = value
		entry.insertedAt = now
		t.order.MoveToFront(elem)
		t.mu.Unlock()
		t.recordSet()
		return
	}

	evicted := 0
	for t.order.Len() >= t.maxSize {
		oldest := t.order.Back()
		if oldest == nil {
			break
		}
		t.order.Remove(oldest)
		delete(t.items, oldest.Value.(*tierEntry[V]).key)
		evicted++
	}

	elem := t.order.PushFront(&tierEntry[V]{key: key, value: value, insertedAt: now})
	t.items[key] = elem
	t.mu.Unlock()

	t.recordSet()
	if evicted > 0 {
		t.evictions.Add(int64(evicted))
		if t.metrics != nil {
			t.metrics.Evictions.WithLabelValues(t.name).Add(float64(evicted))
		}
	}
}

func (t *tier[V]) recordSet() {
	t.sets.Add(1)
	if t.metrics != nil {
		t.metrics.Sets.WithLabelValues(t.name).Inc()
	}
}

// delete removes one key. Returns whether it was present.
func (t *tier[V]) delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		return false
	}
	t.order.Remove(elem)
	delete(t.items, key)
	return true
}

// deleteFunc removes every entry whose key matches the predicate and
// returns how many were removed. Used by invalidation, which must scan
// because composite keys embed the entity name/id.
func (t *tier[V]) deleteFunc(match func(key string) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, elem := range t.items {
		if match(key) {
			t.order.Remove(elem)
			delete(t.items, key)
			removed++
		}
	}
	return removed
}

// purge removes all entries and resets counters.
func (t *tier[V]) purge() {
	t.mu.Lock()
	t.items = make(map[string]*list.Element, t.maxSize)
	t.order.Init()
	t.mu.Unlock()

	t.hits.Store(0)
	t.misses.Store(0)
	t.sets.Store(0)
	t.evictions.Store(0)
}

// stats returns a snapshot of the tier's counters.
func (t *tier[V]) stats() TierStats {
	t.mu.Lock()
	size := t.order.Len()
	t.mu.Unlock()

	return TierStats{
		Name:      t.name,
		Size:      size,
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Sets:      t.sets.Load(),
		Evictions: t.evictions.Load(),
	}
}
