// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package objectcache implements InMemoryObjectCache, a bounded-size,
// weighted LRU over recently used blobs and trees, keyed by content hash.
package objectcache

import (
	"container/list"
	"sync"

	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Weighted is anything that can report its own byte weight for the purposes
// of the cache's byte cap.
type Weighted interface {
	CacheWeight() int
}

// Counters are the published counters from spec.md §4.2.
type Counters struct {
	HitCount       uint64
	MissCount      uint64
	EvictionCount  uint64
	DropCount      uint64
	ObjectCount    int
	TotalSizeBytes int64
}

type entry struct {
	key   scmtypes.ObjectId
	value Weighted
}

// Cache is a weighted LRU. On insertion, entries are appended to the
// most-recent end; on overflow, the least-recent entries are evicted until
// either totalBytes <= maxTotalBytes or count <= minEntryCount holds --
// the minimum-count rule wins over the byte cap, so a cache configured with
// a generous minEntryCount never evicts below that floor even if doing so
// would bring it under the byte cap sooner.
type Cache struct {
	maxTotalBytes int64
	minEntryCount int

	mu       sync.Mutex
	ll       *list.List // most-recent at Front
	elements map[scmtypes.ObjectId]*list.Element
	counters Counters
}

func New(maxTotalBytes int64, minEntryCount int) *Cache {
	return &Cache{
		maxTotalBytes: maxTotalBytes,
		minEntryCount: minEntryCount,
		ll:            list.New(),
		elements:      make(map[scmtypes.ObjectId]*list.Element),
	}
}

// Get looks up id, moving it to the most-recently-used position on a hit.
func (c *Cache) Get(id scmtypes.ObjectId) (Weighted, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[id]
	if !ok {
		c.counters.MissCount++
		return nil, false
	}

	c.counters.HitCount++
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Insert adds or replaces the entry for id and evicts as needed to restore
// the cache's invariants.
func (c *Cache) Insert(id scmtypes.ObjectId, value Weighted) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[id]; ok {
		old := el.Value.(*entry)
		c.counters.TotalSizeBytes -= int64(old.value.CacheWeight())
		old.value = value
		c.counters.TotalSizeBytes += int64(value.CacheWeight())
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: id, value: value})
	c.elements[id] = el
	c.counters.ObjectCount++
	c.counters.TotalSizeBytes += int64(value.CacheWeight())

	c.evictLocked()
}

// Erase drops id from the cache, if present, without counting it as an
// eviction (the caller chose to remove it, e.g. on overlay materialization).
func (c *Cache) Erase(id scmtypes.ObjectId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[id]
	if !ok {
		return
	}
	c.removeElementLocked(el)
}

// evictLocked drops least-recently-used entries until the byte cap is met or
// the count is down to the minimum-entry-count floor. Must be called with c.mu held.
func (c *Cache) evictLocked() {
	for c.counters.TotalSizeBytes > c.maxTotalBytes && c.counters.ObjectCount > c.minEntryCount {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElementLocked(back)
		c.counters.EvictionCount++
	}
}

func (c *Cache) removeElementLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.elements, e.key)
	c.counters.ObjectCount--
	c.counters.TotalSizeBytes -= int64(e.value.CacheWeight())
}

// Drop records a dropped (never-inserted) value, e.g. a prefetch result that
// arrived after the cache was already at capacity and the caller decided not
// to force an eviction for it.
func (c *Cache) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.DropCount++
}

// Stats returns a snapshot of the published counters.
func (c *Cache) Stats() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}
