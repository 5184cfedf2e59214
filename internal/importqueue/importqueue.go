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

// Package importqueue implements the priority import request queue of
// spec.md §4.5: three sub-queues keyed by request kind plus a separate
// prefetch queue, duplicate-request coalescing, and priority-ordered
// batch dequeue.
package importqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Kind identifies which sub-queue a request belongs to.
type Kind int

const (
	TreeImport Kind = iota
	BlobImport
	BlobMetaImport
	Prefetch
)

// kindOrder fixes the tie-break order at equal priority: trees before
// metadata before blobs, because trees unlock greater fan-out (spec.md
// §4.5). Prefetch has its own queue and never competes in this order.
var kindOrder = map[Kind]int{
	TreeImport:     0,
	BlobMetaImport: 1,
	BlobImport:     2,
}

// Waiter is the type-erased handle a caller attaches to a request; the
// importer pool knows the concrete promise type for a given Kind and
// type-asserts it back out when settling a batch.
type Waiter any

// Entry is one tracked request: either still queued (on a sub-queue's
// heap) or dispatched (removed from the heap, still tracked until
// markFinished).
type Entry struct {
	Kind        Kind
	ID          scmtypes.ObjectId
	Hash        proxyhash.ProxyHash
	Priority    int
	EnqueueTime time.Time
	Waiters     []Waiter

	heapIndex int // maintained by container/heap; -1 once dispatched
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // max-heap: higher priority first
	}
	if h[i].Kind != h[j].Kind {
		return kindOrder[h[i].Kind] < kindOrder[h[j].Kind]
	}
	return h[i].EnqueueTime.Before(h[j].EnqueueTime)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

type key struct {
	kind Kind
	id   scmtypes.ObjectId
}

// Batch is what dequeue hands the importer pool: up to N contiguous
// requests of the same kind, highest priority first.
type Batch struct {
	Kind    Kind
	Entries []*Entry
}

// Queue is the priority import request queue.
type Queue struct {
	mu sync.Mutex
	cv *sync.Cond

	heaps   map[Kind]*entryHeap
	tracked map[key]*Entry // in-flight: either queued or dispatched
	stopped bool

	batchSize map[Kind]int
}

// New creates a Queue. batchSize configures the per-kind dequeue batch
// size N from spec.md §4.5; kinds absent from the map default to 1.
func New(batchSize map[Kind]int) *Queue {
	q := &Queue{
		heaps:     make(map[Kind]*entryHeap),
		tracked:   make(map[key]*Entry),
		batchSize: batchSize,
	}
	for _, k := range []Kind{TreeImport, BlobImport, BlobMetaImport, Prefetch} {
		h := &entryHeap{}
		heap.Init(h)
		q.heaps[k] = h
	}
	q.cv = sync.NewCond(&q.mu)
	return q
}

// CheckInProgress returns the tracked entry for (kind, id) if one exists,
// attaching waiter as an additional waiter and raising the tracked
// priority if the caller's is higher. This lets the facade coalesce even
// before a fresh enqueue, per spec.md §4.5.
func (q *Queue) CheckInProgress(kind Kind, id scmtypes.ObjectId, priority int, waiter Waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tracked[key{kind, id}]
	if !ok {
		return false
	}
	e.Waiters = append(e.Waiters, waiter)
	if priority > e.Priority {
		e.Priority = priority
		if e.heapIndex >= 0 {
			heap.Fix(q.heaps[kind], e.heapIndex)
		}
	}
	return true
}

// Enqueue adds a new request, or attaches waiter to an existing in-flight
// request for the same (kind, id) — spec.md §4.5's "never more than one
// entry per (kind, ObjectId)" invariant.
func (q *Queue) Enqueue(kind Kind, id scmtypes.ObjectId, hash proxyhash.ProxyHash, priority int, waiter Waiter, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return errkind.New(errkind.Cancelled, "importqueue stopped")
	}

	k := key{kind, id}
	if e, ok := q.tracked[k]; ok {
		e.Waiters = append(e.Waiters, waiter)
		if priority > e.Priority {
			e.Priority = priority
			if e.heapIndex >= 0 {
				heap.Fix(q.heaps[kind], e.heapIndex)
			}
		}
		return nil
	}

	e := &Entry{
		Kind:        kind,
		ID:          id,
		Hash:        hash,
		Priority:    priority,
		EnqueueTime: now,
		Waiters:     []Waiter{waiter},
	}
	q.tracked[k] = e
	heap.Push(q.heaps[kind], e)
	q.cv.Broadcast()
	return nil
}

// Dequeue blocks until at least one request is ready or the queue is
// stopped. It chooses the sub-queue whose front entry has the highest
// priority (Prefetch is only considered when requested kinds include it;
// callers typically run a dedicated dequeue loop per kind group), then
// pops up to the configured batch size of contiguous same-kind entries.
func (q *Queue) Dequeue(kinds []Kind) Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.stopped {
			return Batch{}
		}
		_, bestKind, ok := q.pickBestLocked(kinds)
		if ok {
			return q.popBatchLocked(bestKind)
		}
		q.cv.Wait()
	}
}

func (q *Queue) pickBestLocked(kinds []Kind) (*Entry, Kind, bool) {
	var best *Entry
	var bestKind Kind
	for _, k := range kinds {
		h := q.heaps[k]
		if h.Len() == 0 {
			continue
		}
		front := (*h)[0]
		if best == nil || entryLess(front, best) {
			best = front
			bestKind = k
		}
	}
	return best, bestKind, best != nil
}

// entryLess compares entries from different sub-queues using the same
// ordering entryHeap.Less applies within one sub-queue.
func entryLess(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Kind != b.Kind {
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	}
	return a.EnqueueTime.Before(b.EnqueueTime)
}

func (q *Queue) popBatchLocked(k Kind) Batch {
	n := q.batchSize[k]
	if n <= 0 {
		n = 1
	}
	h := q.heaps[k]
	var entries []*Entry
	for h.Len() > 0 && len(entries) < n {
		e := heap.Pop(h).(*Entry)
		entries = append(entries, e)
	}
	return Batch{Kind: k, Entries: entries}
}

// MarkFinished removes the tracking entry for (kind, id) and returns its
// waiters. It does not settle them: callers type-assert each returned
// Waiter back to the concrete *remote.Promise[T] for Kind and pass the
// shared result through their own Resolve/Fail calls.
func (q *Queue) MarkFinished(kind Kind, id scmtypes.ObjectId) []Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{kind, id}
	e, ok := q.tracked[k]
	if !ok {
		return nil
	}
	delete(q.tracked, k)
	return e.Waiters
}

// Stop drains and discards all queues and wakes every blocked Dequeue
// call, which return empty batches from then on. The waiters of every
// request that was still in flight are returned flattened so the caller
// can fail them explicitly with a Cancelled error; Stop itself doesn't
// resolve them since it doesn't know each waiter's concrete promise type.
func (q *Queue) Stop() []Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	var drained []Waiter
	for _, e := range q.tracked {
		drained = append(drained, e.Waiters...)
	}
	q.tracked = make(map[key]*Entry)
	for _, h := range q.heaps {
		*h = (*h)[:0]
	}
	q.cv.Broadcast()
	return drained
}
