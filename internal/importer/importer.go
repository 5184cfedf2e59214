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

// Package importer implements the fixed-size worker pool that drains
// importqueue.Queue and dispatches batched RemoteBackend calls
// (spec.md §4.6).
package importer

import (
	"context"
	"sync"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/scmfsd/scmfsd/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// TraceEventKind identifies the three events a worker publishes: a
// request was pulled off the queue, a backend call for it started, and
// that call finished (successfully or not).
type TraceEventKind int

const (
	TraceQueue TraceEventKind = iota
	TraceStart
	TraceFinish
)

// TraceEvent is one entry workers publish to the TraceBus.
type TraceEvent struct {
	Kind TraceEventKind
	Req  importqueue.Kind
	ID   scmtypes.ObjectId
}

// TraceBus is a fixed-capacity ring buffer of TraceEvents: subscribers
// observe live import activity without blocking workers, since a full
// buffer simply overwrites its oldest entry rather than applying
// backpressure. Pool.Run's worker goroutines all publish to the same
// TraceBus concurrently, so mu guards buf/next/full; the critical
// section is a fixed-size array write, never a wait on a consumer.
type TraceBus struct {
	mu   sync.Mutex
	buf  []TraceEvent
	next int
	full bool
}

func NewTraceBus(capacity int) *TraceBus {
	return &TraceBus{buf: make([]TraceEvent, capacity)}
}

// Publish is called by workers; it never blocks on a subscriber, only
// briefly on other publishers.
func (b *TraceBus) Publish(e TraceEvent) {
	if len(b.buf) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf[b.next] = e
	b.next = (b.next + 1) % len(b.buf)
	if b.next == 0 {
		b.full = true
	}
}

// Snapshot returns the buffered events in chronological order.
func (b *TraceBus) Snapshot() []TraceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]TraceEvent, b.next)
		copy(out, b.buf[:b.next])
		return out
	}
	out := make([]TraceEvent, len(b.buf))
	copy(out, b.buf[b.next:])
	copy(out[len(b.buf)-b.next:], b.buf[:b.next])
	return out
}

// Pool is the fixed-size import worker pool.
type Pool struct {
	Queue   *importqueue.Queue
	Backend remote.Backend
	Trace   *TraceBus
	Workers int
	Kinds   []importqueue.Kind
}

// Run starts Workers goroutines, each looping dequeue/dispatch until ctx
// is cancelled or the queue is stopped. Run blocks until every worker has
// exited; it returns the first worker error, if any (workers themselves
// treat backend failures as per-request outcomes, not fatal pool errors,
// so this should generally only return ctx.Err()).
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Workers; i++ {
		g.Go(func() error {
			return p.workerLoop(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch := p.Queue.Dequeue(p.Kinds)
		if len(batch.Entries) == 0 {
			return nil // queue was stopped
		}
		p.dispatch(ctx, batch)
	}
}

// dispatch calls the appropriate RemoteBackend batched method, settles
// every promise in the batch, and emits trace events. A batch-wide backend
// failure gives every unfulfilled request in the batch the same error
// value, per spec.md §4.6.
func (p *Pool) dispatch(ctx context.Context, batch Batch) {
	for _, e := range batch.Entries {
		p.Trace.Publish(TraceEvent{Kind: TraceQueue, Req: batch.Kind, ID: e.ID})
		p.Trace.Publish(TraceEvent{Kind: TraceStart, Req: batch.Kind, ID: e.ID})
	}

	ids := make([]scmtypes.ObjectId, len(batch.Entries))
	hashes := make([]proxyhash.ProxyHash, len(batch.Entries))
	for i, e := range batch.Entries {
		ids[i] = e.ID
		hashes[i] = e.Hash
	}

	var batchErr error
	switch batch.Kind {
	case importqueue.TreeImport:
		promises := make([]*remote.Promise[scmtypes.Tree], len(batch.Entries))
		for i := range promises {
			promises[i] = remote.NewPromise[scmtypes.Tree]()
		}
		batchErr = p.Backend.GetTreeBatch(ctx, ids, hashes, promises)
		p.settleTree(batch, promises, batchErr)
	case importqueue.BlobImport:
		promises := make([]*remote.Promise[scmtypes.Blob], len(batch.Entries))
		for i := range promises {
			promises[i] = remote.NewPromise[scmtypes.Blob]()
		}
		batchErr = p.Backend.GetBlobBatch(ctx, ids, hashes, promises)
		p.settleBlob(batch, promises, batchErr)
	case importqueue.BlobMetaImport:
		promises := make([]*remote.Promise[scmtypes.BlobMetadata], len(batch.Entries))
		for i := range promises {
			promises[i] = remote.NewPromise[scmtypes.BlobMetadata]()
		}
		batchErr = p.Backend.GetBlobMetadataBatch(ctx, ids, hashes, promises)
		p.settleBlobMeta(batch, promises, batchErr)
	case importqueue.Prefetch:
		batchErr = p.Backend.PrefetchBlobs(ctx, hashes)
		for _, e := range batch.Entries {
			p.Queue.MarkFinished(batch.Kind, e.ID)
		}
	}

	for _, e := range batch.Entries {
		p.Trace.Publish(TraceEvent{Kind: TraceFinish, Req: batch.Kind, ID: e.ID})
	}
	if batchErr != nil {
		telemetry.Log.Warn().Err(batchErr).Int("kind", int(batch.Kind)).Msg("importer: batch call failed")
	}
}

// Batch aliases importqueue.Batch so importer's own doc comments can refer
// to it without a package-qualified name in every signature.
type Batch = importqueue.Batch

func (p *Pool) settleTree(batch Batch, promises []*remote.Promise[scmtypes.Tree], batchErr error) {
	for i, e := range batch.Entries {
		if batchErr != nil {
			failAll(p.Queue.MarkFinished(batch.Kind, e.ID), nil, batchErr)
			continue
		}
		v, err := promises[i].Wait(context.Background())
		waiters := p.Queue.MarkFinished(batch.Kind, e.ID)
		if err != nil || batchErr != nil {
			failAll(waiters, err, batchErr)
			continue
		}
		for _, w := range waiters {
			if p2, ok := w.(*remote.Promise[scmtypes.Tree]); ok {
				p2.Resolve(v)
			}
		}
	}
}

func (p *Pool) settleBlob(batch Batch, promises []*remote.Promise[scmtypes.Blob], batchErr error) {
	for i, e := range batch.Entries {
		if batchErr != nil {
			failAll(p.Queue.MarkFinished(batch.Kind, e.ID), nil, batchErr)
			continue
		}
		v, err := promises[i].Wait(context.Background())
		waiters := p.Queue.MarkFinished(batch.Kind, e.ID)
		if err != nil || batchErr != nil {
			failAll(waiters, err, batchErr)
			continue
		}
		for _, w := range waiters {
			if p2, ok := w.(*remote.Promise[scmtypes.Blob]); ok {
				p2.Resolve(v)
			}
		}
	}
}

func (p *Pool) settleBlobMeta(batch Batch, promises []*remote.Promise[scmtypes.BlobMetadata], batchErr error) {
	for i, e := range batch.Entries {
		if batchErr != nil {
			failAll(p.Queue.MarkFinished(batch.Kind, e.ID), nil, batchErr)
			continue
		}
		v, err := promises[i].Wait(context.Background())
		waiters := p.Queue.MarkFinished(batch.Kind, e.ID)
		if err != nil || batchErr != nil {
			failAll(waiters, err, batchErr)
			continue
		}
		for _, w := range waiters {
			if p2, ok := w.(*remote.Promise[scmtypes.BlobMetadata]); ok {
				p2.Resolve(v)
			}
		}
	}
}

func failAll(waiters []importqueue.Waiter, perRequestErr, batchErr error) {
	err := perRequestErr
	if err == nil {
		err = batchErr
	}
	if err == nil {
		err = errkind.New(errkind.Generic, "importer: request not fulfilled")
	}
	for _, w := range waiters {
		switch p := w.(type) {
		case *remote.Promise[scmtypes.Tree]:
			p.Fail(err)
		case *remote.Promise[scmtypes.Blob]:
			p.Fail(err)
		case *remote.Promise[scmtypes.BlobMetadata]:
			p.Fail(err)
		}
	}
}
