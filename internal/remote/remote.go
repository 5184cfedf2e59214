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

// Package remote defines the RemoteBackend abstraction (spec.md §4.7) and
// its selectable implementations: native (in-process data-pack reader),
// helper (framed subprocess protocol), and grpcremote (RPC client).
package remote

import (
	"context"

	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Promise is fulfilled by exactly one of Resolve or Fail, at most once.
// It is the Go analogue of the spec's per-request "promise to fulfill":
// importqueue attaches one per request and importer pool workers settle
// it once the backend call returns.
type Promise[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

func (p *Promise[T]) Resolve(v T) {
	p.val = v
	close(p.done)
}

func (p *Promise[T]) Fail(err error) {
	p.err = err
	close(p.done)
}

// Wait blocks until the promise is settled or ctx is cancelled.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Backend is the abstract RemoteBackend contract. Every method must be
// idempotent and safe under concurrent invocation; implementations may
// chain with first-hit semantics via a ChainedBackend.
type Backend interface {
	GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*Promise[scmtypes.Tree]) error
	GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*Promise[scmtypes.Blob]) error
	GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*Promise[scmtypes.BlobMetadata]) error
	PrefetchBlobs(ctx context.Context, hashes []proxyhash.ProxyHash) error
	ResolveRoot(ctx context.Context, rootID scmtypes.RootId) (scmtypes.ObjectId, error)
	ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error
}

// ChainedBackend tries each backend in order, returning the first one that
// doesn't fail. This implements spec.md §4.7's "multiple backends may be
// chained with first-hit semantics."
type ChainedBackend struct {
	Backends []Backend
}

func (c *ChainedBackend) GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*Promise[scmtypes.Tree]) error {
	var lastErr error
	for _, b := range c.Backends {
		if err := b.GetTreeBatch(ctx, ids, hashes, promises); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ChainedBackend) GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*Promise[scmtypes.Blob]) error {
	var lastErr error
	for _, b := range c.Backends {
		if err := b.GetBlobBatch(ctx, ids, hashes, promises); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ChainedBackend) GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*Promise[scmtypes.BlobMetadata]) error {
	var lastErr error
	for _, b := range c.Backends {
		if err := b.GetBlobMetadataBatch(ctx, ids, hashes, promises); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ChainedBackend) PrefetchBlobs(ctx context.Context, hashes []proxyhash.ProxyHash) error {
	var lastErr error
	for _, b := range c.Backends {
		if err := b.PrefetchBlobs(ctx, hashes); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ChainedBackend) ResolveRoot(ctx context.Context, rootID scmtypes.RootId) (scmtypes.ObjectId, error) {
	var lastErr error
	for _, b := range c.Backends {
		id, err := b.ResolveRoot(ctx, rootID)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return scmtypes.ZeroObjectId, lastErr
}

func (c *ChainedBackend) ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error {
	var lastErr error
	for _, b := range c.Backends {
		if err := b.ImportManifestForRoot(ctx, rootID, manifestID); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

var _ Backend = (*ChainedBackend)(nil)
