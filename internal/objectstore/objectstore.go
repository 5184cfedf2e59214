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

// Package objectstore implements ObjectStore, the facade spec.md §4.4
// describes: cache → LocalStore → ImportRequestQueue resolution for every
// tree/blob/metadata get, with commit-to-tree resolution for roots.
package objectstore

import (
	"context"
	"time"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/objectcache"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Cause enumerates why an operation needs an object, so logging and
// telemetry can attribute importer load to its source (spec.md §4.4).
type Cause int

const (
	CauseFS Cause = iota
	CauseMGMT
	CausePrefetch
	CauseThrift
)

// FetchContext threads through every ObjectStore operation so that
// telemetry and logging can attribute work to a requester.
type FetchContext struct {
	ClientPID        int // 0 if unknown
	Cause            Cause
	Detail           string
	Priority         int
	PrefetchMetadata bool
}

// wrapped types let objectcache.Cache (which wants a Weighted value) hold
// our scmtypes values without scmtypes itself depending on objectcache.
type cachedTree struct{ t scmtypes.Tree }

func (c cachedTree) CacheWeight() int { return len(c.t.Entries) * 64 }

type cachedBlob struct{ b scmtypes.Blob }

func (c cachedBlob) CacheWeight() int { return len(c.b.Contents) }

type cachedBlobMetadata struct{ m scmtypes.BlobMetadata }

func (c cachedBlobMetadata) CacheWeight() int { return 32 }

// Store is the ObjectStore facade.
type Store struct {
	Cache   *objectcache.Cache
	Local   localstore.Store
	Queue   *importqueue.Queue
	Backend remote.Backend // used directly for resolveRoot/importManifestForRoot, which bypass the queue

	// DefaultPriority is used when a caller's FetchContext doesn't set one.
	DefaultPriority int
}

func New(cache *objectcache.Cache, local localstore.Store, queue *importqueue.Queue, backend remote.Backend) *Store {
	return &Store{Cache: cache, Local: local, Queue: queue, Backend: backend, DefaultPriority: 1}
}

func (s *Store) priority(fc FetchContext) int {
	if fc.Priority != 0 {
		return fc.Priority
	}
	return s.DefaultPriority
}

// GetTree resolves id through cache, then LocalStore, then the import
// queue, populating lower-priority tiers on the way back out as spec.md
// §4.4's resolution order requires.
func (s *Store) GetTree(ctx context.Context, id scmtypes.ObjectId, fc FetchContext) (scmtypes.Tree, error) {
	if v, ok := s.Cache.Get(id); ok {
		return v.(cachedTree).t, nil
	}

	raw, found, err := s.Local.Get(localstore.CFTrees, id.Bytes())
	if err != nil {
		return scmtypes.Tree{}, errkind.Wrap(errkind.StoreIOError, "GetTree: LocalStore", err)
	}
	if found {
		tree, err := decodeTree(raw)
		if err != nil {
			return scmtypes.Tree{}, errkind.Wrap(errkind.StoreCorrupt, "GetTree: decode", err)
		}
		s.Cache.Insert(id, cachedTree{tree})
		return tree, nil
	}

	hash, err := proxyhash.Load(s.Local, id)
	if err != nil {
		return scmtypes.Tree{}, err
	}

	promise := remote.NewPromise[scmtypes.Tree]()
	if !s.Queue.CheckInProgress(importqueue.TreeImport, id, s.priority(fc), promise) {
		if err := s.Queue.Enqueue(importqueue.TreeImport, id, hash, s.priority(fc), promise, time.Now()); err != nil {
			return scmtypes.Tree{}, err
		}
	}

	tree, err := promise.Wait(ctx)
	if err != nil {
		return scmtypes.Tree{}, err
	}
	s.populateTree(id, tree)
	return tree, nil
}

// populateTree writes a freshly-imported tree into LocalStore and the
// in-memory cache, the "level 3 success populates levels 1 and 2" rule.
func (s *Store) populateTree(id scmtypes.ObjectId, tree scmtypes.Tree) {
	s.Local.Put(localstore.CFTrees, id.Bytes(), encodeTree(tree))
	s.Cache.Insert(id, cachedTree{tree})
}

func (s *Store) GetBlob(ctx context.Context, id scmtypes.ObjectId, fc FetchContext) (scmtypes.Blob, error) {
	if v, ok := s.Cache.Get(id); ok {
		if c, ok := v.(cachedBlob); ok {
			return c.b, nil
		}
	}

	raw, found, err := s.Local.Get(localstore.CFBlobs, id.Bytes())
	if err != nil {
		return scmtypes.Blob{}, errkind.Wrap(errkind.StoreIOError, "GetBlob: LocalStore", err)
	}
	if found {
		blob := scmtypes.Blob{Contents: raw}
		s.Cache.Insert(id, cachedBlob{blob})
		return blob, nil
	}

	hash, err := proxyhash.Load(s.Local, id)
	if err != nil {
		return scmtypes.Blob{}, err
	}

	promise := remote.NewPromise[scmtypes.Blob]()
	if !s.Queue.CheckInProgress(importqueue.BlobImport, id, s.priority(fc), promise) {
		if err := s.Queue.Enqueue(importqueue.BlobImport, id, hash, s.priority(fc), promise, time.Now()); err != nil {
			return scmtypes.Blob{}, err
		}
	}

	blob, err := promise.Wait(ctx)
	if err != nil {
		return scmtypes.Blob{}, err
	}
	s.Local.Put(localstore.CFBlobs, id.Bytes(), blob.Contents)
	s.Cache.Insert(id, cachedBlob{blob})
	return blob, nil
}

func (s *Store) GetBlobMetadata(ctx context.Context, id scmtypes.ObjectId, fc FetchContext) (scmtypes.BlobMetadata, error) {
	if v, ok := s.Cache.Get(id); ok {
		if c, ok := v.(cachedBlobMetadata); ok {
			return c.m, nil
		}
	}

	raw, found, err := s.Local.Get(localstore.CFBlobMetadata, id.Bytes())
	if err != nil {
		return scmtypes.BlobMetadata{}, errkind.Wrap(errkind.StoreIOError, "GetBlobMetadata: LocalStore", err)
	}
	if found {
		meta, err := decodeBlobMetadata(raw)
		if err != nil {
			return scmtypes.BlobMetadata{}, errkind.Wrap(errkind.StoreCorrupt, "GetBlobMetadata: decode", err)
		}
		s.Cache.Insert(id, cachedBlobMetadata{meta})
		return meta, nil
	}

	hash, err := proxyhash.Load(s.Local, id)
	if err != nil {
		return scmtypes.BlobMetadata{}, err
	}

	promise := remote.NewPromise[scmtypes.BlobMetadata]()
	if !s.Queue.CheckInProgress(importqueue.BlobMetaImport, id, s.priority(fc), promise) {
		if err := s.Queue.Enqueue(importqueue.BlobMetaImport, id, hash, s.priority(fc), promise, time.Now()); err != nil {
			return scmtypes.BlobMetadata{}, err
		}
	}

	meta, err := promise.Wait(ctx)
	if err != nil {
		return scmtypes.BlobMetadata{}, err
	}
	s.Local.Put(localstore.CFBlobMetadata, id.Bytes(), encodeBlobMetadata(meta))
	s.Cache.Insert(id, cachedBlobMetadata{meta})
	return meta, nil
}

// GetBlobSize is a thin projection over GetBlobMetadata; it exists as its
// own operation per spec.md §4.4 because callers that only need the size
// (e.g. stat) shouldn't need to know metadata carries more than that.
func (s *Store) GetBlobSize(ctx context.Context, id scmtypes.ObjectId, fc FetchContext) (uint64, error) {
	meta, err := s.GetBlobMetadata(ctx, id, fc)
	if err != nil {
		return 0, err
	}
	return meta.Size, nil
}

// GetRootTree resolves rootID to its top-level tree, consulting the
// commit_to_tree mapping first and recording the RemoteBackend's answer
// on miss.
func (s *Store) GetRootTree(ctx context.Context, rootID scmtypes.RootId, fc FetchContext) (scmtypes.Tree, error) {
	key := scmtypes.RenderRootId(rootID)
	raw, found, err := s.Local.Get(localstore.CFCommitToTree, key)
	if err != nil {
		return scmtypes.Tree{}, errkind.Wrap(errkind.StoreIOError, "GetRootTree: LocalStore", err)
	}

	var treeID scmtypes.ObjectId
	if found {
		treeID, err = scmtypes.ParseObjectId(string(raw))
		if err != nil {
			return scmtypes.Tree{}, errkind.Wrap(errkind.StoreCorrupt, "GetRootTree: decode", err)
		}
	} else {
		treeID, err = s.Backend.ResolveRoot(ctx, rootID)
		if err != nil {
			return scmtypes.Tree{}, err
		}
		if err := s.Local.Put(localstore.CFCommitToTree, key, []byte(treeID.String())); err != nil {
			return scmtypes.Tree{}, errkind.Wrap(errkind.StoreIOError, "GetRootTree: recording resolution", err)
		}
	}

	return s.GetTree(ctx, treeID, fc)
}

// PrefetchBlobs is best-effort: it never returns the bytes, and a failure
// here must never fail the foreground caller (spec.md §4.4).
func (s *Store) PrefetchBlobs(ctx context.Context, ids []scmtypes.ObjectId, fc FetchContext) {
	for _, id := range ids {
		hash, err := proxyhash.Load(s.Local, id)
		if err != nil {
			continue
		}
		promise := remote.NewPromise[struct{}]()
		if s.Queue.CheckInProgress(importqueue.Prefetch, id, s.priority(fc), promise) {
			continue
		}
		s.Queue.Enqueue(importqueue.Prefetch, id, hash, s.priority(fc), promise, time.Now())
	}
}

// ParseRootId and RenderRootId are exposed here (rather than only on
// scmtypes) so ObjectStore callers have one import for the whole facade;
// they delegate directly.
func ParseRootId(b []byte) (scmtypes.RootId, error) { return scmtypes.ParseRootId(b) }
func RenderRootId(r scmtypes.RootId) []byte         { return scmtypes.RenderRootId(r) }
