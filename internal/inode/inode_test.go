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

package inode_test

import (
	"context"
	"testing"
	"time"

	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/importer"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/objectcache"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves trees and blobs keyed by the path half of their
// proxy hash, mirroring objectstore_test.go's fixture.
type fakeBackend struct {
	trees    map[string]scmtypes.Tree
	blobs    map[string][]byte
	rootTree scmtypes.ObjectId
}

func (f *fakeBackend) GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Tree]) error {
	for i, h := range hashes {
		promises[i].Resolve(f.trees[h.Path])
	}
	return nil
}

func (f *fakeBackend) GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Blob]) error {
	for i, h := range hashes {
		promises[i].Resolve(scmtypes.Blob{Contents: f.blobs[h.Path]})
	}
	return nil
}

func (f *fakeBackend) GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.BlobMetadata]) error {
	for i, h := range hashes {
		promises[i].Resolve(scmtypes.ComputeBlobMetadata(f.blobs[h.Path]))
	}
	return nil
}

func (f *fakeBackend) PrefetchBlobs(ctx context.Context, hashes []proxyhash.ProxyHash) error { return nil }

func (f *fakeBackend) ResolveRoot(ctx context.Context, rootID scmtypes.RootId) (scmtypes.ObjectId, error) {
	return f.rootTree, nil
}

func (f *fakeBackend) ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error {
	return nil
}

// fixture wires a full objectstore.Store (with a running importer pool),
// an overlay.Store, and an inode.Map, pre-populated with a small tree:
//
//	/ (root)
//	  file.txt  (blob "hello")
//	  dir/
//	    nested.txt (blob "world")
func newFixture(t *testing.T) (*inode.Map, context.Context) {
	t.Helper()

	backend := &fakeBackend{trees: map[string]scmtypes.Tree{}, blobs: map[string][]byte{}}

	fileID, fileSer := proxyhash.PrepareToStore("file.txt", "rev1")
	nestedID, nestedSer := proxyhash.PrepareToStore("dir/nested.txt", "rev1")
	dirTreeID, dirSer := proxyhash.PrepareToStore("dir", "rev1")
	rootTreeID, rootSer := proxyhash.PrepareToStore("root", "rev1")

	backend.blobs["file.txt"] = []byte("hello")
	backend.blobs["dir/nested.txt"] = []byte("world")
	backend.trees["dir"] = scmtypes.Tree{Entries: []scmtypes.TreeEntry{
		{Name: "nested.txt", Id: nestedID, Type: scmtypes.EntryTypeRegular},
	}}
	backend.trees["root"] = scmtypes.Tree{Entries: []scmtypes.TreeEntry{
		{Name: "file.txt", Id: fileID, Type: scmtypes.EntryTypeRegular},
		{Name: "dir", Id: dirTreeID, Type: scmtypes.EntryTypeDirectory},
	}}
	backend.rootTree = rootTreeID

	local := localstore.NewMemEngine()
	var batch []localstore.WriteEntry
	proxyhash.Store(&batch, fileID, fileSer)
	proxyhash.Store(&batch, nestedID, nestedSer)
	proxyhash.Store(&batch, dirTreeID, dirSer)
	proxyhash.Store(&batch, rootTreeID, rootSer)
	require.NoError(t, local.BatchWrite(batch))

	q := importqueue.New(map[importqueue.Kind]int{
		importqueue.TreeImport:     8,
		importqueue.BlobImport:     8,
		importqueue.BlobMetaImport: 8,
	})
	store := objectstore.New(objectcache.New(1<<20, 64), local, q, backend)

	pool := &importer.Pool{
		Queue:   q,
		Backend: backend,
		Trace:   importer.NewTraceBus(16),
		Workers: 2,
		Kinds:   []importqueue.Kind{importqueue.TreeImport, importqueue.BlobImport, importqueue.BlobMetaImport},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)

	ov, err := overlay.New(t.TempDir(), clock.RealClock{})
	require.NoError(t, err)

	m := inode.New(store, ov, clock.RealClock{}, inode.DefaultTypeCacheTTL)
	require.NoError(t, m.InitRoot(ctx, scmtypes.NewRootId([]byte{9, 9, 9}), objectstore.FetchContext{}))

	return m, ctx
}

func TestMap_LookupResolvesUnmaterializedChildren(t *testing.T) {
	m, ctx := newFixture(t)

	fileNum, err := m.Lookup(ctx, scmtypes.RootInode, "file.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	require.NotZero(t, fileNum)

	// A second lookup of the same name must return the same number
	// (invariant 5): durable naming, not just the type cache.
	again, err := m.Lookup(ctx, scmtypes.RootInode, "file.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	require.Equal(t, fileNum, again)

	buf := make([]byte, 5)
	n, err := m.ReadFile(ctx, fileNum, buf, 0, objectstore.FetchContext{})
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestMap_LookupMissingNameFails(t *testing.T) {
	m, ctx := newFixture(t)
	_, err := m.Lookup(ctx, scmtypes.RootInode, "nope", objectstore.FetchContext{})
	require.Error(t, err)
}

func TestMap_WriteFileMaterializesFileAndAncestors(t *testing.T) {
	m, ctx := newFixture(t)

	dirNum, err := m.Lookup(ctx, scmtypes.RootInode, "dir", objectstore.FetchContext{})
	require.NoError(t, err)
	nestedNum, err := m.Lookup(ctx, dirNum, "nested.txt", objectstore.FetchContext{})
	require.NoError(t, err)

	dirInode, err := m.Get(ctx, dirNum)
	require.NoError(t, err)
	dirInode.Lock()
	require.False(t, dirInode.IsMaterialized())
	dirInode.Unlock()

	_, err = m.WriteFile(ctx, nestedNum, []byte("WORLD!"), 0, objectstore.FetchContext{})
	require.NoError(t, err)

	// The write must have materialized nested.txt, dir, and root (the
	// chain of ancestors), per spec.md §4.8.
	dirInode.Lock()
	require.True(t, dirInode.IsMaterialized())
	dirInode.Unlock()

	nestedInode, err := m.Get(ctx, nestedNum)
	require.NoError(t, err)
	nestedInode.Lock()
	require.True(t, nestedInode.IsMaterialized())
	nestedInode.Unlock()

	buf := make([]byte, 6)
	n, err := m.ReadFile(ctx, nestedNum, buf, 0, objectstore.FetchContext{})
	require.NoError(t, err)
	require.Equal(t, "WORLD!", string(buf[:n]))

	// dir's overlay listing must still show nested.txt, now materialized.
	entries, err := m.ReadDir(ctx, dirNum, objectstore.FetchContext{})
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Name == "nested.txt" {
			found = true
			require.Equal(t, nestedNum, e.Child)
		}
	}
	require.True(t, found)
}

func TestMap_CreateChildThenRemoveChild(t *testing.T) {
	m, ctx := newFixture(t)

	newNum, err := m.CreateChild(ctx, scmtypes.RootInode, "new.txt", inode.KindFile, objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = m.WriteFile(ctx, newNum, []byte("fresh"), 0, objectstore.FetchContext{})
	require.NoError(t, err)

	entries, err := m.ReadDir(ctx, scmtypes.RootInode, objectstore.FetchContext{})
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["new.txt"])

	require.NoError(t, m.RemoveChild(ctx, scmtypes.RootInode, "new.txt", objectstore.FetchContext{}))

	entries, err = m.ReadDir(ctx, scmtypes.RootInode, objectstore.FetchContext{})
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, "new.txt", e.Name)
	}

	// The name can be reused for a *different* inode number, but the old
	// number itself is never resurrected (invariant 5 forbids reuse, it
	// doesn't forbid rebinding the name).
	again, err := m.CreateChild(ctx, scmtypes.RootInode, "new.txt", inode.KindFile, objectstore.FetchContext{})
	require.NoError(t, err)
	require.NotEqual(t, newNum, again)
}

func TestMap_EnsureLoadedWaitsDuringConcurrentLoad(t *testing.T) {
	m, ctx := newFixture(t)

	fileNum, err := m.Lookup(ctx, scmtypes.RootInode, "file.txt", objectstore.FetchContext{})
	require.NoError(t, err)

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := m.Get(ctx, fileNum)
			results <- err
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent Get")
		}
	}
}
