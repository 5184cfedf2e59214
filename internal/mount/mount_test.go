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

package mount_test

import (
	"context"
	"testing"

	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/importer"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/mount"
	"github.com/scmfsd/scmfsd/internal/objectcache"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	trees map[string]scmtypes.Tree
	blobs map[string][]byte
	roots map[string]scmtypes.ObjectId
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
	return f.roots[rootID.String()], nil
}
func (f *fakeBackend) ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error {
	return nil
}

// fixture wires a real objectstore+overlay+InodeMap+MountPoint over a
// fake two-commit history: v1 has keep.txt, old.txt, and changed.txt;
// v2 keeps keep.txt unchanged, adds new.txt, drops old.txt, and gives
// changed.txt a different ObjectId/content than it had in v1.
type fixture struct {
	ctx     context.Context
	point   *mount.Point
	inodes  *inode.Map
	v1, v2  scmtypes.RootId
	backend *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := &fakeBackend{trees: map[string]scmtypes.Tree{}, blobs: map[string][]byte{}, roots: map[string]scmtypes.ObjectId{}}
	var batch []localstore.WriteEntry

	put := func(key, content string) scmtypes.ObjectId {
		id, ser := proxyhash.PrepareToStore(key, "rev")
		proxyhash.Store(&batch, id, ser)
		backend.blobs[key] = []byte(content)
		return id
	}
	putTree := func(key string, entries []scmtypes.TreeEntry) scmtypes.ObjectId {
		id, ser := proxyhash.PrepareToStore(key, "rev")
		proxyhash.Store(&batch, id, ser)
		tree, err := scmtypes.NewTree(entries)
		require.NoError(t, err)
		backend.trees[key] = tree
		return id
	}

	keepID := put("keep.txt@v1", "unchanged")
	oldID := put("old.txt@v1", "will be removed")
	changedV1ID := put("changed.txt@v1", "v1 content")
	rootV1ID := putTree("root@v1", []scmtypes.TreeEntry{
		{Name: "keep.txt", Id: keepID, Type: scmtypes.EntryTypeRegular},
		{Name: "old.txt", Id: oldID, Type: scmtypes.EntryTypeRegular},
		{Name: "changed.txt", Id: changedV1ID, Type: scmtypes.EntryTypeRegular},
	})

	newID := put("new.txt@v2", "freshly added")
	changedV2ID := put("changed.txt@v2", "v2 content")
	rootV2ID := putTree("root@v2", []scmtypes.TreeEntry{
		{Name: "keep.txt", Id: keepID, Type: scmtypes.EntryTypeRegular},
		{Name: "new.txt", Id: newID, Type: scmtypes.EntryTypeRegular},
		{Name: "changed.txt", Id: changedV2ID, Type: scmtypes.EntryTypeRegular},
	})

	v1 := scmtypes.NewRootId([]byte("v1"))
	v2 := scmtypes.NewRootId([]byte("v2"))
	backend.roots[v1.String()] = rootV1ID
	backend.roots[v2.String()] = rootV2ID

	local := localstore.NewMemEngine()
	require.NoError(t, local.BatchWrite(batch))

	q := importqueue.New(map[importqueue.Kind]int{
		importqueue.TreeImport: 8, importqueue.BlobImport: 8, importqueue.BlobMetaImport: 8,
	})
	store := objectstore.New(objectcache.New(1<<20, 64), local, q, backend)

	pool := &importer.Pool{
		Queue: q, Backend: backend, Trace: importer.NewTraceBus(16), Workers: 2,
		Kinds: []importqueue.Kind{importqueue.TreeImport, importqueue.BlobImport, importqueue.BlobMetaImport},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)

	ov, err := overlay.New(t.TempDir(), clock.RealClock{})
	require.NoError(t, err)

	m := inode.New(store, ov, clock.RealClock{}, inode.DefaultTypeCacheTTL)
	require.NoError(t, m.InitRoot(ctx, v1, objectstore.FetchContext{}))

	j := journal.New(clock.RealClock{}, 1, 0)
	p := mount.New(m, store, j, clock.RealClock{}, v1)

	return &fixture{ctx: ctx, point: p, inodes: m, v1: v1, v2: v2, backend: backend}
}

func TestCheckout_Normal_AppliesAddsAndRemoves(t *testing.T) {
	f := newFixture(t)

	result, err := f.point.Checkout(f.ctx, f.v2, mount.Normal)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.Equal(t, f.v2, f.point.CurrentRoot())

	_, err = f.inodes.Lookup(f.ctx, scmtypes.RootInode, "new.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = f.inodes.Lookup(f.ctx, scmtypes.RootInode, "old.txt", objectstore.FetchContext{})
	require.Error(t, err)
}

func TestCheckout_DryRun_LeavesCurrentRootUnchanged(t *testing.T) {
	f := newFixture(t)

	result, err := f.point.Checkout(f.ctx, f.v2, mount.DryRun)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.Equal(t, f.v1, f.point.CurrentRoot())
}

func TestCheckout_Normal_ReportsConflictOnLocallyModifiedRemoval(t *testing.T) {
	f := newFixture(t)

	oldNum, err := f.inodes.Lookup(f.ctx, scmtypes.RootInode, "old.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = f.inodes.WriteFile(f.ctx, oldNum, []byte("locally edited"), 0, objectstore.FetchContext{})
	require.NoError(t, err)

	result, err := f.point.Checkout(f.ctx, f.v2, mount.Normal)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, "old.txt", result.Conflicts[0].Path)
	require.Equal(t, f.v1, f.point.CurrentRoot(), "a conflicted checkout must not advance the current root")
}

func TestCheckout_Force_OverwritesConflict(t *testing.T) {
	f := newFixture(t)

	oldNum, err := f.inodes.Lookup(f.ctx, scmtypes.RootInode, "old.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = f.inodes.WriteFile(f.ctx, oldNum, []byte("locally edited"), 0, objectstore.FetchContext{})
	require.NoError(t, err)

	result, err := f.point.Checkout(f.ctx, f.v2, mount.Force)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1, "Force still reports what it overwrote")
	require.Equal(t, f.v2, f.point.CurrentRoot())
}

func TestCheckout_Force_UnmaterializesOverwrittenFileStillInTarget(t *testing.T) {
	f := newFixture(t)

	changedNum, err := f.inodes.Lookup(f.ctx, scmtypes.RootInode, "changed.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = f.inodes.WriteFile(f.ctx, changedNum, []byte("locally edited"), 0, objectstore.FetchContext{})
	require.NoError(t, err)
	materialized, _, _, err := f.inodes.Inspect(f.ctx, changedNum)
	require.NoError(t, err)
	require.True(t, materialized, "WriteFile must materialize the inode before Force is exercised")

	result, err := f.point.Checkout(f.ctx, f.v2, mount.Force)
	require.NoError(t, err)
	require.Contains(t, conflictPaths(result.Conflicts), "changed.txt")
	require.Equal(t, f.v2, f.point.CurrentRoot())

	changedNum, err = f.inodes.Lookup(f.ctx, scmtypes.RootInode, "changed.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	materialized, _, _, err = f.inodes.Inspect(f.ctx, changedNum)
	require.NoError(t, err)
	require.False(t, materialized, "a Force checkout that lands on newEntry's object must re-reference, not overwrite, the overlay (spec.md §8 scenario 4)")

	buf := make([]byte, len("v2 content"))
	_, err = f.inodes.ReadFile(f.ctx, changedNum, buf, 0, objectstore.FetchContext{})
	require.NoError(t, err)
	require.Equal(t, "v2 content", string(buf))
}

func conflictPaths(conflicts []mount.Conflict) []string {
	paths := make([]string, len(conflicts))
	for i, c := range conflicts {
		paths[i] = c.Path
	}
	return paths
}

func TestDiff_ReportsAddedRemovedAndModified(t *testing.T) {
	f := newFixture(t)

	keepNum, err := f.inodes.Lookup(f.ctx, scmtypes.RootInode, "keep.txt", objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = f.inodes.WriteFile(f.ctx, keepNum, []byte("changed locally"), 0, objectstore.FetchContext{})
	require.NoError(t, err)
	_, err = f.inodes.CreateChild(f.ctx, scmtypes.RootInode, "untracked.txt", inode.KindFile, objectstore.FetchContext{})
	require.NoError(t, err)

	result, err := f.point.Diff(f.ctx, f.v1, nil)
	require.NoError(t, err)
	require.Contains(t, result.Modified, "keep.txt")
	require.Contains(t, result.Added, "untracked.txt")
}
