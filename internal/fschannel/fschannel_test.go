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

package fschannel_test

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/fschannel"
	"github.com/scmfsd/scmfsd/internal/importer"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/objectcache"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

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

func newFixture(t *testing.T) (*fschannel.Channel, *inode.Map, context.Context) {
	t.Helper()

	backend := &fakeBackend{trees: map[string]scmtypes.Tree{}, blobs: map[string][]byte{}}
	fileID, fileSer := proxyhash.PrepareToStore("greeting.txt", "rev1")
	rootTreeID, rootSer := proxyhash.PrepareToStore("root", "rev1")
	backend.blobs["greeting.txt"] = []byte("hi there")
	backend.trees["root"] = scmtypes.Tree{Entries: []scmtypes.TreeEntry{
		{Name: "greeting.txt", Id: fileID, Type: scmtypes.EntryTypeRegular},
	}}
	backend.rootTree = rootTreeID

	local := localstore.NewMemEngine()
	var batch []localstore.WriteEntry
	proxyhash.Store(&batch, fileID, fileSer)
	proxyhash.Store(&batch, rootTreeID, rootSer)
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
	require.NoError(t, m.InitRoot(ctx, scmtypes.NewRootId([]byte{1}), objectstore.FetchContext{}))

	j := journal.New(clock.RealClock{}, 1, 0)
	c := fschannel.New(m, j)
	return c, m, ctx
}

func TestChannel_LookUpInodeThenReadFile(t *testing.T) {
	c, _, ctx := newFixture(t)

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(scmtypes.RootInode), Name: "greeting.txt"}
	require.NoError(t, c.LookUpInode(ctx, lookup))
	require.NotZero(t, lookup.Entry.Child)

	read := &fuseops.ReadFileOp{Inode: lookup.Entry.Child, Offset: 0, Dst: make([]byte, 8)}
	require.NoError(t, c.ReadFile(ctx, read))
	require.Equal(t, "hi there", string(read.Dst[:read.BytesRead]))
}

func TestChannel_CreateFileWriteFileThenReadBack(t *testing.T) {
	c, _, ctx := newFixture(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.InodeID(scmtypes.RootInode), Name: "new.txt"}
	require.NoError(t, c.CreateFile(ctx, create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Offset: 0, Data: []byte("abc")}
	require.NoError(t, c.WriteFile(ctx, write))

	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Dst: make([]byte, 3)}
	require.NoError(t, c.ReadFile(ctx, read))
	require.Equal(t, "abc", string(read.Dst[:read.BytesRead]))
}

func TestChannel_MkDirThenRmDir(t *testing.T) {
	c, _, ctx := newFixture(t)

	mkdir := &fuseops.MkDirOp{Parent: fuseops.InodeID(scmtypes.RootInode), Name: "sub"}
	require.NoError(t, c.MkDir(ctx, mkdir))

	rmdir := &fuseops.RmDirOp{Parent: fuseops.InodeID(scmtypes.RootInode), Name: "sub"}
	require.NoError(t, c.RmDir(ctx, rmdir))
}
