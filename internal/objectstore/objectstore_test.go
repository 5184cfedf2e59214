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

package objectstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/scmfsd/scmfsd/internal/importer"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/objectcache"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	blobs map[string][]byte
}

func (f *fakeBackend) GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Tree]) error {
	return nil
}
func (f *fakeBackend) GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.BlobMetadata]) error {
	return nil
}
func (f *fakeBackend) PrefetchBlobs(ctx context.Context, hashes []proxyhash.ProxyHash) error {
	return nil
}
func (f *fakeBackend) ResolveRoot(ctx context.Context, rootID scmtypes.RootId) (scmtypes.ObjectId, error) {
	raw := make([]byte, scmtypes.ObjectIdLen)
	raw[0] = 0x42
	return scmtypes.NewObjectId(raw), nil
}
func (f *fakeBackend) ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error {
	return nil
}
func (f *fakeBackend) GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Blob]) error {
	for i, h := range hashes {
		promises[i].Resolve(scmtypes.Blob{Contents: f.blobs[h.Path]})
	}
	return nil
}

func newStore(backend *fakeBackend) (*objectstore.Store, *importqueue.Queue) {
	q := importqueue.New(map[importqueue.Kind]int{importqueue.BlobImport: 8})
	s := objectstore.New(objectcache.New(1<<20, 16), localstore.NewMemEngine(), q, backend)
	return s, q
}

func TestStore_GetBlob_ResolvesThroughImportQueueAndPopulatesLowerTiers(t *testing.T) {
	backend := &fakeBackend{blobs: map[string][]byte{"src/foo.go": []byte("package foo")}}
	s, q := newStore(backend)

	pool := &importer.Pool{
		Queue:   q,
		Backend: backend,
		Trace:   importer.NewTraceBus(16),
		Workers: 1,
		Kinds:   []importqueue.Kind{importqueue.BlobImport},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	id, serialized := proxyhash.PrepareToStore("src/foo.go", "rev1")
	var batch []localstore.WriteEntry
	proxyhash.Store(&batch, id, serialized)
	require.NoError(t, s.Local.BatchWrite(batch))

	blob, err := s.GetBlob(context.Background(), id, objectstore.FetchContext{Cause: objectstore.CauseFS})
	require.NoError(t, err)
	require.Equal(t, []byte("package foo"), blob.Contents)

	// Level 2 (LocalStore) should now be populated.
	raw, found, err := s.Local.Get(localstore.CFBlobs, id.Bytes())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("package foo"), raw)

	// Level 1 (cache) should now be populated, so a second Get needs no
	// importer round trip at all.
	blob2, err := s.GetBlob(context.Background(), id, objectstore.FetchContext{})
	require.NoError(t, err)
	require.Equal(t, blob.Contents, blob2.Contents)
}

func TestStore_GetRootTree_RecordsCommitToTreeOnMiss(t *testing.T) {
	backend := &fakeBackend{blobs: map[string][]byte{}}
	s, _ := newStore(backend)

	rootID := scmtypes.NewRootId([]byte{1, 2, 3})
	key := objectstore.RenderRootId(rootID)

	_, found, err := s.Local.Get(localstore.CFCommitToTree, key)
	require.NoError(t, err)
	require.False(t, found)

	// GetRootTree will try to resolve the tree id's contents via GetTree,
	// which has no entry anywhere and will block forever on a real import
	// queue with no worker draining it; so this test only exercises the
	// commit_to_tree recording path by checking it was written before the
	// (intentionally uninspected) GetTree call is issued in a goroutine
	// that we don't wait on.
	go s.GetRootTree(context.Background(), rootID, objectstore.FetchContext{})
	require.Eventually(t, func() bool {
		_, found, _ := s.Local.Get(localstore.CFCommitToTree, key)
		return found
	}, time.Second, 10*time.Millisecond)
}
