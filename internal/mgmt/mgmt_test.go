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

package mgmt_test

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/layout"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/mgmt"
	"github.com/scmfsd/scmfsd/internal/mount"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/scmfsd/scmfsd/internal/server"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves one fixed root tree (a single file "a.txt") no
// matter which ObjectId it is asked for, the same simplification
// internal/server's own fakeBackend makes -- these tests only ever
// touch one tree and one blob.
type fakeBackend struct {
	rootID   scmtypes.ObjectId
	tree     scmtypes.Tree
	contents []byte
}

func newFakeBackend() *fakeBackend {
	fileID, _ := proxyhash.PrepareToStore("a.txt@v1", "rev")
	tree, _ := scmtypes.NewTree([]scmtypes.TreeEntry{{Name: "a.txt", Id: fileID, Type: scmtypes.EntryTypeRegular}})
	rootID, _ := proxyhash.PrepareToStore("root@v1", "rev")
	return &fakeBackend{rootID: rootID, tree: tree, contents: []byte("hello")}
}

func (f *fakeBackend) GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Tree]) error {
	for _, p := range promises {
		p.Resolve(f.tree)
	}
	return nil
}
func (f *fakeBackend) GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Blob]) error {
	for _, p := range promises {
		p.Resolve(scmtypes.Blob{Contents: f.contents})
	}
	return nil
}
func (f *fakeBackend) GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.BlobMetadata]) error {
	for _, p := range promises {
		p.Resolve(scmtypes.ComputeBlobMetadata(f.contents))
	}
	return nil
}
func (f *fakeBackend) PrefetchBlobs(ctx context.Context, hashes []proxyhash.ProxyHash) error { return nil }
func (f *fakeBackend) ResolveRoot(ctx context.Context, rootID scmtypes.RootId) (scmtypes.ObjectId, error) {
	return f.rootID, nil
}
func (f *fakeBackend) ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error {
	return nil
}

type fakeSession struct{ joined chan struct{} }

func (s *fakeSession) Join(ctx context.Context) error {
	<-s.joined
	return nil
}

func newTestService(t *testing.T) (*mgmt.Service, *server.Server) {
	t.Helper()
	sess := &fakeSession{joined: make(chan struct{})}

	srv, err := server.New(server.Config{
		Dir:           layout.Dir(t.TempDir()),
		Backend:       newFakeBackend(),
		Clock:         clock.RealClock{},
		Local:         localstore.NewMemEngine(),
		CacheCapacity: 1 << 20,
		CacheShards:   16,
		BatchSizes: map[importqueue.Kind]int{
			importqueue.TreeImport: 8, importqueue.BlobImport: 8, importqueue.BlobMetaImport: 8,
		},
		ImportKinds:   []importqueue.Kind{importqueue.TreeImport, importqueue.BlobImport, importqueue.BlobMetaImport},
		ImportWorkers: 2,
		MountFUSE: func(dir string, fsrv fuse.Server, cfg *fuse.MountConfig) (server.Session, error) {
			return sess, nil
		},
		UnmountFUSE: func(dir string) error {
			close(sess.joined)
			return nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	_, err = srv.Mount(context.Background(), "repo1", t.TempDir(), scmtypes.NewRootId([]byte("v1")))
	require.NoError(t, err)

	return mgmt.New(srv), srv
}

func TestGetSHA1AndGetFileInformation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sha1s, err := svc.GetSHA1(ctx, "repo1", []string{"a.txt", "missing.txt"})
	require.NoError(t, err)
	require.Len(t, sha1s, 2)
	require.NoError(t, sha1s[0].Err)
	require.Error(t, sha1s[1].Err)

	infos, err := svc.GetFileInformation(ctx, "repo1", []string{"a.txt"})
	require.NoError(t, err)
	require.NoError(t, infos[0].Err)
	require.EqualValues(t, len("hello"), infos[0].Attr.Size)
}

func TestGlobFiles(t *testing.T) {
	svc, _ := newTestService(t)
	matches, err := svc.GlobFiles(context.Background(), "repo1", "*.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, matches)
}

func TestGetScmStatus_CleanCheckoutHasNoDiff(t *testing.T) {
	svc, _ := newTestService(t)
	status, err := svc.GetScmStatus(context.Background(), "repo1", nil)
	require.NoError(t, err)
	require.Empty(t, status.Modified)
	require.Empty(t, status.Added)
	require.Empty(t, status.Removed)
}

func TestResetParentCommitsAndJournalPosition(t *testing.T) {
	svc, _ := newTestService(t)

	before, err := svc.GetCurrentJournalPosition("repo1")
	require.NoError(t, err)

	v2 := scmtypes.NewRootId([]byte("v2"))
	require.NoError(t, svc.ResetParentCommits("repo1", v2))

	after, err := svc.GetCurrentJournalPosition("repo1")
	require.NoError(t, err)
	require.Greater(t, after.Sequence, before.Sequence)

	summary, err := svc.GetFilesChangedSince("repo1", before)
	require.NoError(t, err)
	require.Len(t, summary.Transitions, 1)
	require.Equal(t, v2.String(), summary.Transitions[0].ToRoot)
}

func TestUnloadInodes(t *testing.T) {
	svc, _ := newTestService(t)
	n, err := svc.UnloadInodes("repo1", time.Duration(0))
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 0)
}

func TestCheckOutRevision_DryRunReportsNoConflictsOnCleanTree(t *testing.T) {
	svc, _ := newTestService(t)
	v1 := scmtypes.NewRootId([]byte("v1"))
	result, err := svc.CheckOutRevision(context.Background(), "repo1", v1, mount.DryRun)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
}

func TestMountUnmountListMounts(t *testing.T) {
	svc, _ := newTestService(t)
	require.Equal(t, []string{"repo1"}, svc.ListMounts())
	require.NoError(t, svc.Unmount(context.Background(), "repo1"))
	require.Empty(t, svc.ListMounts())
}
