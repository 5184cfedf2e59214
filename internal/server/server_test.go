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

package server

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/layout"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct{ rootID scmtypes.ObjectId }

func (f *fakeBackend) GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Tree]) error {
	for _, p := range promises {
		tree, _ := scmtypes.NewTree(nil)
		p.Resolve(tree)
	}
	return nil
}
func (f *fakeBackend) GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Blob]) error {
	for _, p := range promises {
		p.Resolve(scmtypes.Blob{})
	}
	return nil
}
func (f *fakeBackend) GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.BlobMetadata]) error {
	for _, p := range promises {
		p.Resolve(scmtypes.ComputeBlobMetadata(nil))
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
	select {
	case <-s.joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestServer(t *testing.T) (*Server, *fakeSession) {
	t.Helper()

	rootID, _ := proxyhash.PrepareToStore("root@v1", "rev")
	backend := &fakeBackend{rootID: rootID}

	sess := &fakeSession{joined: make(chan struct{})}

	s, err := New(Config{
		Dir:           layout.Dir(t.TempDir()),
		Backend:       backend,
		Clock:         clock.RealClock{},
		Local:         localstore.NewMemEngine(),
		CacheCapacity: 1 << 20,
		CacheShards:   16,
		BatchSizes: map[importqueue.Kind]int{
			importqueue.TreeImport: 8, importqueue.BlobImport: 8, importqueue.BlobMetaImport: 8,
		},
		ImportKinds:   []importqueue.Kind{importqueue.TreeImport, importqueue.BlobImport, importqueue.BlobMetaImport},
		ImportWorkers: 2,
		MountFUSE: func(dir string, srv fuse.Server, cfg *fuse.MountConfig) (Session, error) {
			return sess, nil
		},
		UnmountFUSE: func(dir string) error {
			close(sess.joined)
			return nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, sess
}

func TestNew_AcquiresLockAndRejectsSecondInstance(t *testing.T) {
	dir := layout.Dir(t.TempDir())
	s1, err := New(Config{Dir: dir, Backend: &fakeBackend{}, Clock: clock.RealClock{}, Local: localstore.NewMemEngine()})
	require.NoError(t, err)
	defer s1.Shutdown(context.Background())

	_, err = New(Config{Dir: dir, Backend: &fakeBackend{}, Clock: clock.RealClock{}, Local: localstore.NewMemEngine()})
	require.Error(t, err)
}

func TestMount_RegistersAndUnmountDeregisters(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	v1 := scmtypes.NewRootId([]byte("v1"))
	point, err := s.Mount(ctx, "repo1", "/tmp/does-not-matter", v1)
	require.NoError(t, err)
	require.NotNil(t, point)
	require.Equal(t, []string{"repo1"}, s.ListMounts())

	_, ok := s.Point("repo1")
	require.True(t, ok)

	require.NoError(t, s.Unmount(ctx, "repo1"))
	require.Empty(t, s.ListMounts())
	_, ok = s.Point("repo1")
	require.False(t, ok)
}

func TestMount_DuplicateNameRejected(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	v1 := scmtypes.NewRootId([]byte("v1"))

	_, err := s.Mount(ctx, "repo1", "/tmp/a", v1)
	require.NoError(t, err)

	_, err = s.Mount(ctx, "repo1", "/tmp/b", v1)
	require.Error(t, err)
}

func TestShutdown_UnmountsEveryMount(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	v1 := scmtypes.NewRootId([]byte("v1"))

	_, err := s.Mount(ctx, "repo1", "/tmp/a", v1)
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(ctx))
	require.Empty(t, s.ListMounts())
}
