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

package localstore_test

import (
	"path/filepath"
	"testing"

	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/stretchr/testify/require"
)

func engines(t *testing.T) map[string]localstore.Store {
	dir := t.TempDir()

	bolt, err := localstore.OpenBoltEngine(filepath.Join(dir, "bolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	file, err := localstore.OpenFileEngine(filepath.Join(dir, "file.db"))
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return map[string]localstore.Store{
		"mem":  localstore.NewMemEngine(),
		"bolt": bolt,
		"file": file,
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Put(localstore.CFBlobs, []byte("k1"), []byte("v1"))
			require.NoError(t, err)

			v, found, err := store.Get(localstore.CFBlobs, []byte("k1"))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("v1"), v)

			_, found, err = store.Get(localstore.CFBlobs, []byte("missing"))
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestStore_BatchWriteIsAtomicAcrossFamilies(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			err := store.BatchWrite([]localstore.WriteEntry{
				{CF: localstore.CFTrees, Key: []byte("t1"), Value: []byte("tree-bytes")},
				{CF: localstore.CFCommitToTree, Key: []byte("c1"), Value: []byte("t1")},
			})
			require.NoError(t, err)

			v, found, err := store.Get(localstore.CFCommitToTree, []byte("c1"))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("t1"), v)
		})
	}
}

func TestStore_DeleteViaNilValue(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(localstore.CFEphemeral, []byte("k"), []byte("v")))
			require.NoError(t, store.Put(localstore.CFEphemeral, []byte("k"), nil))

			_, found, err := store.Get(localstore.CFEphemeral, []byte("k"))
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(localstore.CFBlobMetadata, []byte("k"), []byte("v")))
			require.NoError(t, store.Clear(localstore.CFBlobMetadata))

			_, found, err := store.Get(localstore.CFBlobMetadata, []byte("k"))
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestFileEngine_ReplaysLogOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	e, err := localstore.OpenFileEngine(path)
	require.NoError(t, err)
	require.NoError(t, e.Put(localstore.CFProxyHashes, []byte("p"), []byte("hash")))
	require.NoError(t, e.Close())

	reopened, err := localstore.OpenFileEngine(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.Get(localstore.CFProxyHashes, []byte("p"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hash"), v)
}
