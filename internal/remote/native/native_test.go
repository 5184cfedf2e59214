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

package native_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/remote/native"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	blobs map[string]scmtypes.Blob
}

func (f *fakeReader) ReadBlob(path, revHash string) (scmtypes.Blob, error) {
	b, ok := f.blobs[path]
	if !ok {
		return scmtypes.Blob{}, os.ErrNotExist
	}
	return b, nil
}

func (f *fakeReader) ReadTree(path, revHash string) (scmtypes.Tree, error) {
	return scmtypes.Tree{}, errors.New("not implemented in fake")
}

func (f *fakeReader) ResolveRoot(rootID scmtypes.RootId) (scmtypes.ObjectId, error) {
	return scmtypes.NewObjectId(make([]byte, scmtypes.ObjectIdLen)), nil
}

func TestBackend_GetBlobBatch(t *testing.T) {
	reader := &fakeReader{blobs: map[string]scmtypes.Blob{
		"/repo/src/foo.go": {Contents: []byte("package foo")},
	}}
	b := native.New("/repo", reader)

	hashes := []proxyhash.ProxyHash{{Path: "src/foo.go", RevHash: "rev1"}}
	promises := []*remote.Promise[scmtypes.Blob]{remote.NewPromise[scmtypes.Blob]()}

	err := b.GetBlobBatch(context.Background(), nil, hashes, promises)
	require.NoError(t, err)

	blob, err := promises[0].Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("package foo"), blob.Contents)
}

func TestBackend_GetBlobBatch_NotFound(t *testing.T) {
	reader := &fakeReader{blobs: map[string]scmtypes.Blob{}}
	b := native.New("/repo", reader)

	hashes := []proxyhash.ProxyHash{{Path: "missing.go", RevHash: "rev1"}}
	promises := []*remote.Promise[scmtypes.Blob]{remote.NewPromise[scmtypes.Blob]()}

	require.NoError(t, b.GetBlobBatch(context.Background(), nil, hashes, promises))

	_, err := promises[0].Wait(context.Background())
	require.Error(t, err)
}
