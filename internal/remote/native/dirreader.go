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

package native

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// DirReader is the PackReader a bare local checkout uses: Root is an
// ordinary directory tree on disk and the revHash argument is ignored --
// there is no revision history, just whatever is on disk right now. This is the
// reader cmd/daemon.go's "native" backend constructs when no other
// source-control plumbing is configured.
type DirReader struct {
	Root string
}

var _ PackReader = DirReader{}

// ResolveRoot always resolves to the same id derived from Root: DirReader
// has no notion of history, so every mount against it sees the same tree.
func (d DirReader) ResolveRoot(scmtypes.RootId) (scmtypes.ObjectId, error) {
	return objectIdForPath(d.Root), nil
}

func (d DirReader) ReadTree(path, revHash string) (scmtypes.Tree, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return scmtypes.Tree{}, fmt.Errorf("reading dir %s: %w", path, err)
	}
	result := make([]scmtypes.TreeEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return scmtypes.Tree{}, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		entryType := scmtypes.EntryTypeRegular
		switch {
		case e.IsDir():
			entryType = scmtypes.EntryTypeDirectory
		case info.Mode()&os.ModeSymlink != 0:
			entryType = scmtypes.EntryTypeSymlink
		case info.Mode()&0111 != 0:
			entryType = scmtypes.EntryTypeExecutable
		}
		result = append(result, scmtypes.TreeEntry{
			Name: e.Name(),
			Id:   objectIdForPath(filepath.Join(path, e.Name())),
			Type: entryType,
		})
	}
	return scmtypes.NewTree(result)
}

func (d DirReader) ReadBlob(path, revHash string) (scmtypes.Blob, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return scmtypes.Blob{}, fmt.Errorf("reading file %s: %w", path, err)
	}
	return scmtypes.Blob{Contents: contents}, nil
}

// objectIdForPath derives a stable id from a path so repeated tree reads
// yield the same child ids; DirReader has no real content-addressing,
// only file-path-addressing.
func objectIdForPath(path string) scmtypes.ObjectId {
	sum := sha1.Sum([]byte(path))
	return scmtypes.NewObjectId(sum[:])
}
