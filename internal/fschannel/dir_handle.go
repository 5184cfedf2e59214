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

package fschannel

import (
	"context"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// dirHandle buffers one directory's listing across a sequence of ReadDir
// calls. Adapted from fs/dir_handle.go's offset-buffering dirHandle, but
// simplified: the teacher re-fetches a GCS listing page by page behind a
// continuation token, since GCS itself paginates; InodeMap.ReadDir always
// returns a directory's complete listing in one call (it's either already
// resolved in the overlay or a single decoded Tree), so this handle only
// needs to remember the fully materialized slice and an offset into it,
// never a remote continuation token.
type dirHandle struct {
	dir scmtypes.InodeNumber

	mu      sync.Mutex
	entries []fuseutil.Dirent
	loaded  bool
}

func newDirHandle(dir scmtypes.InodeNumber) *dirHandle {
	return &dirHandle{dir: dir}
}

func (dh *dirHandle) readDir(ctx context.Context, inodes *inode.Map, op *fuseops.ReadDirOp, fc objectstore.FetchContext) error {
	dh.mu.Lock()
	defer dh.mu.Unlock()

	if op.Offset == 0 {
		dh.loaded = false
	}
	if !dh.loaded {
		listing, err := inodes.ReadDir(ctx, dh.dir, fc)
		if err != nil {
			return toErrno(err)
		}
		dh.entries = make([]fuseutil.Dirent, 0, len(listing)+2)
		dh.entries = append(dh.entries,
			fuseutil.Dirent{Offset: 1, Inode: fuseops.InodeID(dh.dir), Name: ".", Type: fuseutil.DT_Directory},
			fuseutil.Dirent{Offset: 2, Inode: fuseops.InodeID(dh.dir), Name: "..", Type: fuseutil.DT_Directory},
		)
		for i, e := range listing {
			// e.Child is 0 when this name has never been the target of a
			// LookUpInode; the kernel treats readdir's d_ino as advisory and
			// always issues a real lookup before trusting an inode number, so
			// leaving it 0 here is safe.
			dh.entries = append(dh.entries, fuseutil.Dirent{
				Offset: fuseops.DirOffset(i + 3),
				Inode:  fuseops.InodeID(e.Child),
				Name:   e.Name,
				Type:   direntType(e.Type),
			})
		}
		dh.loaded = true
	}

	index := int(op.Offset)
	if index > len(dh.entries) {
		return fuse.EINVAL
	}

	for i := index; i < len(dh.entries); i++ {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dh.entries[i])
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func direntType(t scmtypes.EntryType) fuseutil.DirentType {
	switch t {
	case scmtypes.EntryTypeDirectory:
		return fuseutil.DT_Directory
	case scmtypes.EntryTypeSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}
