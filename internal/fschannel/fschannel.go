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

// Package fschannel is FsChannel (spec.md §2, §4.9): the kernel-facing
// fuseutil.FileSystem implementation that turns FUSE ops into InodeMap
// and Journal calls. It owns no object or overlay state itself -- every
// method here is a thin translation layer between fuseops request/reply
// shapes and internal/inode's InodeNumber-addressed API.
//
// Adapted from fs/fs.go's fileSystem: same per-op method shape and the
// same "parent lookup under fs.mu, then release before the possibly
// slow child operation" locking discipline, with GCS object fetches
// replaced by InodeMap operations and a Journal append on every
// structural or content mutation.
package fschannel

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Channel implements fuseutil.FileSystem over one mount's InodeMap and
// Journal.
type Channel struct {
	fuseutil.NotImplementedFileSystem

	inodes  *inode.Map
	journal *journal.Journal

	mu         sync.Mutex
	handles    map[fuseops.HandleID]*dirHandle
	nextHandle fuseops.HandleID
}

// New creates a Channel over an already-initialized InodeMap (InitRoot
// must have been called) and Journal.
func New(inodes *inode.Map, j *journal.Journal) *Channel {
	return &Channel{
		inodes:  inodes,
		journal: j,
		handles: make(map[fuseops.HandleID]*dirHandle),
	}
}

func (c *Channel) fc() objectstore.FetchContext {
	return objectstore.FetchContext{Cause: objectstore.CauseFS}
}

// toErrno translates an internal error kind to the POSIX errno surface
// the kernel expects, mirroring fs.go's translation of GCS-specific
// errors (*gcs.PreconditionError -> fuse.EEXIST). NotFound, Argument,
// BackendTimeout and Cancelled map to ENOENT, EINVAL, EIO and EINTR;
// any other kind is returned as the error itself.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch errkind.KindOf(err) {
	case errkind.NotFound:
		return fuse.ENOENT
	case errkind.Argument:
		return fuse.EINVAL
	case errkind.BackendTimeout:
		return fuse.EIO
	case errkind.Cancelled:
		return syscall.EINTR
	default:
		return err
	}
}

func (c *Channel) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (c *Channel) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	num, err := c.inodes.Lookup(ctx, scmtypes.InodeNumber(op.Parent), op.Name, c.fc())
	if err != nil {
		return toErrno(err)
	}
	attrs, err := c.inodes.Attributes(ctx, num, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(num)
	op.Entry.Attributes = toFuseAttrs(attrs)
	return nil
}

func (c *Channel) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	num := scmtypes.InodeNumber(op.Inode)
	attrs, err := c.inodes.Attributes(ctx, num, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = toFuseAttrs(attrs)
	return nil
}

func (c *Channel) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	num := scmtypes.InodeNumber(op.Inode)
	if op.Size != nil {
		if err := c.inodes.Truncate(ctx, num, int64(*op.Size), c.fc()); err != nil {
			return toErrno(err)
		}
		c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Status: journal.Changed}}})
	}
	attrs, err := c.inodes.Attributes(ctx, num, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = toFuseAttrs(attrs)
	return nil
}

func (c *Channel) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	in, err := c.inodes.Get(ctx, scmtypes.InodeNumber(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	in.Lock()
	in.DecrementLookupCount(op.N)
	in.Unlock()
	return nil
}

func (c *Channel) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	num, err := c.inodes.CreateChild(ctx, scmtypes.InodeNumber(op.Parent), op.Name, inode.KindTree, c.fc())
	if err != nil {
		return toErrno(err)
	}
	attrs, err := c.inodes.Attributes(ctx, num, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(num)
	op.Entry.Attributes = toFuseAttrs(attrs)
	c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: op.Name, Status: journal.Created}}})
	return nil
}

func (c *Channel) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	num, err := c.inodes.CreateChild(ctx, scmtypes.InodeNumber(op.Parent), op.Name, inode.KindFile, c.fc())
	if err != nil {
		return toErrno(err)
	}
	attrs, err := c.inodes.Attributes(ctx, num, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(num)
	op.Entry.Attributes = toFuseAttrs(attrs)
	c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: op.Name, Status: journal.Created}}})
	return nil
}

func (c *Channel) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	if err := c.inodes.RemoveChild(ctx, scmtypes.InodeNumber(op.Parent), op.Name, c.fc()); err != nil {
		return toErrno(err)
	}
	c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: op.Name, Status: journal.Changed}}})
	return nil
}

func (c *Channel) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if err := c.inodes.RemoveChild(ctx, scmtypes.InodeNumber(op.Parent), op.Name, c.fc()); err != nil {
		return toErrno(err)
	}
	c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: op.Name, Status: journal.Changed}}})
	return nil
}

func (c *Channel) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	if op.OldParent != op.NewParent {
		return fuse.ENOSYS // cross-directory rename spans two InodeMap parents; see DESIGN.md
	}
	if err := c.inodes.RenameChild(ctx, scmtypes.InodeNumber(op.OldParent), op.OldName, op.NewName, c.fc()); err != nil {
		return toErrno(err)
	}
	c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{
		{Path: op.OldName, Status: journal.Changed},
		{Path: op.NewName, Status: journal.Changed},
	}})
	return nil
}

func (c *Channel) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandle
	c.nextHandle++
	c.handles[id] = newDirHandle(scmtypes.InodeNumber(op.Inode))
	op.Handle = id
	return nil
}

func (c *Channel) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	c.mu.Lock()
	dh := c.handles[op.Handle]
	c.mu.Unlock()
	return dh.readDir(ctx, c.inodes, op, c.fc())
}

func (c *Channel) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, op.Handle)
	return nil
}

func (c *Channel) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return nil
}

func (c *Channel) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	n, err := c.inodes.ReadFile(ctx, scmtypes.InodeNumber(op.Inode), op.Dst, op.Offset, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.BytesRead = n
	return nil
}

func (c *Channel) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := c.inodes.WriteFile(ctx, scmtypes.InodeNumber(op.Inode), op.Data, op.Offset, c.fc())
	if err != nil {
		return toErrno(err)
	}
	c.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Status: journal.Changed}}})
	return nil
}

func (c *Channel) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (c *Channel) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	attrs, err := c.inodes.Attributes(ctx, scmtypes.InodeNumber(op.Inode), c.fc())
	if err != nil {
		return toErrno(err)
	}
	buf := make([]byte, attrs.Size)
	n, err := c.inodes.ReadFile(ctx, scmtypes.InodeNumber(op.Inode), buf, 0, c.fc())
	if err != nil {
		return toErrno(err)
	}
	op.Target = string(buf[:n])
	return nil
}

func toFuseAttrs(attrs inode.Attributes) fuseops.InodeAttributes {
	mode := os.FileMode(0o644)
	nlink := uint32(1)
	if attrs.Kind == inode.KindTree {
		mode = os.ModeDir | 0o755
		nlink = 2
	}
	return fuseops.InodeAttributes{
		Size:  uint64(attrs.Size),
		Nlink: nlink,
		Mode:  mode,
	}
}
