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

package inode

import (
	"context"
	"fmt"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Attributes is the subset of stat(2)-visible metadata InodeMap can answer
// without a filesystem-specific attribute cache.
type Attributes struct {
	Kind  Kind
	Size  int64
	Mtime int64 // Unix nanoseconds; zero for tree inodes
}

func (m *Map) Attributes(ctx context.Context, num scmtypes.InodeNumber, fc objectstore.FetchContext) (Attributes, error) {
	n, err := m.ensureLoaded(ctx, num)
	if err != nil {
		return Attributes{}, err
	}
	n.Lock()
	kind, materialized, objID := n.Kind(), n.IsMaterialized(), n.ObjectId()
	n.Unlock()

	if kind != KindFile {
		return Attributes{Kind: kind}, nil
	}
	if materialized {
		st, err := m.overlay.StatFile(num)
		if err != nil {
			return Attributes{}, err
		}
		return Attributes{Kind: kind, Size: st.Size, Mtime: st.Mtime}, nil
	}
	size, err := m.store.GetBlobSize(ctx, objID, fc)
	if err != nil {
		return Attributes{}, err
	}
	return Attributes{Kind: kind, Size: int64(size)}, nil
}

func (m *Map) ReadFile(ctx context.Context, num scmtypes.InodeNumber, buf []byte, offset int64, fc objectstore.FetchContext) (int, error) {
	n, err := m.ensureLoaded(ctx, num)
	if err != nil {
		return 0, err
	}
	n.Lock()
	kind, materialized, objID := n.Kind(), n.IsMaterialized(), n.ObjectId()
	n.Unlock()
	if kind != KindFile {
		return 0, errkind.New(errkind.Argument, "ReadFile: not a file inode")
	}
	if materialized {
		return m.overlay.ReadFile(num, buf, offset)
	}

	blob, err := m.store.GetBlob(ctx, objID, fc)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(blob.Contents)) {
		return 0, nil
	}
	return copy(buf, blob.Contents[offset:]), nil
}

// WriteFile materializes num on first write, then writes through to
// Overlay.
func (m *Map) WriteFile(ctx context.Context, num scmtypes.InodeNumber, buf []byte, offset int64, fc objectstore.FetchContext) (int, error) {
	n, err := m.ensureLoaded(ctx, num)
	if err != nil {
		return 0, err
	}
	n.Lock()
	kind, materialized := n.Kind(), n.IsMaterialized()
	n.Unlock()
	if kind != KindFile {
		return 0, errkind.New(errkind.Argument, "WriteFile: not a file inode")
	}
	if !materialized {
		if err := m.Materialize(ctx, num, fc); err != nil {
			return 0, err
		}
	}
	return m.overlay.WriteFile(num, buf, offset)
}

func (m *Map) Truncate(ctx context.Context, num scmtypes.InodeNumber, size int64, fc objectstore.FetchContext) error {
	n, err := m.ensureLoaded(ctx, num)
	if err != nil {
		return err
	}
	n.Lock()
	kind, materialized := n.Kind(), n.IsMaterialized()
	n.Unlock()
	if kind != KindFile {
		return errkind.New(errkind.Argument, "Truncate: not a file inode")
	}
	if !materialized {
		if err := m.Materialize(ctx, num, fc); err != nil {
			return err
		}
	}
	return m.overlay.Truncate(num, size)
}

// DirListEntry is one child as seen by a readdir, merging the
// source-control tree and the overlay listing into one view. Child is 0
// when no inode number has been allocated for this name yet (it has never
// been the target of a lookup).
type DirListEntry struct {
	Name  string
	Type  scmtypes.EntryType
	Child scmtypes.InodeNumber
}

func (m *Map) ReadDir(ctx context.Context, num scmtypes.InodeNumber, fc objectstore.FetchContext) ([]DirListEntry, error) {
	n, err := m.ensureLoaded(ctx, num)
	if err != nil {
		return nil, err
	}
	n.Lock()
	kind, materialized, objID := n.Kind(), n.IsMaterialized(), n.ObjectId()
	n.Unlock()
	if kind != KindTree {
		return nil, errkind.New(errkind.Argument, "ReadDir: not a directory inode")
	}

	if materialized {
		entries, err := m.overlay.ReadDir(num)
		if err != nil {
			return nil, err
		}
		out := make([]DirListEntry, 0, len(entries))
		for _, e := range entries {
			var child scmtypes.InodeNumber
			if e.Kind == overlay.DirEntryMaterialized {
				child = e.Child
			}
			out = append(out, DirListEntry{Name: e.Name, Type: e.Type, Child: child})
		}
		return out, nil
	}

	tree, err := m.store.GetTree(ctx, objID, fc)
	if err != nil {
		return nil, err
	}
	out := make([]DirListEntry, 0, len(tree.Entries))
	for _, te := range tree.Entries {
		out = append(out, DirListEntry{Name: te.Name, Type: te.Type})
	}
	return out, nil
}

// Inspect reports num's materialization state, backing ObjectId (valid
// only when unmaterialized), and kind. MountPoint's checkout algorithm
// uses this to tell an untouched inode from a locally modified one
// without going through the full Attributes path.
func (m *Map) Inspect(ctx context.Context, num scmtypes.InodeNumber) (materialized bool, objID scmtypes.ObjectId, kind Kind, err error) {
	n, err := m.ensureLoaded(ctx, num)
	if err != nil {
		return false, scmtypes.ObjectId{}, 0, err
	}
	n.Lock()
	defer n.Unlock()
	return n.IsMaterialized(), n.ObjectId(), n.Kind(), nil
}

// AddReference inserts, or overwrites, a name in an already-materialized
// parent directory with an unmaterialized reference to objID -- the same
// shape InitRoot uses to seed the root's own children (spec.md §4.8),
// generalized so checkout can point any materialized directory's entry at
// a new source-control object without fetching its content. If name
// previously named a loaded inode, that inode's table entry is left dead
// per invariant 5 and its overlay storage, if any, is freed.
func (m *Map) AddReference(ctx context.Context, parent scmtypes.InodeNumber, name string, objID scmtypes.ObjectId, entryType scmtypes.EntryType, fc objectstore.FetchContext) error {
	if err := m.overlay.AddChild(parent, overlay.DirEntry{Name: name, Kind: overlay.DirEntryReference, ObjectId: objID, Type: entryType}); err != nil {
		return err
	}

	m.mu.Lock()
	existing, had := m.names[parent][name]
	delete(m.names[parent], name)
	m.mu.Unlock()
	m.typeCacheFor(parent).Erase(name)

	if had {
		if err := m.overlay.RemoveInode(existing); err != nil {
			return err
		}
	}
	return nil
}

// CreateChild materializes parent (a structural change) and adds a new,
// empty child inode under it.
func (m *Map) CreateChild(ctx context.Context, parent scmtypes.InodeNumber, name string, kind Kind, fc objectstore.FetchContext) (scmtypes.InodeNumber, error) {
	if err := m.Materialize(ctx, parent, fc); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if _, exists := m.names[parent][name]; exists {
		m.mu.Unlock()
		return 0, errkind.New(errkind.Argument, fmt.Sprintf("CreateChild: %q already exists", name))
	}
	num := m.next
	m.next++
	m.entries[num] = &tableEntry{
		kind:   kind,
		parent: ParentLink{Parent: parent, Name: name},
		state:  Unloaded,
		hint:   persistHint{Materialized: true},
	}
	if kind == KindTree {
		m.names[num] = make(map[string]scmtypes.InodeNumber)
	}
	m.names[parent][name] = num
	m.mu.Unlock()

	if _, err := m.ensureLoaded(ctx, num); err != nil {
		return 0, err
	}

	entryType := scmtypes.EntryTypeRegular
	if kind == KindTree {
		entryType = scmtypes.EntryTypeDirectory
	}
	if err := m.overlay.AddChild(parent, overlay.DirEntry{Name: name, Kind: overlay.DirEntryMaterialized, Child: num, Type: entryType}); err != nil {
		return 0, err
	}
	m.typeCacheFor(parent).Erase(name)
	return num, nil
}

// RemoveChild materializes parent and deletes the named entry, discarding
// the child's overlay state entirely. The child's InodeMap table entry is
// left in place (invariant 5: inode numbers are never reused), simply
// unreachable by name from now on.
func (m *Map) RemoveChild(ctx context.Context, parent scmtypes.InodeNumber, name string, fc objectstore.FetchContext) error {
	if err := m.Materialize(ctx, parent, fc); err != nil {
		return err
	}
	if err := m.overlay.RemoveChild(parent, name); err != nil {
		return err
	}

	m.mu.Lock()
	num, existed := m.names[parent][name]
	delete(m.names[parent], name)
	m.mu.Unlock()
	m.typeCacheFor(parent).Erase(name)

	if existed {
		if err := m.overlay.RemoveInode(num); err != nil {
			return err
		}
	}
	return nil
}

// RenameChild renames an entry within the same materialized directory.
// Moving across directories is the caller's responsibility via
// RemoveChild/CreateChild on the two parents, since that spans two
// inodes' overlay state.
func (m *Map) RenameChild(ctx context.Context, parent scmtypes.InodeNumber, oldName, newName string, fc objectstore.FetchContext) error {
	if err := m.Materialize(ctx, parent, fc); err != nil {
		return err
	}
	if err := m.overlay.RenameChild(parent, oldName, newName); err != nil {
		return err
	}

	m.mu.Lock()
	num, existed := m.names[parent][oldName]
	if existed {
		delete(m.names[parent], oldName)
		m.names[parent][newName] = num
	}
	m.mu.Unlock()
	m.typeCacheFor(parent).Erase(oldName)
	m.typeCacheFor(parent).Erase(newName)

	if existed {
		if n, err := m.ensureLoaded(ctx, num); err == nil {
			n.Lock()
			n.SetParent(ParentLink{Parent: parent, Name: newName})
			n.Unlock()
		}
	}
	return nil
}
