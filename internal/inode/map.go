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
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// DefaultTypeCacheTTL mirrors the teacher's typeCacheTTL knob (fs/inode.
// NewDirInode's parameter of the same name).
const DefaultTypeCacheTTL = 0 // disabled; internal/server passes this value too, and no config setting changes it.

// tableEntry is InodeMap's one row per inode number: either a loaded
// Inode, or (when Unloaded) just enough to reload it later.
type tableEntry struct {
	kind   Kind
	parent ParentLink

	state LoadState
	inode *Inode // valid iff state == Loaded

	// hint is kept up to date even while loaded, so transitioning to
	// Unloaded never needs to ask the Inode for anything.
	hint persistHint

	waiters        []chan struct{}
	loadedChildren int // invariant 2 bookkeeping: this entry can't unload while > 0
}

type persistHint struct {
	ObjectId     scmtypes.ObjectId
	Materialized bool
}

// Map is InodeMap: the table from InodeNumber to loaded inode or hint,
// with per-inode synchronization and a short-held table lock (spec.md
// §5's "Shared resources" list).
type Map struct {
	mu      sync.Mutex
	entries map[scmtypes.InodeNumber]*tableEntry
	names   map[scmtypes.InodeNumber]map[string]scmtypes.InodeNumber // durable parent -> (name -> child number)
	caches  map[scmtypes.InodeNumber]*typeCache                      // lazy, one per loaded directory

	next scmtypes.InodeNumber

	store        *objectstore.Store
	overlay      *overlay.Store
	clock        timeutil.Clock
	typeCacheTTL time.Duration
}

func New(store *objectstore.Store, ov *overlay.Store, clock timeutil.Clock, typeCacheTTL time.Duration) *Map {
	return &Map{
		entries:      make(map[scmtypes.InodeNumber]*tableEntry),
		names:        make(map[scmtypes.InodeNumber]map[string]scmtypes.InodeNumber),
		caches:       make(map[scmtypes.InodeNumber]*typeCache),
		next:         scmtypes.RootInode + 1,
		store:        store,
		overlay:      ov,
		clock:        clock,
		typeCacheTTL: typeCacheTTL,
	}
}

// InitRoot seeds the root inode (invariant 3: always loaded, always
// materialized) from rootID's top-level tree, recording every top-level
// entry into the overlay as an (as yet unmaterialized) reference.
func (m *Map) InitRoot(ctx context.Context, rootID scmtypes.RootId, fc objectstore.FetchContext) error {
	tree, err := m.store.GetRootTree(ctx, rootID, fc)
	if err != nil {
		return err
	}

	overlayEntries := make([]overlay.DirEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		overlayEntries = append(overlayEntries, overlay.DirEntry{
			Name:     e.Name,
			Kind:     overlay.DirEntryReference,
			ObjectId: e.Id,
			Type:     e.Type,
		})
	}
	for _, e := range overlayEntries {
		if err := m.overlay.AddChild(scmtypes.RootInode, e); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[scmtypes.RootInode] = &tableEntry{
		kind:  KindTree,
		state: Loaded,
		inode: newInode(scmtypes.RootInode, KindTree, ParentLink{}, scmtypes.ZeroObjectId, true, m.clock.Now()),
		hint:  persistHint{Materialized: true},
	}
	m.names[scmtypes.RootInode] = make(map[string]scmtypes.InodeNumber)
	return nil
}

func (m *Map) typeCacheFor(dir scmtypes.InodeNumber) *typeCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.caches[dir]
	if !ok {
		tc = newTypeCache(m.typeCacheTTL)
		m.caches[dir] = tc
	}
	return tc
}

// Get returns the loaded inode for num, loading it first if necessary.
func (m *Map) Get(ctx context.Context, num scmtypes.InodeNumber) (*Inode, error) {
	return m.ensureLoaded(ctx, num)
}

// Lookup resolves (parent, name) to an inode number, allocating and
// loading a new inode on first sight of that name (spec.md §4.8).
func (m *Map) Lookup(ctx context.Context, parent scmtypes.InodeNumber, name string, fc objectstore.FetchContext) (scmtypes.InodeNumber, error) {
	parentInode, err := m.ensureLoaded(ctx, parent)
	if err != nil {
		return 0, err
	}

	parentInode.Lock()
	if parentInode.Kind() != KindTree {
		parentInode.Unlock()
		return 0, errkind.New(errkind.Argument, "Lookup: parent is not a directory")
	}
	materialized := parentInode.IsMaterialized()
	objID := parentInode.ObjectId()
	parentInode.Unlock()

	m.mu.Lock()
	if existing, ok := m.names[parent][name]; ok {
		m.mu.Unlock()
		if _, err := m.ensureLoaded(ctx, existing); err != nil {
			return 0, err
		}
		return existing, nil
	}
	m.mu.Unlock()

	var entryType scmtypes.EntryType
	var entryObjID scmtypes.ObjectId
	found := false

	if materialized {
		entries, err := m.overlay.ReadDir(parent)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.Name != name {
				continue
			}
			found = true
			if e.Kind == overlay.DirEntryMaterialized {
				return 0, errkind.New(errkind.StoreCorrupt, fmt.Sprintf("Lookup: materialized entry %q has no durable inode number mapping", name))
			}
			entryType, entryObjID = e.Type, e.ObjectId
		}
	} else {
		tree, err := m.store.GetTree(ctx, objID, fc)
		if err != nil {
			return 0, err
		}
		if te, ok := tree.Lookup(name); ok {
			found, entryType, entryObjID = true, te.Type, te.Id
		}
	}
	if !found {
		return 0, errkind.New(errkind.NotFound, fmt.Sprintf("Lookup: no such entry %q", name))
	}

	m.typeCacheFor(parent).Insert(name, entryType, entryObjID, m.clock.Now())

	kind := KindFile
	if entryType == scmtypes.EntryTypeDirectory {
		kind = KindTree
	}

	m.mu.Lock()
	num := m.next
	m.next++
	m.entries[num] = &tableEntry{
		kind:   kind,
		parent: ParentLink{Parent: parent, Name: name},
		state:  Unloaded,
		hint:   persistHint{ObjectId: entryObjID},
	}
	if kind == KindTree {
		m.names[num] = make(map[string]scmtypes.InodeNumber)
	}
	m.names[parent][name] = num
	m.mu.Unlock()

	if _, err := m.ensureLoaded(ctx, num); err != nil {
		return 0, err
	}
	return num, nil
}

// ensureLoaded implements the load-state machine: return immediately if
// loaded, attach a waiter if loading, otherwise perform the load.
func (m *Map) ensureLoaded(ctx context.Context, num scmtypes.InodeNumber) (*Inode, error) {
	m.mu.Lock()
	e, ok := m.entries[num]
	if !ok {
		m.mu.Unlock()
		return nil, errkind.New(errkind.NotFound, fmt.Sprintf("ensureLoaded: no such inode %d", num))
	}

	switch e.state {
	case Loaded:
		inode := e.inode
		m.mu.Unlock()
		inode.Lock()
		inode.touch(m.clock.Now())
		inode.Unlock()
		return inode, nil

	case Loading:
		ch := make(chan struct{})
		e.waiters = append(e.waiters, ch)
		m.mu.Unlock()
		select {
		case <-ch:
			return m.ensureLoaded(ctx, num)
		case <-ctx.Done():
			return nil, errkind.Wrap(errkind.Cancelled, "ensureLoaded: context done", ctx.Err())
		}

	default: // Unloaded
		e.state = Loading
		if e.parent.Parent != 0 {
			if pe, ok := m.entries[e.parent.Parent]; ok {
				pe.loadedChildren++
			}
		}
		hint, kind, parent := e.hint, e.kind, e.parent
		m.mu.Unlock()

		inode := newInode(num, kind, parent, hint.ObjectId, hint.Materialized, m.clock.Now())
		if hint.Materialized && kind == KindFile {
			if err := m.overlay.OpenFile(num); err != nil {
				return m.failLoad(num, parent, err)
			}
		}

		m.mu.Lock()
		e2 := m.entries[num]
		e2.inode = inode
		e2.state = Loaded
		waiters := e2.waiters
		e2.waiters = nil
		m.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
		return inode, nil
	}
}

func (m *Map) failLoad(num scmtypes.InodeNumber, parent ParentLink, cause error) (*Inode, error) {
	m.mu.Lock()
	e := m.entries[num]
	e.state = Unloaded
	waiters := e.waiters
	e.waiters = nil
	if parent.Parent != 0 {
		if pe, ok := m.entries[parent.Parent]; ok {
			pe.loadedChildren--
		}
	}
	m.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return nil, cause
}
