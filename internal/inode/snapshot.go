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
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Record is one inode's takeover-serializable state (spec.md §5:
// "the InodeMap (inode numbers, parent links, materialization bits,
// path hints)"). Loaded inodes are flushed to their persisted hint
// before being recorded, so a Record never needs the live *Inode.
type Record struct {
	Number       scmtypes.InodeNumber
	Parent       scmtypes.InodeNumber
	Name         string // empty for the root
	Kind         Kind
	ObjectId     scmtypes.ObjectId
	Materialized bool
}

// Snapshot captures every inode number this Map has ever allocated, in
// a form a successor process's RestoreFromSnapshot can reload from
// scratch. Every entry except the root comes back Unloaded (the root is
// restored Loaded); the next lookup or read reloads it from the
// ObjectStore/overlay exactly as it would after any other unload.
func (m *Map) Snapshot() (records []Record, next scmtypes.InodeNumber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records = make([]Record, 0, len(m.entries))
	for num, e := range m.entries {
		if e.state == Loaded {
			e.inode.Lock()
			e.hint = persistHint{ObjectId: e.inode.ObjectId(), Materialized: e.inode.IsMaterialized()}
			e.parent = e.inode.Parent()
			e.inode.Unlock()
		}
		records = append(records, Record{
			Number:       num,
			Parent:       e.parent.Parent,
			Name:         e.parent.Name,
			Kind:         e.kind,
			ObjectId:     e.hint.ObjectId,
			Materialized: e.hint.Materialized,
		})
	}
	return records, m.next
}

// RestoreFromSnapshot rebuilds a Map's inode table from a prior
// Snapshot, preserving every inode number and its materialization bit
// (spec.md §5's takeover invariants) without eagerly loading anything
// except the root, which invariant 3 requires always be Loaded -- its
// overlay directory entries are already durable on disk from the
// predecessor process, so no ObjectStore or overlay call is needed to
// reconstruct it.
func RestoreFromSnapshot(store *objectstore.Store, ov *overlay.Store, clock timeutil.Clock, typeCacheTTL time.Duration, records []Record, next scmtypes.InodeNumber) *Map {
	m := New(store, ov, clock, typeCacheTTL)
	m.next = next

	for _, r := range records {
		m.entries[r.Number] = &tableEntry{
			kind:   r.Kind,
			parent: ParentLink{Parent: r.Parent, Name: r.Name},
			state:  Unloaded,
			hint:   persistHint{ObjectId: r.ObjectId, Materialized: r.Materialized},
		}
		if r.Kind == KindTree {
			if _, ok := m.names[r.Number]; !ok {
				m.names[r.Number] = make(map[string]scmtypes.InodeNumber)
			}
		}
		if r.Number != scmtypes.RootInode {
			if _, ok := m.names[r.Parent]; !ok {
				m.names[r.Parent] = make(map[string]scmtypes.InodeNumber)
			}
			m.names[r.Parent][r.Name] = r.Number
		}
	}

	if root, ok := m.entries[scmtypes.RootInode]; ok {
		root.state = Loaded
		root.inode = newInode(scmtypes.RootInode, KindTree, ParentLink{}, root.hint.ObjectId, true, clock.Now())
	}
	return m
}
