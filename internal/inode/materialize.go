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

	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Materialize promotes num, and recursively its ancestors up to the root,
// from unmaterialized to materialized (spec.md §4.8). It is idempotent:
// once an ancestor is already materialized, invariant 1 guarantees every
// further ancestor already is too, so the walk stops there.
func (m *Map) Materialize(ctx context.Context, num scmtypes.InodeNumber, fc objectstore.FetchContext) error {
	cur := num
	for {
		n, err := m.ensureLoaded(ctx, cur)
		if err != nil {
			return err
		}

		n.Lock()
		if n.IsMaterialized() {
			n.Unlock()
			return nil
		}
		kind := n.Kind()
		parent := n.Parent()
		objID := n.ObjectId()
		n.markMaterialized()
		n.Unlock()

		m.mu.Lock()
		if e, ok := m.entries[cur]; ok {
			e.hint.Materialized = true
			e.hint.ObjectId = scmtypes.ZeroObjectId
		}
		m.mu.Unlock()

		if kind == KindTree {
			// Seed this directory's overlay listing from its former
			// source-control tree so every later read goes through the
			// overlay instead of re-fetching from ObjectStore.
			tree, err := m.store.GetTree(ctx, objID, fc)
			if err != nil {
				return err
			}
			for _, te := range tree.Entries {
				if err := m.overlay.AddChild(cur, overlay.DirEntry{
					Name: te.Name, Kind: overlay.DirEntryReference, ObjectId: te.Id, Type: te.Type,
				}); err != nil {
					return err
				}
			}
		} else {
			if err := m.overlay.OpenFile(cur); err != nil {
				return err
			}
			blob, err := m.store.GetBlob(ctx, objID, fc)
			if err != nil {
				return err
			}
			if len(blob.Contents) > 0 {
				if _, err := m.overlay.WriteFile(cur, blob.Contents, 0); err != nil {
					return err
				}
			}
		}

		if parent.Parent == 0 {
			return nil // reached the root; invariant 3 means it's already materialized
		}

		entryType := scmtypes.EntryTypeDirectory
		if kind != KindTree {
			entryType = scmtypes.EntryTypeRegular
			siblings, err := m.overlay.ReadDir(parent.Parent)
			if err != nil {
				return err
			}
			for _, e := range siblings {
				if e.Name == parent.Name {
					entryType = e.Type
				}
			}
		}
		if err := m.overlay.AddChild(parent.Parent, overlay.DirEntry{
			Name: parent.Name, Kind: overlay.DirEntryMaterialized, Child: cur, Type: entryType,
		}); err != nil {
			return err
		}

		cur = parent.Parent
	}
}
