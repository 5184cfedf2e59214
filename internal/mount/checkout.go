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

package mount

import (
	"context"
	"path"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Checkout compares the current root tree to target's tree and applies
// the per-entry policy spec.md §4.9 lists, recursing into every
// materialized subdirectory the two trees share (an unmaterialized
// subtree is known equal to its source-control counterpart by invariant
// 1, so it is updated in place with no recursion). On success (no
// conflicts, or mode == Force) the working copy's current root advances
// to target and a SnapshotTransition is appended to the journal.
func (p *Point) Checkout(ctx context.Context, target scmtypes.RootId, mode Mode) (Result, error) {
	p.mu.Lock()
	from := p.currentRoot
	p.mu.Unlock()

	oldTree, err := p.store.GetRootTree(ctx, from, p.fc())
	if err != nil {
		return Result{}, err
	}
	newTree, err := p.store.GetRootTree(ctx, target, p.fc())
	if err != nil {
		return Result{}, err
	}

	var conflicts []Conflict
	if err := p.checkoutDir(ctx, scmtypes.RootInode, "", oldTree, newTree, mode, &conflicts); err != nil {
		return Result{}, err
	}

	if len(conflicts) > 0 && mode != Force {
		for _, c := range conflicts {
			p.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: c.Path, Status: journal.Unclean}}})
		}
		return Result{Conflicts: conflicts}, nil
	}

	p.mu.Lock()
	p.currentRoot = target
	p.mu.Unlock()
	p.journal.AddDelta(journal.Entry{Transition: &journal.SnapshotTransition{FromRoot: from.String(), ToRoot: target.String()}})
	return Result{Conflicts: conflicts}, nil
}

// checkoutDir reconciles one materialized directory's children against
// its old and new source-control trees, appending to *conflicts as it
// finds locally-modified entries the target tree wants to change.
func (p *Point) checkoutDir(ctx context.Context, dir scmtypes.InodeNumber, dirPath string, oldTree, newTree scmtypes.Tree, mode Mode, conflicts *[]Conflict) error {
	oldByName := make(map[string]scmtypes.TreeEntry, len(oldTree.Entries))
	for _, e := range oldTree.Entries {
		oldByName[e.Name] = e
	}
	newByName := make(map[string]scmtypes.TreeEntry, len(newTree.Entries))
	for _, e := range newTree.Entries {
		newByName[e.Name] = e
	}

	names := make(map[string]struct{}, len(oldByName)+len(newByName))
	for name := range oldByName {
		names[name] = struct{}{}
	}
	for name := range newByName {
		names[name] = struct{}{}
	}

	for name := range names {
		oldEntry, hadOld := oldByName[name]
		newEntry, hasNew := newByName[name]
		fullPath := path.Join(dirPath, name)

		switch {
		case !hasNew:
			if err := p.checkoutRemove(ctx, dir, name, fullPath, oldEntry, mode, conflicts); err != nil {
				return err
			}
		case !hadOld:
			if err := p.checkoutAdd(ctx, dir, name, fullPath, newEntry, mode, conflicts); err != nil {
				return err
			}
		case oldEntry.Id == newEntry.Id && oldEntry.Type == newEntry.Type:
			// unchanged: no-op
		default:
			if err := p.checkoutUpdate(ctx, dir, name, fullPath, oldEntry, newEntry, mode, conflicts); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Point) checkoutRemove(ctx context.Context, dir scmtypes.InodeNumber, name, fullPath string, oldEntry scmtypes.TreeEntry, mode Mode, conflicts *[]Conflict) error {
	clean, err := p.entryIsClean(ctx, dir, name, oldEntry)
	if err != nil {
		return err
	}
	if !clean {
		*conflicts = append(*conflicts, Conflict{Path: fullPath})
		if mode != Force {
			return nil
		}
	}
	if mode == DryRun {
		return nil
	}
	return p.inodes.RemoveChild(ctx, dir, name, p.fc())
}

func (p *Point) checkoutAdd(ctx context.Context, dir scmtypes.InodeNumber, name, fullPath string, newEntry scmtypes.TreeEntry, mode Mode, conflicts *[]Conflict) error {
	// An entry with no old-tree counterpart can still collide with a
	// locally created file of the same name; RemoveChild/AddReference are
	// idempotent enough that we only need the clean check when the name
	// already resolves to something materialized.
	clean, err := p.entryIsClean(ctx, dir, name, scmtypes.TreeEntry{})
	if err != nil {
		return err
	}
	if !clean {
		*conflicts = append(*conflicts, Conflict{Path: fullPath})
		if mode != Force {
			return nil
		}
	}
	if mode == DryRun {
		return nil
	}
	return p.inodes.AddReference(ctx, dir, name, newEntry.Id, newEntry.Type, p.fc())
}

func (p *Point) checkoutUpdate(ctx context.Context, dir scmtypes.InodeNumber, name, fullPath string, oldEntry, newEntry scmtypes.TreeEntry, mode Mode, conflicts *[]Conflict) error {
	if oldEntry.Type != newEntry.Type {
		// entry type changed: replace, unconditionally (spec.md §4.9).
		if mode == DryRun {
			return nil
		}
		return p.inodes.AddReference(ctx, dir, name, newEntry.Id, newEntry.Type, p.fc())
	}

	childNum, err := p.inodes.Lookup(ctx, dir, name, p.fc())
	if err != nil {
		return err
	}
	materialized, _, kind, err := p.inodes.Inspect(ctx, childNum)
	if err != nil {
		return err
	}

	if !materialized {
		// local content == old source-control tree by invariant 1: a
		// straight ObjectId swap, no recursion or conflict possible.
		if mode == DryRun {
			return nil
		}
		return p.inodes.AddReference(ctx, dir, name, newEntry.Id, newEntry.Type, p.fc())
	}

	if kind == inode.KindTree {
		oldSub, err := p.store.GetTree(ctx, oldEntry.Id, p.fc())
		if err != nil {
			return err
		}
		newSub, err := p.store.GetTree(ctx, newEntry.Id, p.fc())
		if err != nil {
			return err
		}
		return p.checkoutDir(ctx, childNum, fullPath, oldSub, newSub, mode, conflicts)
	}

	clean, err := p.fileIsClean(ctx, childNum, oldEntry)
	if err != nil {
		return err
	}
	if !clean {
		*conflicts = append(*conflicts, Conflict{Path: fullPath})
		if mode != Force {
			return nil
		}
	}
	if mode == DryRun {
		return nil
	}

	// Re-reference rather than overwrite the overlay: a Force checkout
	// drops local content entirely, so the file matches newEntry's
	// source-control object and is no longer materialized (spec.md §8
	// scenario 4), the same outcome the unmaterialized branch above
	// reaches without ever having diverged.
	if err := p.inodes.AddReference(ctx, dir, name, newEntry.Id, newEntry.Type, p.fc()); err != nil {
		return err
	}
	p.journal.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: fullPath, Status: journal.Changed}}})
	return nil
}

// entryIsClean reports whether name, as currently seen under dir, is
// either absent or unmaterialized -- i.e. safe for checkout to touch
// without clobbering a local edit. oldEntry's zero value means "no prior
// source-control entry to compare against" (a purely local add).
func (p *Point) entryIsClean(ctx context.Context, dir scmtypes.InodeNumber, name string, oldEntry scmtypes.TreeEntry) (bool, error) {
	childNum, err := p.inodes.Lookup(ctx, dir, name, p.fc())
	if err != nil {
		if errkind.KindOf(err) == errkind.NotFound {
			return true, nil // name doesn't exist locally: nothing to conflict with
		}
		return false, err
	}
	materialized, _, kind, err := p.inodes.Inspect(ctx, childNum)
	if err != nil {
		return false, err
	}
	if !materialized {
		return true, nil
	}
	if kind == inode.KindTree {
		// a materialized directory is "clean" only if every entry in it is;
		// conservatively treat any materialized directory as dirty so a
		// remove/replace never silently discards a nested local edit.
		return false, nil
	}
	return p.fileIsClean(ctx, childNum, oldEntry)
}

// fileIsClean compares a materialized file's current content hash to the
// blob oldEntry pointed at before the file was ever touched locally. A
// zero oldEntry (no prior source-control entry) is always dirty, since
// materialized-with-no-baseline means the file was created locally.
func (p *Point) fileIsClean(ctx context.Context, num scmtypes.InodeNumber, oldEntry scmtypes.TreeEntry) (bool, error) {
	if oldEntry.Id.IsZero() {
		return false, nil
	}
	attrs, err := p.inodes.Attributes(ctx, num, p.fc())
	if err != nil {
		return false, err
	}
	buf := make([]byte, attrs.Size)
	if _, err := p.inodes.ReadFile(ctx, num, buf, 0, p.fc()); err != nil {
		return false, err
	}
	current := scmtypes.ComputeBlobMetadata(buf)

	oldMeta, err := p.store.GetBlobMetadata(ctx, oldEntry.Id, p.fc())
	if err != nil {
		return false, err
	}
	return current.Sha1 == oldMeta.Sha1, nil
}
