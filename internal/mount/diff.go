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

	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Diff compares the working copy against reference's tree, producing
// modified/added/removed path lists (spec.md §4.9). Diff only descends
// into materialized subtrees: by invariant 1 an unmaterialized subtree's
// content equals its source-control ObjectId, so a single ObjectId
// comparison stands in for a full recursive walk of it.
//
// When matcher is non-nil, untracked paths (those absent from
// reference's tree) are reported as Ignored or Unknown instead of being
// folded into Added -- this system has no staging index, so every
// untracked path would otherwise have to be called "added" without a
// matcher to tell deliberate adds from noise.
func (p *Point) Diff(ctx context.Context, reference scmtypes.RootId, matcher IgnoreMatcher) (DiffResult, error) {
	refTree, err := p.store.GetRootTree(ctx, reference, p.fc())
	if err != nil {
		return DiffResult{}, err
	}
	var result DiffResult
	if err := p.diffDir(ctx, scmtypes.RootInode, "", refTree, matcher, &result); err != nil {
		return DiffResult{}, err
	}
	return result, nil
}

func (p *Point) diffDir(ctx context.Context, dir scmtypes.InodeNumber, dirPath string, refTree scmtypes.Tree, matcher IgnoreMatcher, result *DiffResult) error {
	refByName := make(map[string]scmtypes.TreeEntry, len(refTree.Entries))
	for _, e := range refTree.Entries {
		refByName[e.Name] = e
	}

	listing, err := p.inodes.ReadDir(ctx, dir, p.fc())
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(listing))
	for _, e := range listing {
		seen[e.Name] = struct{}{}
		fullPath := path.Join(dirPath, e.Name)
		refEntry, tracked := refByName[e.Name]

		if !tracked {
			switch {
			case matcher == nil:
				result.Added = append(result.Added, fullPath)
			case matcher.Match(fullPath):
				result.Ignored = append(result.Ignored, fullPath)
			default:
				result.Unknown = append(result.Unknown, fullPath)
			}
			continue
		}

		childNum, err := p.inodes.Lookup(ctx, dir, e.Name, p.fc())
		if err != nil {
			return err
		}
		materialized, objID, kind, err := p.inodes.Inspect(ctx, childNum)
		if err != nil {
			return err
		}

		if !materialized {
			if objID != refEntry.Id || e.Type != refEntry.Type {
				result.Modified = append(result.Modified, fullPath)
			}
			continue
		}

		if e.Type != refEntry.Type {
			result.Modified = append(result.Modified, fullPath)
			continue
		}

		if kind == inode.KindTree {
			refSub, err := p.store.GetTree(ctx, refEntry.Id, p.fc())
			if err != nil {
				return err
			}
			if err := p.diffDir(ctx, childNum, fullPath, refSub, matcher, result); err != nil {
				return err
			}
			continue
		}

		clean, err := p.fileIsClean(ctx, childNum, refEntry)
		if err != nil {
			return err
		}
		if !clean {
			result.Modified = append(result.Modified, fullPath)
		}
	}

	for name, e := range refByName {
		if _, ok := seen[name]; !ok {
			result.Removed = append(result.Removed, path.Join(dirPath, e.Name))
		}
	}
	return nil
}
