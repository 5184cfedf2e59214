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

package scmtypes

import (
	"fmt"
	"sort"
	"strings"
)

// EntryType tags what a TreeEntry points at.
type EntryType int

const (
	EntryTypeRegular EntryType = iota
	EntryTypeExecutable
	EntryTypeSymlink
	EntryTypeDirectory
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeRegular:
		return "regular"
	case EntryTypeExecutable:
		return "executable"
	case EntryTypeSymlink:
		return "symlink"
	case EntryTypeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("EntryType(%d)", int(t))
	}
}

// TreeEntry is one named child of a Tree.
//
// INVARIANT: Name != "" && !strings.Contains(Name, "/")
type TreeEntry struct {
	Name string
	Id   ObjectId
	Type EntryType
}

// Tree is an ordered, name-sorted sequence of entries.
//
// INVARIANT: entries are sorted by Name.
// INVARIANT: entry names are unique within the tree.
type Tree struct {
	Entries []TreeEntry
}

// NewTree builds a Tree from unordered entries, sorting and validating them.
func NewTree(entries []TreeEntry) (Tree, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i, e := range sorted {
		if e.Name == "" {
			return Tree{}, fmt.Errorf("NewTree: empty entry name")
		}
		if strings.Contains(e.Name, "/") {
			return Tree{}, fmt.Errorf("NewTree: entry name %q contains a slash", e.Name)
		}
		if i > 0 && sorted[i-1].Name == e.Name {
			return Tree{}, fmt.Errorf("NewTree: duplicate entry name %q", e.Name)
		}
	}

	return Tree{Entries: sorted}, nil
}

// Lookup returns the entry with the given name, if any, using the sorted
// order to binary search.
func (t Tree) Lookup(name string) (TreeEntry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Name >= name })
	if i < len(t.Entries) && t.Entries[i].Name == name {
		return t.Entries[i], true
	}
	return TreeEntry{}, false
}

// Equal reports whether two trees have bytewise-equal entry sequences.
// The diff and checkout walks do not call it: they short-circuit an
// unmaterialized subtree by comparing its ObjectId alone (invariant 1 in
// the data model: an unmaterialized tree inode's contents equal its
// source-control tree).
func (t Tree) Equal(other Tree) bool {
	if len(t.Entries) != len(other.Entries) {
		return false
	}
	for i := range t.Entries {
		a, b := t.Entries[i], other.Entries[i]
		if a.Name != b.Name || a.Id != b.Id || a.Type != b.Type {
			return false
		}
	}
	return true
}
