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

// Package mount is MountPoint (spec.md §4.9): it binds one configured
// root (a repo source and a current RootId) to an InodeMap and a
// Journal, and carries the two tree-walking algorithms -- checkout and
// diff -- that compare the current working copy to a target or
// reference RootId.
//
// No retrieved example repo performs a commit-tree checkout, so this
// package's algorithm shape is new; it is grounded on this repo's own
// internal/inode.ReadDir/Materialize (the same name-sorted, materialized-
// vs-reference walk those already perform) and on scmtypes.Tree's
// name-sorted merge-friendly representation, rather than on any single
// teacher file.
package mount

import (
	"context"
	"sync"

	"github.com/jacobsa/timeutil"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Mode selects how Checkout handles entries whose local content has
// diverged from the tree it last checked out (spec.md §4.9).
type Mode int

const (
	DryRun Mode = iota
	Normal
	Force
)

// Conflict is one path where a local edit collided with a checkout's
// proposed update.
type Conflict struct {
	Path string
}

// Result is what Checkout reports back.
type Result struct {
	Conflicts []Conflict
}

// IgnoreMatcher classifies a path as user-ignored, for Diff's optional
// ignored/unknown subclassification.
type IgnoreMatcher interface {
	Match(path string) bool
}

// DiffResult is the three (or five, with an ignore matcher) classified
// path lists Diff produces.
type DiffResult struct {
	Modified []string
	Added    []string
	Removed  []string
	Ignored  []string // only populated when Diff was given an IgnoreMatcher
	Unknown  []string // untracked paths not matched by the ignore matcher
}

// Point is one mount's MountPoint: its InodeMap, Journal, and the
// RootId its working copy is currently checked out to.
type Point struct {
	inodes  *inode.Map
	store   *objectstore.Store
	journal *journal.Journal
	clock   timeutil.Clock

	mu          sync.Mutex
	currentRoot scmtypes.RootId // GUARDED_BY(mu)
}

// New creates a MountPoint. InitRoot must already have been called on
// inodes with initialRoot's tree.
func New(inodes *inode.Map, store *objectstore.Store, j *journal.Journal, clock timeutil.Clock, initialRoot scmtypes.RootId) *Point {
	return &Point{inodes: inodes, store: store, journal: j, clock: clock, currentRoot: initialRoot}
}

// CurrentRoot reports the RootId the working copy is presently checked
// out to.
func (p *Point) CurrentRoot() scmtypes.RootId {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRoot
}

// Journal returns the mount's Journal, for callers (internal/mgmt) that
// need to read or subscribe to it directly.
func (p *Point) Journal() *journal.Journal {
	return p.journal
}

// Inodes returns the mount's InodeMap, for callers (internal/mgmt) that
// need direct inode access (getSHA1, getFileInformation, globFiles,
// prefetch, unloadInodes).
func (p *Point) Inodes() *inode.Map {
	return p.inodes
}

// ResetParent advances the working copy's notion of its current root
// without touching a single file or directory (resetParentCommits,
// spec.md §8) -- the inverse of Checkout's tree-walking update, used
// when the caller already knows the working copy's contents agree with
// target (e.g. after a source-control client applied its own reset).
func (p *Point) ResetParent(target scmtypes.RootId) {
	p.mu.Lock()
	from := p.currentRoot
	p.currentRoot = target
	p.mu.Unlock()
	p.journal.AddDelta(journal.Entry{Transition: &journal.SnapshotTransition{FromRoot: from.String(), ToRoot: target.String()}})
}

func (p *Point) fc() objectstore.FetchContext {
	return objectstore.FetchContext{Cause: objectstore.CauseThrift}
}
