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

// Package mgmt is the management surface (spec.md §8) exposed over the
// /socket listener from §6: mount/unmount/listMounts plus the
// per-mount thrift-equivalent operations (getCurrentJournalPosition,
// getFilesChangedSince, getSHA1, getFileInformation, checkOutRevision,
// resetParentCommits, getScmStatus, globFiles, subscribeJournal,
// prefetch, unloadInodes). SubscribeJournal and CancelJournalSubscription
// are Service methods only: ServiceDesc in grpc.go registers no RPC for
// them, so they are not reachable over the socket.
//
// Service holds no state of its own -- every call is a thin translation
// from an RPC-shaped request into the Server/MountPoint/InodeMap/Journal
// calls those packages already expose, following cmd/legacy_main.go's
// role as a thin argument-to-call translator rather than a place new
// logic lives.
package mgmt

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/mount"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/scmfsd/scmfsd/internal/server"
)

// Service implements the management surface against one Server.
type Service struct {
	srv *server.Server
}

// New wraps srv for management calls.
func New(srv *server.Server) *Service {
	return &Service{srv: srv}
}

func (s *Service) point(name string) (*mount.Point, error) {
	p, ok := s.srv.Point(name)
	if !ok {
		return nil, fmt.Errorf("mount %q not registered", name)
	}
	return p, nil
}

func fc() objectstore.FetchContext {
	return objectstore.FetchContext{Cause: objectstore.CauseThrift}
}

// Mount brings up a new mount; mirrors Server.Mount.
func (s *Service) Mount(ctx context.Context, name, mountPoint string, root scmtypes.RootId) error {
	_, err := s.srv.Mount(ctx, name, mountPoint, root)
	return err
}

// Unmount tears down name.
func (s *Service) Unmount(ctx context.Context, name string) error {
	return s.srv.Unmount(ctx, name)
}

// ListMounts reports every registered mount's name.
func (s *Service) ListMounts() []string {
	return s.srv.ListMounts()
}

// GetCurrentJournalPosition reports name's latest journal position,
// without waiting for a new entry.
func (s *Service) GetCurrentJournalPosition(name string) (journal.Position, error) {
	p, err := s.point(name)
	if err != nil {
		return journal.Position{}, err
	}
	return p.Journal().CurrentPosition(), nil
}

// GetFilesChangedSince accumulates every change recorded after from.
func (s *Service) GetFilesChangedSince(name string, from journal.Position) (journal.Summary, error) {
	p, err := s.point(name)
	if err != nil {
		return journal.Summary{}, err
	}
	return p.Journal().AccumulateRange(from.Sequence)
}

// SHA1Result is one path's content hash, or an error if it could not be
// computed (not found, or a directory).
type SHA1Result struct {
	Path string
	SHA1 scmtypes.ObjectId
	Err  error
}

// GetSHA1 reports the SHA-1 of each path's current file content, read
// through InodeMap, so a materialized file is hashed from its overlay
// bytes and an unmaterialized one from its source-control blob.
func (s *Service) GetSHA1(ctx context.Context, name string, paths []string) ([]SHA1Result, error) {
	p, err := s.point(name)
	if err != nil {
		return nil, err
	}
	results := make([]SHA1Result, len(paths))
	for i, rel := range paths {
		num, lookErr := resolvePath(ctx, p.Inodes(), rel)
		if lookErr != nil {
			results[i] = SHA1Result{Path: rel, Err: lookErr}
			continue
		}
		_, _, kind, inspectErr := p.Inodes().Inspect(ctx, num)
		if inspectErr != nil {
			results[i] = SHA1Result{Path: rel, Err: inspectErr}
			continue
		}
		if kind != inode.KindFile {
			results[i] = SHA1Result{Path: rel, Err: fmt.Errorf("getSHA1: %q is a directory", rel)}
			continue
		}
		attr, attrErr := p.Inodes().Attributes(ctx, num, fc())
		if attrErr != nil {
			results[i] = SHA1Result{Path: rel, Err: attrErr}
			continue
		}
		buf := make([]byte, attr.Size)
		if _, readErr := p.Inodes().ReadFile(ctx, num, buf, 0, fc()); readErr != nil {
			results[i] = SHA1Result{Path: rel, Err: readErr}
			continue
		}
		sum := scmtypes.ComputeBlobMetadata(buf).Sha1
		results[i] = SHA1Result{Path: rel, SHA1: scmtypes.NewObjectId(sum[:])}
	}
	return results, nil
}

// FileInfo is the per-path result of getFileInformation.
type FileInfo struct {
	Path string
	Attr inode.Attributes
	Err  error
}

// GetFileInformation reports stat(2)-visible attributes for each path.
func (s *Service) GetFileInformation(ctx context.Context, name string, paths []string) ([]FileInfo, error) {
	p, err := s.point(name)
	if err != nil {
		return nil, err
	}
	results := make([]FileInfo, len(paths))
	for i, rel := range paths {
		num, lookErr := resolvePath(ctx, p.Inodes(), rel)
		if lookErr != nil {
			results[i] = FileInfo{Path: rel, Err: lookErr}
			continue
		}
		attr, attrErr := p.Inodes().Attributes(ctx, num, fc())
		results[i] = FileInfo{Path: rel, Attr: attr, Err: attrErr}
	}
	return results, nil
}

// CheckOutRevision moves the working copy to target under mode.
func (s *Service) CheckOutRevision(ctx context.Context, name string, target scmtypes.RootId, mode mount.Mode) (mount.Result, error) {
	p, err := s.point(name)
	if err != nil {
		return mount.Result{}, err
	}
	return p.Checkout(ctx, target, mode)
}

// ResetParentCommits rewrites name's notion of its current root without
// touching any file.
func (s *Service) ResetParentCommits(name string, target scmtypes.RootId) error {
	p, err := s.point(name)
	if err != nil {
		return err
	}
	p.ResetParent(target)
	return nil
}

// GetScmStatus diffs the working copy against its current root.
func (s *Service) GetScmStatus(ctx context.Context, name string, matcher mount.IgnoreMatcher) (mount.DiffResult, error) {
	p, err := s.point(name)
	if err != nil {
		return mount.DiffResult{}, err
	}
	return p.Diff(ctx, p.CurrentRoot(), matcher)
}

// GlobFiles returns every path below name's root matching pattern (a
// path.Match shell pattern matched against each slash-separated path
// relative to the root, so '*' never crosses a '/'). The walk goes one
// directory level at a time, the same way internal/mount's checkout/diff
// walks do.
func (s *Service) GlobFiles(ctx context.Context, name, pattern string) ([]string, error) {
	p, err := s.point(name)
	if err != nil {
		return nil, err
	}
	var matches []string
	if err := globWalk(ctx, p.Inodes(), scmtypes.RootInode, "", pattern, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func globWalk(ctx context.Context, m *inode.Map, dir scmtypes.InodeNumber, dirPath, pattern string, matches *[]string) error {
	entries, err := m.ReadDir(ctx, dir, fc())
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := e.Name
		if dirPath != "" {
			full = dirPath + "/" + e.Name
		}
		if ok, _ := path.Match(pattern, full); ok {
			*matches = append(*matches, full)
		}
		if e.Type == scmtypes.EntryTypeDirectory {
			child := e.Child
			if child == 0 {
				num, err := m.Lookup(ctx, dir, e.Name, fc())
				if err != nil {
					return err
				}
				child = num
			}
			if err := globWalk(ctx, m, child, full, pattern, matches); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubscribeJournal registers a new journal subscriber for name.
func (s *Service) SubscribeJournal(name string) (int64, <-chan journal.Position, error) {
	p, err := s.point(name)
	if err != nil {
		return 0, nil, err
	}
	id, ch := p.Journal().RegisterSubscriber()
	return id, ch, nil
}

// CancelJournalSubscription unregisters a subscription started by
// SubscribeJournal.
func (s *Service) CancelJournalSubscription(name string, id int64) error {
	p, err := s.point(name)
	if err != nil {
		return err
	}
	p.Journal().CancelSubscriber(id)
	return nil
}

// Prefetch forces every path in paths (and its ancestor directories) to
// load, without materializing it -- a client that knows it is about to
// read a batch of files can use this to pipeline the fetches instead of
// taking one InodeMap miss per file.
func (s *Service) Prefetch(ctx context.Context, name string, paths []string) error {
	p, err := s.point(name)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		if _, err := resolvePath(ctx, p.Inodes(), rel); err != nil {
			return fmt.Errorf("prefetch %q: %w", rel, err)
		}
	}
	return nil
}

// UnloadInodes runs one unload pass over name's InodeMap immediately,
// dropping inodes idle for at least cutoff (spec.md §4.4's unload
// policy, triggered on demand instead of waiting for the periodic
// loop). Returns the number of inodes unloaded.
func (s *Service) UnloadInodes(name string, cutoff time.Duration) (int, error) {
	p, err := s.point(name)
	if err != nil {
		return 0, err
	}
	return p.Inodes().UnloadNow(s.srv.Clock().Now(), cutoff), nil
}

// resolvePath walks a slash-separated relative path from the root,
// looking up (and thereby loading) one component at a time.
func resolvePath(ctx context.Context, m *inode.Map, rel string) (scmtypes.InodeNumber, error) {
	num := scmtypes.RootInode
	if rel == "" || rel == "." {
		return num, nil
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		child, err := m.Lookup(ctx, num, part, fc())
		if err != nil {
			return 0, err
		}
		num = child
	}
	return num, nil
}
