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

// Package overlay is the on-disk store for materialized inode state
// (spec.md §4.8): file bytes for materialized file inodes, and directory
// entry lists -- each entry tagged materialized or a bare ObjectId
// reference -- for materialized tree inodes.
package overlay

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jacobsa/timeutil"
	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// DirEntryKind tags whether a directory entry in the overlay is itself
// materialized (and so addressed by inode number) or still a reference to
// an unmaterialized source-control object.
type DirEntryKind int

const (
	DirEntryReference DirEntryKind = iota
	DirEntryMaterialized
)

// DirEntry is one named child of a materialized tree inode.
type DirEntry struct {
	Name     string
	Kind     DirEntryKind
	Child    scmtypes.InodeNumber // valid when Kind == DirEntryMaterialized
	ObjectId scmtypes.ObjectId    // valid when Kind == DirEntryReference
	Type     scmtypes.EntryType
}

// FileStat mirrors the subset of file metadata the overlay tracks for a
// materialized file inode.
type FileStat struct {
	Size  int64
	Mtime int64 // Unix nanoseconds
}

// Store is the on-disk overlay. One Store instance backs one mount; its
// base directory is that mount's "overlay storage" path (spec.md §6,
// /clients/<name>/overlay).
//
// Adapted from the temp-file-backed ensureTempFile/Read/Write pattern in
// fs/file.go, generalized from a release-on-Release cache of immutable GCS
// object bytes into durable, mutable per-inode storage that survives
// unload and restart.
type Store struct {
	baseDir string
	clock   timeutil.Clock

	mu    sync.Mutex
	files map[scmtypes.InodeNumber]*os.File // GUARDED_BY(mu): lazily opened, never closed until RemoveInode or Close
}

// New creates (or reopens) an overlay rooted at baseDir, creating the
// directory layout if absent.
func New(baseDir string, clock timeutil.Clock) (*Store, error) {
	for _, sub := range []string{"files", "dirs"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, errkind.Wrap(errkind.StoreIOError, "overlay.New: mkdir", err)
		}
	}
	return &Store{baseDir: baseDir, clock: clock, files: make(map[scmtypes.InodeNumber]*os.File)}, nil
}

func (s *Store) filePath(ino scmtypes.InodeNumber) string {
	return filepath.Join(s.baseDir, "files", fmt.Sprintf("%d", ino))
}

func (s *Store) dirPath(ino scmtypes.InodeNumber) string {
	return filepath.Join(s.baseDir, "dirs", fmt.Sprintf("%d", ino))
}

// OpenFile ensures a materialized file inode has on-disk backing, creating
// an empty file the first time it is materialized.
func (s *Store) OpenFile(ino scmtypes.InodeNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.ensureOpenLocked(ino)
	return err
}

// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) ensureOpenLocked(ino scmtypes.InodeNumber) (*os.File, error) {
	if f, ok := s.files[ino]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.filePath(ino), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreIOError, "overlay: open file", err)
	}
	s.files[ino] = f
	return f, nil
}

func (s *Store) ReadFile(ino scmtypes.InodeNumber, buf []byte, offset int64) (int, error) {
	s.mu.Lock()
	f, err := s.ensureOpenLocked(ino)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(buf, offset)
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return n, errkind.Wrap(errkind.StoreIOError, "overlay: read file", err)
	}
	return n, nil
}

func (s *Store) WriteFile(ino scmtypes.InodeNumber, buf []byte, offset int64) (int, error) {
	s.mu.Lock()
	f, err := s.ensureOpenLocked(ino)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n, err := f.WriteAt(buf, offset)
	if err != nil {
		return n, errkind.Wrap(errkind.StoreIOError, "overlay: write file", err)
	}
	return n, nil
}

func (s *Store) Truncate(ino scmtypes.InodeNumber, size int64) error {
	s.mu.Lock()
	f, err := s.ensureOpenLocked(ino)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		return errkind.Wrap(errkind.StoreIOError, "overlay: truncate", err)
	}
	return nil
}

// StatFile reports the materialized file's current size and modification
// time. The overlay leans on the filesystem's own mtime rather than
// tracking one itself, so it survives a daemon restart for free.
func (s *Store) StatFile(ino scmtypes.InodeNumber) (FileStat, error) {
	s.mu.Lock()
	f, err := s.ensureOpenLocked(ino)
	s.mu.Unlock()
	if err != nil {
		return FileStat{}, err
	}
	info, err := f.Stat()
	if err != nil {
		return FileStat{}, errkind.Wrap(errkind.StoreIOError, "overlay: stat file", err)
	}
	return FileStat{Size: info.Size(), Mtime: info.ModTime().UnixNano()}, nil
}

func (s *Store) ReadDir(ino scmtypes.InodeNumber) ([]DirEntry, error) {
	raw, err := os.ReadFile(s.dirPath(ino))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreIOError, "overlay: read dir", err)
	}
	var entries []DirEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entries); err != nil {
		return nil, errkind.Wrap(errkind.StoreCorrupt, "overlay: decode dir", err)
	}
	return entries, nil
}

func (s *Store) writeDirLocked(ino scmtypes.InodeNumber, entries []DirEntry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return errkind.Wrap(errkind.Generic, "overlay: encode dir", err)
	}
	tmp, err := os.CreateTemp(filepath.Join(s.baseDir, "dirs"), "tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.StoreIOError, "overlay: create temp dir file", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errkind.Wrap(errkind.StoreIOError, "overlay: write temp dir file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errkind.Wrap(errkind.StoreIOError, "overlay: close temp dir file", err)
	}
	if err := os.Rename(tmp.Name(), s.dirPath(ino)); err != nil {
		os.Remove(tmp.Name())
		return errkind.Wrap(errkind.StoreIOError, "overlay: rename temp dir file", err)
	}
	return nil
}

// AddChild inserts or replaces the named entry in ino's materialized
// directory listing.
func (s *Store) AddChild(ino scmtypes.InodeNumber, entry DirEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.ReadDir(ino)
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].Name == entry.Name {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return s.writeDirLocked(ino, entries)
}

// RemoveChild deletes the named entry from ino's materialized directory
// listing. A no-op if the name is already absent.
func (s *Store) RemoveChild(ino scmtypes.InodeNumber, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.ReadDir(ino)
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return s.writeDirLocked(ino, out)
}

// RenameChild renames an entry within the same materialized directory.
// Moving an entry to a different parent is the caller's responsibility
// (RemoveChild on the old parent, AddChild on the new one) since that
// spans two directory inodes and overlay operations are single-inode.
func (s *Store) RenameChild(ino scmtypes.InodeNumber, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.ReadDir(ino)
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].Name == oldName {
			entries[i].Name = newName
			found = true
			break
		}
	}
	if !found {
		return errkind.New(errkind.NotFound, fmt.Sprintf("overlay: RenameChild: no such entry %q", oldName))
	}
	return s.writeDirLocked(ino, entries)
}

// RemoveInode discards all overlay state -- file bytes and/or directory
// listing -- for an inode. Called when an inode is permanently gone (not
// merely unloaded from memory).
func (s *Store) RemoveInode(ino scmtypes.InodeNumber) error {
	s.mu.Lock()
	if f, ok := s.files[ino]; ok {
		f.Close()
		delete(s.files, ino)
	}
	s.mu.Unlock()

	if err := os.Remove(s.filePath(ino)); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.StoreIOError, "overlay: remove file", err)
	}
	if err := os.Remove(s.dirPath(ino)); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.StoreIOError, "overlay: remove dir", err)
	}
	return nil
}

// Close releases every open file handle. Callers must ensure no
// materialization operations are in flight.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for ino, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, ino)
	}
	return firstErr
}
