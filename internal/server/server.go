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

// Package server is the top-level supervisor (spec.md §2, §4, §9): lock
// acquisition, the mount registry, backend/import-pool sharing across
// mounts, periodic inode unload, and shutdown orchestration. Takeover
// negotiation is exposed through a narrow hook (see takeover.go) rather
// than implemented here, matching spec.md's "composition-rooted
// singletons owned by the supervisor, exposed through injected handles"
// design note.
//
// Grounded on cmd/legacy_main.go's mount/signal/daemonize flow,
// generalized from gcsfuse's single mount to a registry of many, and on
// internal/importer.Pool.Run's errgroup-based worker-group shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/rs/zerolog"
	"github.com/scmfsd/scmfsd/internal/fschannel"
	"github.com/scmfsd/scmfsd/internal/importer"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/layout"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/mount"
	"github.com/scmfsd/scmfsd/internal/objectcache"
	"github.com/scmfsd/scmfsd/internal/objectstore"
	"github.com/scmfsd/scmfsd/internal/overlay"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/scmfsd/scmfsd/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Config bundles everything New needs to bring up the shared backend
// and import pool.
type Config struct {
	Dir     layout.Dir
	Backend remote.Backend
	Clock   timeutil.Clock

	Local         localstore.Store
	CacheCapacity int64
	CacheShards   int
	BatchSizes    map[importqueue.Kind]int
	ImportKinds   []importqueue.Kind
	ImportWorkers int

	UnloadInterval time.Duration
	UnloadCutoff   time.Duration

	JournalMemLimitBytes int64

	// Logger defaults to telemetry.Log when nil.
	Logger *zerolog.Logger

	// Metrics records mount lifecycle and inode-residency counters (spec.md's
	// ambient Metrics & tracing stack). Nil disables recording -- callers that
	// haven't called telemetry.StartMeterProvider yet (most tests) leave it nil.
	Metrics *telemetry.Metrics

	// MountFUSE/UnmountFUSE default to fuse.Mount/fuse.Unmount when nil.
	// Tests (in this package or internal/mgmt's) inject fakes here
	// instead, since mounting for real requires a /dev/fuse the
	// sandbox doesn't have.
	MountFUSE   func(dir string, srv fuse.Server, cfg *fuse.MountConfig) (Session, error)
	UnmountFUSE func(dir string) error
}

// Server owns the process-wide lock file, the shared ObjectStore and
// import pool, and the registry of live mounts.
type Server struct {
	cfg     Config
	store   *objectstore.Store
	queue   *importqueue.Queue
	pool    *importer.Pool
	clock   timeutil.Clock
	lock    *os.File
	poolCtx context.Context
	poolCancel context.CancelFunc
	poolDone   chan error

	mu          sync.Mutex
	mounts      map[string]*mountedFS
	generation  uint64
	shutdown    bool
}

// Session is the subset of *fuse.MountedFileSystem Server needs;
// *fuse.MountedFileSystem satisfies it directly. Config.MountFUSE/
// UnmountFUSE indirect the real fuse.Mount/fuse.Unmount calls so tests
// (including internal/mgmt's, outside this package) can substitute a
// fake FUSE session -- actually mounting requires a /dev/fuse the test
// sandbox doesn't have.
type Session interface {
	Join(ctx context.Context) error
}

type mountedFS struct {
	mountPoint string
	point      *mount.Point
	inodes     *inode.Map
	journal    *journal.Journal
	mfs        Session

	cancelUnload context.CancelFunc
}

// New acquires the daemon's exclusive lock file, starts the shared
// import pool, and returns a Server ready to take mounts. It fails if
// another process already holds the lock.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = &telemetry.Log
	}
	if cfg.MountFUSE == nil {
		cfg.MountFUSE = func(dir string, srv fuse.Server, mcfg *fuse.MountConfig) (Session, error) {
			return fuse.Mount(dir, srv, mcfg)
		}
	}
	if cfg.UnmountFUSE == nil {
		cfg.UnmountFUSE = fuse.Unmount
	}
	lock, err := acquireLock(cfg.Dir)
	if err != nil {
		return nil, err
	}

	queue := importqueue.New(cfg.BatchSizes)
	store := objectstore.New(objectcache.New(cfg.CacheCapacity, cfg.CacheShards), cfg.Local, queue, cfg.Backend)
	pool := &importer.Pool{
		Queue: queue, Backend: cfg.Backend, Trace: importer.NewTraceBus(64),
		Workers: cfg.ImportWorkers, Kinds: cfg.ImportKinds,
	}

	poolCtx, poolCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg: cfg, store: store, queue: queue, pool: pool, clock: cfg.Clock,
		lock: lock, poolCtx: poolCtx, poolCancel: poolCancel,
		poolDone: make(chan error, 1),
		mounts:   make(map[string]*mountedFS),
	}
	go func() { s.poolDone <- pool.Run(poolCtx) }()
	return s, nil
}

// acquireLock opens (creating if necessary) dir's lock file and takes
// an exclusive, non-blocking advisory lock on it, writing the daemon's
// PID once held (spec.md §6: "/lock -- exclusive lock; contents =
// daemon PID + LF"). See lock_unix.go for the platform-specific flock
// call -- there is no teacher precedent for this file, since gcsfuse
// never runs more than one mount per process.
func acquireLock(dir layout.Dir) (*os.File, error) {
	if err := os.MkdirAll(string(dir), 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	f, err := os.OpenFile(dir.LockFile(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("another scmfsd instance holds %s: %w", dir.LockFile(), err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Mount brings up a new working copy rooted at initialRoot, materializes
// it as a FUSE mount at mountPoint, and registers it under name.
func (s *Server) Mount(ctx context.Context, name, mountPoint string, initialRoot scmtypes.RootId) (*mount.Point, error) {
	s.mu.Lock()
	if _, exists := s.mounts[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("mount %q already registered", name)
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	ov, err := overlay.New(s.cfg.Dir.OverlayDir(name), s.clock)
	if err != nil {
		return nil, fmt.Errorf("overlay.New: %w", err)
	}
	m := inode.New(s.store, ov, s.clock, inode.DefaultTypeCacheTTL)
	if err := m.InitRoot(ctx, initialRoot, objectstore.FetchContext{Cause: objectstore.CauseThrift}); err != nil {
		return nil, fmt.Errorf("InitRoot: %w", err)
	}

	j := journal.New(s.clock, gen, s.cfg.JournalMemLimitBytes)
	point := mount.New(m, s.store, j, s.clock, initialRoot)
	channel := fschannel.New(m, j)

	mfs, err := s.cfg.MountFUSE(mountPoint, fuseutil.NewFileSystemServer(channel), &fuse.MountConfig{
		FSName:     name,
		Subtype:    "scmfsd",
		VolumeName: name,
	})
	if err != nil {
		return nil, fmt.Errorf("fuse.Mount: %w", err)
	}

	unloadCtx, cancelUnload := context.WithCancel(s.poolCtx)
	go m.RunUnloadLoop(unloadCtx, s.cfg.UnloadInterval, s.cfg.UnloadCutoff)
	if s.cfg.Metrics != nil {
		go s.reportInodeResidency(unloadCtx, m)
	}

	s.mu.Lock()
	s.mounts[name] = &mountedFS{
		mountPoint: mountPoint, point: point, inodes: m, journal: j,
		mfs: mfs, cancelUnload: cancelUnload,
	}
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.MountOpened(ctx)
	}

	reg, err := s.cfg.Dir.LoadRegistry()
	if err == nil {
		reg.Mounts[mountPoint] = name
		_ = reg.Save(s.cfg.Dir)
	}
	return point, nil
}

// reportInodeResidency periodically samples m's resident-inode count into
// s.cfg.Metrics, piggybacking on the same interval as the unload loop
// rather than introducing a second ticker cadence.
func (s *Server) reportInodeResidency(ctx context.Context, m *inode.Map) {
	interval := s.cfg.UnloadInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
			s.cfg.Metrics.SetInodesLoaded(m.ResidentCount())
		}
	}
}

// Unmount requests the kernel unmount name's mount point and waits for
// the FUSE session to finish (cmd/legacy_main.go's registerSIGINTHandler
// / mfs.Join pattern, generalized per-mount).
func (s *Server) Unmount(ctx context.Context, name string) error {
	s.mu.Lock()
	mf, ok := s.mounts[name]
	if ok {
		delete(s.mounts, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("mount %q not registered", name)
	}

	mf.cancelUnload()
	if err := s.cfg.UnmountFUSE(mf.mountPoint); err != nil {
		return fmt.Errorf("fuse.Unmount: %w", err)
	}
	if err := mf.mfs.Join(ctx); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}

	reg, err := s.cfg.Dir.LoadRegistry()
	if err == nil {
		delete(reg.Mounts, mf.mountPoint)
		_ = reg.Save(s.cfg.Dir)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.MountClosed(ctx)
	}
	return nil
}

// ListMounts reports the names of currently registered mounts.
func (s *Server) ListMounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.mounts))
	for name := range s.mounts {
		names = append(names, name)
	}
	return names
}

// Point returns the MountPoint registered under name, or false if none.
func (s *Server) Point(name string) (*mount.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mf, ok := s.mounts[name]
	if !ok {
		return nil, false
	}
	return mf.point, true
}

// Clock returns the clock every mount shares, for callers (internal/mgmt)
// that need Now() for time-relative operations like unloadInodes.
func (s *Server) Clock() timeutil.Clock {
	return s.clock
}

// Shutdown unmounts every registered mount, stops the shared import
// pool, and releases the lock file. Fatal errors during any single
// unmount are collected and returned together; shutdown still proceeds
// through the rest (spec.md §7: "fatal errors discovered while running
// cause the affected mount to be unmounted but do not terminate the
// process unless the lock file is lost").
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	names := make([]string, 0, len(s.mounts))
	for name := range s.mounts {
		names = append(names, name)
	}
	s.mu.Unlock()

	var g errgroup.Group
	errs := make([]error, len(names))
	for i, name := range names {
		g.Go(func() error {
			errs[i] = s.Unmount(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	unmountErr := errors.Join(errs...)

	s.poolCancel()
	<-s.poolDone

	if err := releaseLock(s.lock); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return unmountErr
}
