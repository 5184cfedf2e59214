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
	"time"

	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// unloadOnce walks every loaded inode and drops the ones that are idle:
// zero lookup count, no loaded children (invariant 2), no pending
// waiters, and idle for at least cutoff. The root is never a candidate
// (invariant 3). Returns the number of inodes unloaded.
func (m *Map) unloadOnce(now time.Time, cutoff time.Duration) int {
	m.mu.Lock()
	candidates := make([]scmtypes.InodeNumber, 0)
	for num, e := range m.entries {
		if num == scmtypes.RootInode {
			continue
		}
		if e.state != Loaded {
			continue
		}
		if e.loadedChildren > 0 || len(e.waiters) > 0 {
			continue
		}
		candidates = append(candidates, num)
	}
	m.mu.Unlock()

	unloaded := 0
	for _, num := range candidates {
		if m.tryUnload(num, now, cutoff) {
			unloaded++
		}
	}
	return unloaded
}

func (m *Map) tryUnload(num scmtypes.InodeNumber, now time.Time, cutoff time.Duration) bool {
	m.mu.Lock()
	e, ok := m.entries[num]
	if !ok || e.state != Loaded || e.loadedChildren > 0 || len(e.waiters) > 0 {
		m.mu.Unlock()
		return false
	}
	inode := e.inode
	m.mu.Unlock()

	inode.Lock()
	idle := inode.LookupCount() == 0 && now.Sub(inode.LastAccess()) >= cutoff
	hint := persistHint{ObjectId: inode.ObjectId(), Materialized: inode.IsMaterialized()}
	inode.Unlock()
	if !idle {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok = m.entries[num]
	if !ok || e.state != Loaded || e.loadedChildren > 0 || len(e.waiters) > 0 {
		return false
	}
	e.state = Unloaded
	e.inode = nil
	e.hint = hint
	if e.parent.Parent != 0 {
		if pe, ok := m.entries[e.parent.Parent]; ok && pe.loadedChildren > 0 {
			pe.loadedChildren--
		}
	}
	return true
}

// UnloadNow runs one unload pass immediately, for the unloadInodes
// management operation (spec.md §8) rather than waiting for the next
// RunUnloadLoop tick. Returns the number of inodes unloaded.
func (m *Map) UnloadNow(now time.Time, cutoff time.Duration) int {
	return m.unloadOnce(now, cutoff)
}

// ResidentCount reports how many inodes are currently Loaded, for
// telemetry.Metrics.SetInodesLoaded.
func (m *Map) ResidentCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(0)
	for _, e := range m.entries {
		if e.state == Loaded {
			n++
		}
	}
	return n
}

// RunUnloadLoop periodically unloads idle inodes until ctx is done. It is
// meant to run as one long-lived goroutine per mount, mirroring the
// background maintenance loops in cmd/gcsfuse's mounting setup.
func (m *Map) RunUnloadLoop(ctx context.Context, interval, cutoff time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
			m.unloadOnce(m.clock.Now(), cutoff)
		}
	}
}
