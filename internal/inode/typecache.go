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
	"sync"
	"time"

	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// typeCacheEntry is a short-lived memo of what a directory lookup
// previously found for a name. Map.Lookup records entries here and the
// structural operations erase them, but no Map method reads the cache
// back: a repeated lookup of a name is answered from Map.names, which is
// authoritative and durable. With a TTL of zero or less, Insert records
// nothing.
type typeCacheEntry struct {
	entryType scmtypes.EntryType
	objectID  scmtypes.ObjectId
	expiresAt time.Time
}

// typeCache is one directory's cache from child name to type information.
// Modeled on fs/inode.DirInode's "cache typeCache" / "typeCacheTTL" fields
// (the fields exist in dir.go; the type's own implementation was not part
// of the retrieved teacher snapshot, so this is an independent
// implementation of what those fields document rather than an adaptation
// of teacher source -- see DESIGN.md).
type typeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]typeCacheEntry
}

func newTypeCache(ttl time.Duration) *typeCache {
	return &typeCache{ttl: ttl, entries: make(map[string]typeCacheEntry)}
}

func (c *typeCache) Insert(name string, entryType scmtypes.EntryType, objectID scmtypes.ObjectId, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = typeCacheEntry{entryType: entryType, objectID: objectID, expiresAt: now.Add(c.ttl)}
}

func (c *typeCache) Lookup(name string, now time.Time) (scmtypes.EntryType, scmtypes.ObjectId, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok || now.After(e.expiresAt) {
		return 0, scmtypes.ObjectId{}, false
	}
	return e.entryType, e.objectID, true
}

func (c *typeCache) Erase(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}
