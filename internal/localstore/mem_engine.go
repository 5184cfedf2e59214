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

package localstore

import "sync"

// MemEngine is the in-memory selectable implementation: useful for tests
// and for ephemeral mounts that accept losing their cache on restart.
type MemEngine struct {
	mu   sync.RWMutex
	cols map[ColumnFamily]map[string][]byte
}

var _ Store = (*MemEngine)(nil)

func NewMemEngine() *MemEngine {
	e := &MemEngine{cols: make(map[ColumnFamily]map[string][]byte)}
	for _, cf := range AllColumnFamilies {
		e.cols[cf] = make(map[string][]byte)
	}
	return e
}

func (e *MemEngine) Get(cf ColumnFamily, key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.cols[cf][string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (e *MemEngine) Put(cf ColumnFamily, key []byte, value []byte) error {
	return e.BatchWrite([]WriteEntry{{CF: cf, Key: key, Value: value}})
}

func (e *MemEngine) BatchWrite(entries []WriteEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, w := range entries {
		col, ok := e.cols[w.CF]
		if !ok {
			col = make(map[string][]byte)
			e.cols[w.CF] = col
		}
		if w.Value == nil {
			delete(col, string(w.Key))
			continue
		}
		cp := make([]byte, len(w.Value))
		copy(cp, w.Value)
		col[string(w.Key)] = cp
	}
	return nil
}

func (e *MemEngine) Clear(cf ColumnFamily) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cols[cf] = make(map[string][]byte)
	return nil
}

// Compact is a no-op for an in-memory engine: there is no on-disk
// representation to reclaim.
func (e *MemEngine) Compact(cf ColumnFamily) error { return nil }

func (e *MemEngine) Close() error { return nil }
