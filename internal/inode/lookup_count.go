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

import "fmt"

// A helper for tracking the kernel's reference count on an inode. Adapted
// from fs/inode/lookup_count.go: that version destroyed the inode the
// instant the count hit zero. Here the count hitting zero only makes an
// inode *eligible* for the next unload pass (spec.md §4.8); IsZero lets
// the unload pass ask, rather than the decrement itself driving teardown.
//
// External synchronization is required (the owning Inode's mutex).
type lookupCount struct {
	count uint64
}

func (lc *lookupCount) Inc() {
	lc.count++
}

// Dec decrements the count by n. Panics if n exceeds the current count,
// which would indicate the kernel released more references than it ever
// took.
func (lc *lookupCount) Dec(n uint64) {
	if n > lc.count {
		panic(fmt.Sprintf("lookupCount.Dec: n is greater than count: %v vs. %v", n, lc.count))
	}
	lc.count -= n
}

func (lc *lookupCount) IsZero() bool {
	return lc.count == 0
}
