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

// Package localstore implements LocalStore, the persistent ordered
// key-value store partitioned into named column families (spec.md §4.1).
package localstore

import "github.com/scmfsd/scmfsd/internal/errkind"

// ColumnFamily names the logical partitions LocalStore must support.
type ColumnFamily string

const (
	CFBlobs         ColumnFamily = "blobs"
	CFTrees         ColumnFamily = "trees"
	CFBlobMetadata  ColumnFamily = "blob_metadata"
	CFProxyHashes   ColumnFamily = "proxy_hashes"
	CFCommitToTree  ColumnFamily = "commit_to_tree"
	CFEphemeral     ColumnFamily = "ephemeral"
)

// AllColumnFamilies lists every column family a LocalStore implementation
// must create on Open.
var AllColumnFamilies = []ColumnFamily{
	CFBlobs, CFTrees, CFBlobMetadata, CFProxyHashes, CFCommitToTree, CFEphemeral,
}

// WriteEntry is one write within a BatchWrite call.
type WriteEntry struct {
	CF    ColumnFamily
	Key   []byte
	Value []byte // nil Value means delete Key.
}

// Store is the persistent ordered key-value store contract. Reads are
// consistent with the most recent completed write to the same key on the
// same process. BatchWrite is crash-atomic within a single column family and
// at-least-consistent (ordering respected) across families.
type Store interface {
	// Get returns (nil, false, nil) if key is absent from cf.
	Get(cf ColumnFamily, key []byte) (value []byte, found bool, err error)
	Put(cf ColumnFamily, key []byte, value []byte) error
	BatchWrite(entries []WriteEntry) error
	Clear(cf ColumnFamily) error
	Compact(cf ColumnFamily) error
	Close() error
}

// corruptErr and ioErr let engines report the two failure kinds spec.md §4.1
// names without every engine re-deriving the wrapping.
func corruptErr(detail string, cause error) error {
	return errkind.Wrap(errkind.StoreCorrupt, detail, cause)
}

func ioErr(detail string, cause error) error {
	return errkind.Wrap(errkind.StoreIOError, detail, cause)
}
