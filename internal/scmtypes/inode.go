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

// InodeNumber identifies an inode for the lifetime of a mount. It is the
// common currency between InodeMap, Overlay, Journal, MountPoint, and the FS
// channel -- every layer above FsChannel addresses inodes by this number
// rather than by path, since a path can stop denoting the same inode (or
// stop existing at all) between two requests.
//
// INVARIANT: RootInode is reserved for the mount's root directory and is
// never reused for anything else, mirroring fuseops.RootInodeID.
type InodeNumber uint64

// RootInode is the well-known inode number of a mount's root directory.
const RootInode InodeNumber = 1
