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

// Package scmtypes holds the wire- and store-level data model shared by
// every layer of the daemon: content hashes, root IDs, trees and blobs.
package scmtypes

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// ObjectId is an opaque, fixed-width content hash identifying an immutable
// tree or blob. Equality is bytewise; ordering is lexicographic.
//
// INVARIANT: len(id) == ObjectIdLen for any non-zero ObjectId produced by
// ParseObjectId or NewObjectId.
type ObjectId [ObjectIdLen]byte

// ObjectIdLen is the width in bytes of an ObjectId. The source-control
// backends this daemon talks to use 20-byte (SHA-1-sized) hashes.
const ObjectIdLen = 20

// ZeroObjectId is the all-zero ObjectId, never a valid content hash.
var ZeroObjectId ObjectId

// ParseObjectId decodes a hex-encoded content hash.
func ParseObjectId(s string) (ObjectId, error) {
	var id ObjectId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("ParseObjectId: %v", err)
	}
	if len(b) != ObjectIdLen {
		return id, fmt.Errorf("ParseObjectId: want %d bytes, got %d", ObjectIdLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// NewObjectId copies b into a fixed-width ObjectId. REQUIRES len(b) == ObjectIdLen.
func NewObjectId(b []byte) (id ObjectId) {
	if len(b) != ObjectIdLen {
		panic(fmt.Sprintf("NewObjectId: illegal length %d", len(b)))
	}
	copy(id[:], b)
	return
}

func (id ObjectId) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value, i.e. not a real hash.
func (id ObjectId) IsZero() bool {
	return id == ZeroObjectId
}

// Bytes returns the raw hash bytes.
func (id ObjectId) Bytes() []byte {
	return id[:]
}

// Compare returns -1, 0, or +1 per bytes.Compare semantics, used to keep
// tree entries and column-family keys in sorted order.
func (id ObjectId) Compare(other ObjectId) int {
	return bytes.Compare(id[:], other[:])
}
