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

import (
	"encoding/hex"
	"fmt"
)

// RootId is an opaque identifier for a commit or snapshot. Unlike ObjectId
// it is variable-width: different source-control backends mint root IDs of
// different shapes (a 20-byte commit hash, a longer bundle hash, ...).
//
// RootId round-trips through RenderRootId/ParseRootId: for any r,
// ParseRootId(RenderRootId(r)) == r.
type RootId struct {
	raw []byte
}

// NewRootId wraps an opaque byte slice as a RootId. The slice is copied.
func NewRootId(raw []byte) RootId {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return RootId{raw: cp}
}

func (r RootId) Bytes() []byte {
	cp := make([]byte, len(r.raw))
	copy(cp, r.raw)
	return cp
}

func (r RootId) IsZero() bool {
	return len(r.raw) == 0
}

func (r RootId) Equal(other RootId) bool {
	return string(r.raw) == string(other.raw)
}

// String renders the canonical hex form, the same form RenderRootId emits.
func (r RootId) String() string {
	return hex.EncodeToString(r.raw)
}

// ParseRootId accepts either of two input representations: raw binary bytes
// (passed through unchanged) or a hex string (decoded). A single canonical
// form -- hex -- is always emitted by RenderRootId.
func ParseRootId(input []byte) (RootId, error) {
	if len(input) == 0 {
		return RootId{}, fmt.Errorf("ParseRootId: empty input")
	}
	if decoded, err := hex.DecodeString(string(input)); err == nil {
		return NewRootId(decoded), nil
	}
	// Not valid hex text: treat as already-binary.
	return NewRootId(input), nil
}

// RenderRootId produces the canonical wire form (hex-encoded ASCII).
func RenderRootId(r RootId) []byte {
	return []byte(hex.EncodeToString(r.raw))
}
