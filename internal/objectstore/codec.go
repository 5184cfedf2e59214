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

package objectstore

import (
	"encoding/binary"
	"fmt"

	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Trees and blob metadata are stored in LocalStore as a simple
// fixed-layout encoding (no reflection-based codec): a tree is a count
// followed by repeated (name, id, type) records, mirroring the wire
// encoding the helper subprocess protocol uses for the same shape
// (internal/remote/helper) so there's one encoding convention for "a list
// of tree entries" across the daemon.
func encodeTree(t scmtypes.Tree) []byte {
	out := make([]byte, 4, 64)
	binary.BigEndian.PutUint32(out[:4], uint32(len(t.Entries)))
	for _, e := range t.Entries {
		out = appendString(out, e.Name)
		out = append(out, e.Id.Bytes()...)
		out = append(out, byte(e.Type))
	}
	return out
}

func decodeTree(raw []byte) (scmtypes.Tree, error) {
	if len(raw) < 4 {
		return scmtypes.Tree{}, fmt.Errorf("decodeTree: truncated count")
	}
	count := binary.BigEndian.Uint32(raw[:4])
	rest := raw[4:]
	entries := make([]scmtypes.TreeEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		name, r, err := readString(rest)
		if err != nil {
			return scmtypes.Tree{}, err
		}
		if len(r) < scmtypes.ObjectIdLen+1 {
			return scmtypes.Tree{}, fmt.Errorf("decodeTree: truncated entry")
		}
		id := scmtypes.NewObjectId(r[:scmtypes.ObjectIdLen])
		typ := scmtypes.EntryType(r[scmtypes.ObjectIdLen])
		rest = r[scmtypes.ObjectIdLen+1:]
		entries = append(entries, scmtypes.TreeEntry{Name: name, Id: id, Type: typ})
	}
	return scmtypes.NewTree(entries)
}

func encodeBlobMetadata(m scmtypes.BlobMetadata) []byte {
	out := make([]byte, len(m.Sha1)+8)
	copy(out, m.Sha1[:])
	binary.BigEndian.PutUint64(out[len(m.Sha1):], m.Size)
	return out
}

func decodeBlobMetadata(raw []byte) (scmtypes.BlobMetadata, error) {
	var m scmtypes.BlobMetadata
	if len(raw) != len(m.Sha1)+8 {
		return m, fmt.Errorf("decodeBlobMetadata: want %d bytes, got %d", len(m.Sha1)+8, len(raw))
	}
	copy(m.Sha1[:], raw[:len(m.Sha1)])
	m.Size = binary.BigEndian.Uint64(raw[len(m.Sha1):])
	return m, nil
}

func appendString(out []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	out = append(out, lenBuf[:]...)
	out = append(out, s...)
	return out
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("readString: truncated length")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return "", nil, fmt.Errorf("readString: truncated body")
	}
	return string(b[:n]), b[n:], nil
}
