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

// Package proxyhash implements the bidirectional binding between an
// internal ObjectId and the (path, revHash) pair a path-addressed remote
// backend needs to resolve content (spec.md §4.3).
package proxyhash

import (
	"crypto/sha1"
	"time"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/scmfsd/scmfsd/internal/telemetry"
)

// ProxyHash is the deserialized (path, revHash) pair a path-addressed
// backend needs in order to fetch the content behind an ObjectId.
type ProxyHash struct {
	Path    string
	RevHash string
}

// missingProxyHashLog rate-limits the structured log spec.md §4.3 requires
// when Load finds no entry: this is a fatal invariant violation for the
// calling operation, but repeated violations from a misbehaving client
// shouldn't flood the log.
var missingProxyHashLog = telemetry.NewRateLimitedLogger(&telemetry.Log, time.Second, 1)

// PrepareToStore is pure and deterministic: the same (path, revHash)
// always yields the same ObjectId, so two import paths that observe the
// same content via different prefetches converge on one id. The id is
// derived by hashing a length-prefixed encoding of path and revHash,
// mirroring how scmtypes.Blob content is addressed by its own digest.
func PrepareToStore(path, revHash string) (scmtypes.ObjectId, []byte) {
	h := sha1.New()
	writeLengthPrefixed(h, []byte(path))
	writeLengthPrefixed(h, []byte(revHash))
	id := scmtypes.NewObjectId(h.Sum(nil))

	serialized := serialize(path, revHash)
	return id, serialized
}

// Store appends the (id, serialized) pair to batch for later atomic
// application via a single localstore.Store.BatchWrite call; it performs
// no I/O itself.
func Store(batch *[]localstore.WriteEntry, id scmtypes.ObjectId, serialized []byte) {
	*batch = append(*batch, localstore.WriteEntry{
		CF:    localstore.CFProxyHashes,
		Key:   id.Bytes(),
		Value: serialized,
	})
}

// Load reads back the (path, revHash) pair bound to id. A missing entry
// is a fatal invariant violation for the calling operation: it can only
// happen if an ObjectId that should have been proxy-hashed at import time
// was not, so Load fails with errkind.MissingProxyHash and logs a
// rate-limited structured event rather than silently returning a zero
// value.
func Load(store localstore.Store, id scmtypes.ObjectId) (ProxyHash, error) {
	raw, found, err := store.Get(localstore.CFProxyHashes, id.Bytes())
	if err != nil {
		return ProxyHash{}, errkind.Wrap(errkind.StoreIOError, "loading proxy hash", err)
	}
	if !found {
		if missingProxyHashLog.Allow() {
			telemetry.Log.Error().
				Str("object_id", id.String()).
				Msg("proxyhash: missing entry for object id, invariant violated")
		}
		return ProxyHash{}, errkind.New(errkind.MissingProxyHash, "no proxy hash for object id "+id.String())
	}

	path, revHash, err := deserialize(raw)
	if err != nil {
		return ProxyHash{}, errkind.Wrap(errkind.StoreCorrupt, "decoding proxy hash", err)
	}
	return ProxyHash{Path: path, RevHash: revHash}, nil
}

func writeLengthPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	n := len(b)
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * (7 - i)))
	}
	h.Write(lenBuf[:])
	h.Write(b)
}

// serialize/deserialize use the same length-prefixed encoding as the hash
// input, so the on-disk record is a simple concatenation of the two
// fields with no delimiter ambiguity.
func serialize(path, revHash string) []byte {
	out := make([]byte, 0, 16+len(path)+len(revHash))
	out = appendLengthPrefixed(out, []byte(path))
	out = appendLengthPrefixed(out, []byte(revHash))
	return out
}

func deserialize(raw []byte) (path string, revHash string, err error) {
	p, rest, err := readLengthPrefixed(raw)
	if err != nil {
		return "", "", err
	}
	r, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return "", "", err
	}
	if len(rest) != 0 {
		return "", "", errkind.New(errkind.StoreCorrupt, "trailing bytes after proxy hash record")
	}
	return string(p), string(r), nil
}

func appendLengthPrefixed(out []byte, b []byte) []byte {
	var lenBuf [8]byte
	n := len(b)
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * (7 - i)))
	}
	out = append(out, lenBuf[:]...)
	out = append(out, b...)
	return out
}

func readLengthPrefixed(b []byte) (field []byte, rest []byte, err error) {
	if len(b) < 8 {
		return nil, nil, errkind.New(errkind.StoreCorrupt, "truncated length prefix")
	}
	var n uint64
	for i := 0; i < 8; i++ {
		n = n<<8 | uint64(b[i])
	}
	b = b[8:]
	if uint64(len(b)) < n {
		return nil, nil, errkind.New(errkind.StoreCorrupt, "truncated field")
	}
	return b[:n], b[n:], nil
}
