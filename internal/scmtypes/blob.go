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

import "crypto/sha1"

// Blob is the byte content addressed by an ObjectId.
type Blob struct {
	Contents []byte
}

// BlobMetadata is derived from a Blob's bytes but may be known independently
// of them (a backend may be able to answer a metadata request without
// transferring the blob itself).
type BlobMetadata struct {
	Sha1 [sha1.Size]byte
	Size uint64
}

// ComputeBlobMetadata derives BlobMetadata from blob contents.
func ComputeBlobMetadata(contents []byte) BlobMetadata {
	return BlobMetadata{
		Sha1: sha1.Sum(contents),
		Size: uint64(len(contents)),
	}
}
