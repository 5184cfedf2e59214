// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

const (
	// Cache config defaults.

	DefaultCacheMaxTotalBytes int64 = 256 << 20
	DefaultCacheShards        int   = 16
)

const (
	// Import-queue config defaults.

	DefaultImportTreeBatchSize     = 32
	DefaultImportBlobBatchSize     = 16
	DefaultImportBlobMetaBatchSize = 64
)

const (
	// Journal config defaults.

	DefaultJournalMemLimitBytes int64 = 64 << 20
)

const (
	// Logging config defaults.

	DefaultLogMaxFileSizeMB  int64 = 512
	DefaultLogBackupFileCount     = 10
)
