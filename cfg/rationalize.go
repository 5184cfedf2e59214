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

// Rationalize updates the config fields based on the values of other
// fields, the same pass the teacher runs between decode and validate.
func Rationalize(c *Config) error {
	// Mutex-contention debugging is only useful with full tracing on.
	if c.Debug.LogMutex {
		c.Logging.Severity = TraceLogSeverity
	}

	if c.ImportQueue.Workers == 0 {
		c.ImportQueue.Workers = DefaultImportWorkers()
	}

	if c.Cache.Shards == 0 {
		c.Cache.Shards = DefaultCacheShards
	}

	if c.LocalStore.Engine == "" {
		c.LocalStore.Engine = StoreEngineBolt
	}

	if c.Remote.Kind == "" {
		c.Remote.Kind = BackendNative
	}

	return nil
}
