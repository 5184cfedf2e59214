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

import "fmt"

// String renders the effective config for the daemon's startup log line,
// the way the teacher logs its resolved Config before mounting.
func (c *Config) String() string {
	return fmt.Sprintf(
		"app-name=%s state-dir=%s unload-interval=%s unload-cutoff=%s "+
			"cache.max-total-bytes=%d cache.shards=%d local-store.engine=%s "+
			"import-queue.workers=%d journal.mem-limit-bytes=%d "+
			"management.socket-path=%s logging.severity=%s",
		c.AppName, c.Server.StateDir, c.Server.UnloadInterval, c.Server.UnloadCutoff,
		c.Cache.MaxTotalBytes, c.Cache.Shards, c.LocalStore.Engine,
		c.ImportQueue.Workers, c.Journal.MemLimitBytes,
		c.Management.SocketPath, c.Logging.Severity)
}
