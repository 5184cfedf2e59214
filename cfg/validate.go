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

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidCacheConfig(c *CacheConfig) error {
	if c.MaxTotalBytes <= 0 {
		return fmt.Errorf("cache.max-total-bytes must be positive")
	}
	if c.Shards <= 0 {
		return fmt.Errorf("cache.shards must be positive")
	}
	return nil
}

func isValidImportQueueConfig(c *ImportQueueConfig) error {
	if c.TreeBatchSize <= 0 {
		return fmt.Errorf("import-queue.tree-batch-size must be positive")
	}
	if c.BlobBatchSize <= 0 {
		return fmt.Errorf("import-queue.blob-batch-size must be positive")
	}
	if c.BlobMetaBatchSize <= 0 {
		return fmt.Errorf("import-queue.blob-meta-batch-size must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("import-queue.workers must be positive")
	}
	return nil
}

func isValidManagementConfig(c *ManagementConfig) error {
	if c.SocketFileMode < 0 || c.SocketFileMode > 0777 {
		return fmt.Errorf("management.socket-file-mode must be a valid octal permission, got %s", c.SocketFileMode)
	}
	return nil
}

func isValidRemoteConfig(c *RemoteConfig) error {
	switch c.Kind {
	case BackendHelper:
		if c.HelperPath == "" {
			return fmt.Errorf("remote.helper-path is required when remote.kind is helper")
		}
	case BackendGRPCRemote:
		if c.GRPCTarget == "" {
			return fmt.Errorf("remote.grpc-target is required when remote.kind is grpcremote")
		}
	case BackendNative:
		// NativeDir may be empty; newBackend passes it through unchanged, so
		// paths then resolve relative to the daemon's working directory.
	default:
		return fmt.Errorf("remote.kind must be one of [helper, native, grpcremote], got %q", c.Kind)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err = isValidCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("error parsing cache config: %w", err)
	}

	if err = isValidImportQueueConfig(&config.ImportQueue); err != nil {
		return fmt.Errorf("error parsing import-queue config: %w", err)
	}

	if err = isValidManagementConfig(&config.Management); err != nil {
		return fmt.Errorf("error parsing management config: %w", err)
	}

	if err = isValidRemoteConfig(&config.Remote); err != nil {
		return fmt.Errorf("error parsing remote config: %w", err)
	}

	return nil
}
