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

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is scmfsd's top-level configuration (spec.md's ambient
// Configuration section), adapted from the teacher's cfg.Config: one
// struct, one BindFlags, decoded through mapstructure with DecodeHook,
// then Rationalize()'d and ValidateConfig()'d -- the same three-phase
// pipeline, generalized from GCS-connection/cache/metadata knobs to
// scmfsd's server/mount/import/journal knobs.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Server ServerConfig `yaml:"server"`

	Cache CacheConfig `yaml:"cache"`

	LocalStore LocalStoreConfig `yaml:"local-store"`

	Remote RemoteConfig `yaml:"remote"`

	ImportQueue ImportQueueConfig `yaml:"import-queue"`

	Journal JournalConfig `yaml:"journal"`

	Management ManagementConfig `yaml:"management"`

	Logging LoggingConfig `yaml:"logging"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// ServerConfig holds the daemon's state directory and periodic inode
// unload policy (spec.md §6's on-disk layout and §2's unload loop).
type ServerConfig struct {
	StateDir ResolvedPath `yaml:"state-dir"`

	UnloadInterval time.Duration `yaml:"unload-interval"`

	UnloadCutoff time.Duration `yaml:"unload-cutoff"`
}

// CacheConfig sizes the shared in-memory object cache
// (internal/objectcache).
type CacheConfig struct {
	MaxTotalBytes int64 `yaml:"max-total-bytes"`

	Shards int `yaml:"shards"`
}

// LocalStoreConfig selects and configures the on-disk durable store
// (internal/localstore).
type LocalStoreConfig struct {
	Engine StoreEngine `yaml:"engine"`

	Path ResolvedPath `yaml:"path"`
}

// RemoteConfig selects and configures the internal/remote.Backend the
// import pipeline fetches trees/blobs/blob-metadata through.
type RemoteConfig struct {
	Kind BackendKind `yaml:"kind"`

	// HelperPath and HelperArgs launch a framed subprocess backend
	// (internal/remote/helper) when Kind is "helper".
	HelperPath string `yaml:"helper-path"`

	HelperArgs []string `yaml:"helper-args"`

	// NativeDir is the on-disk pack/commit root for an in-process
	// backend (internal/remote/native) when Kind is "native".
	NativeDir ResolvedPath `yaml:"native-dir"`

	// GRPCTarget is the dial target for a gRPC backend
	// (internal/remote/grpcremote) when Kind is "grpcremote".
	GRPCTarget string `yaml:"grpc-target"`
}

// ImportQueueConfig sizes the shared import pipeline
// (internal/importqueue, internal/importer).
type ImportQueueConfig struct {
	TreeBatchSize int `yaml:"tree-batch-size"`

	BlobBatchSize int `yaml:"blob-batch-size"`

	BlobMetaBatchSize int `yaml:"blob-meta-batch-size"`

	Workers int `yaml:"workers"`
}

// JournalConfig caps per-mount journal memory (internal/journal).
type JournalConfig struct {
	MemLimitBytes int64 `yaml:"mem-limit-bytes"`
}

// ManagementConfig configures the gRPC management socket
// (internal/mgmt).
type ManagementConfig struct {
	SocketPath ResolvedPath `yaml:"socket-path"`

	SocketFileMode Octal `yaml:"socket-file-mode"`
}

// LoggingConfig mirrors the teacher's LoggingConfig/LogRotateLoggingConfig
// almost field-for-field (severity + rotation), now feeding
// internal/telemetry's zerolog-backed logger instead of the teacher's
// own logger package.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

// TelemetryConfig controls the /metrics endpoint internal/telemetry
// exposes alongside the management socket.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics-addr"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name reported alongside this daemon's mounts.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Exit when internal invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Print debug messages when a mutex is held too long.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.StringP("state-dir", "", "", "Directory holding the daemon's lock file, registry, and per-mount overlays.")
	if err = viper.BindPFlag("server.state-dir", flagSet.Lookup("state-dir")); err != nil {
		return err
	}

	flagSet.DurationP("unload-interval", "", 5*time.Minute, "How often to sweep idle inodes from memory.")
	if err = viper.BindPFlag("server.unload-interval", flagSet.Lookup("unload-interval")); err != nil {
		return err
	}

	flagSet.DurationP("unload-cutoff", "", 30*time.Minute, "Minimum idle time before an inode becomes eligible for unload.")
	if err = viper.BindPFlag("server.unload-cutoff", flagSet.Lookup("unload-cutoff")); err != nil {
		return err
	}

	flagSet.Int64P("cache-max-total-bytes", "", 256<<20, "Maximum bytes held in the shared in-memory object cache.")
	if err = viper.BindPFlag("cache.max-total-bytes", flagSet.Lookup("cache-max-total-bytes")); err != nil {
		return err
	}

	flagSet.IntP("cache-shards", "", 16, "Minimum number of entries the shared in-memory object cache keeps, even above its byte cap.")
	if err = viper.BindPFlag("cache.shards", flagSet.Lookup("cache-shards")); err != nil {
		return err
	}

	flagSet.StringP("local-store-engine", "", "bolt", "Durable local-store engine: mem or bolt.")
	if err = viper.BindPFlag("local-store.engine", flagSet.Lookup("local-store-engine")); err != nil {
		return err
	}

	flagSet.StringP("local-store-path", "", "", "Path to the local-store's bolt database (ignored for the mem engine).")
	if err = viper.BindPFlag("local-store.path", flagSet.Lookup("local-store-path")); err != nil {
		return err
	}

	flagSet.StringP("remote-kind", "", "native", "Remote backend: native, helper, or grpcremote.")
	if err = viper.BindPFlag("remote.kind", flagSet.Lookup("remote-kind")); err != nil {
		return err
	}

	flagSet.StringP("remote-helper-path", "", "", "Executable launched as the framed-protocol remote backend (remote.kind=helper).")
	if err = viper.BindPFlag("remote.helper-path", flagSet.Lookup("remote-helper-path")); err != nil {
		return err
	}

	flagSet.StringSliceP("remote-helper-args", "", nil, "Arguments passed to remote-helper-path.")
	if err = viper.BindPFlag("remote.helper-args", flagSet.Lookup("remote-helper-args")); err != nil {
		return err
	}

	flagSet.StringP("remote-native-dir", "", "", "On-disk pack/commit root for the native remote backend (remote.kind=native).")
	if err = viper.BindPFlag("remote.native-dir", flagSet.Lookup("remote-native-dir")); err != nil {
		return err
	}

	flagSet.StringP("remote-grpc-target", "", "", "Dial target for the gRPC remote backend (remote.kind=grpcremote).")
	if err = viper.BindPFlag("remote.grpc-target", flagSet.Lookup("remote-grpc-target")); err != nil {
		return err
	}

	flagSet.IntP("import-tree-batch-size", "", 32, "Max tree fetches batched per remote.Backend call.")
	if err = viper.BindPFlag("import-queue.tree-batch-size", flagSet.Lookup("import-tree-batch-size")); err != nil {
		return err
	}

	flagSet.IntP("import-blob-batch-size", "", 16, "Max blob fetches batched per remote.Backend call.")
	if err = viper.BindPFlag("import-queue.blob-batch-size", flagSet.Lookup("import-blob-batch-size")); err != nil {
		return err
	}

	flagSet.IntP("import-blob-meta-batch-size", "", 64, "Max blob-metadata fetches batched per remote.Backend call.")
	if err = viper.BindPFlag("import-queue.blob-meta-batch-size", flagSet.Lookup("import-blob-meta-batch-size")); err != nil {
		return err
	}

	flagSet.IntP("import-workers", "", 0, "Import pool worker count (0 selects a default based on the CPU count).")
	if err = viper.BindPFlag("import-queue.workers", flagSet.Lookup("import-workers")); err != nil {
		return err
	}

	flagSet.Int64P("journal-mem-limit-bytes", "", 64<<20, "Per-mount journal memory cap before oldest entries are dropped.")
	if err = viper.BindPFlag("journal.mem-limit-bytes", flagSet.Lookup("journal-mem-limit-bytes")); err != nil {
		return err
	}

	flagSet.StringP("management-socket", "", "", "Path to the management gRPC unix socket.")
	if err = viper.BindPFlag("management.socket-path", flagSet.Lookup("management-socket")); err != nil {
		return err
	}

	flagSet.IntP("management-socket-file-mode", "", 0600, "Permission bits for the management socket, in octal.")
	if err = viper.BindPFlag("management.socket-file-mode", flagSet.Lookup("management-socket-file-mode")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file (empty logs to stderr).")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.Int64P("log-max-file-size-mb", "", 512, "Max size in MiB before the log file is rotated.")
	if err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-max-file-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-backup-file-count", "", 10, "Number of rotated log files to retain (0 retains all).")
	if err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-backup-file-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-compress", "", true, "Recorded in the config only; the rotating log writer does not compress rotated log files.")
	if err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-compress")); err != nil {
		return err
	}

	flagSet.StringP("metrics-addr", "", "", "Address the /metrics HTTP endpoint listens on (empty disables it).")
	if err = viper.BindPFlag("telemetry.metrics-addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	return nil
}
