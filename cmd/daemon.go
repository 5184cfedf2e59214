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

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/daemonize"
	"github.com/rs/zerolog"
	"github.com/scmfsd/scmfsd/cfg"
	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/layout"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/mgmt"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/remote/helper"
	"github.com/scmfsd/scmfsd/internal/remote/native"
	"github.com/scmfsd/scmfsd/internal/server"
	"github.com/scmfsd/scmfsd/internal/telemetry"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var foreground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the long-lived supervisor process (the management socket and mount registry)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if foreground {
			return runForeground()
		}
		return spawnBackground()
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of forking a background daemon.")
}

// spawnBackground re-execs the current binary with --foreground, the
// way the teacher's legacy_main.go hands off to daemonize.Run rather
// than forking the running process directly.
func spawnBackground() error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	args := append([]string{"daemon", "--foreground"}, os.Args[2:]...)
	env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
	if home, err := os.UserHomeDir(); err == nil {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}

	// The child's stdout/stderr are gone once it detaches, so anything
	// it writes before signalling success or failure (panics, fatal
	// startup errors) goes to a file instead of vanishing.
	crashLog := NewCrashWriter(string(Config.Server.StateDir) + "/daemon-startup.log")
	if err := daemonize.Run(path, args, env, crashLog); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	fmt.Println("scmfsd daemon started.")
	return nil
}

// runForeground brings up the shared backend, import pool, and
// management listener in this process, then blocks until a shutdown
// signal arrives. Errors before the server is ready are reported back
// to the parent via daemonize.SignalOutcome instead of just returning,
// since the parent is blocked waiting to hear the outcome when this
// was reached through spawnBackground.
func runForeground() error {
	signalOutcome := func(err error) {
		if err2 := daemonize.SignalOutcome(err); err2 != nil {
			telemetry.Log.Error().Err(err2).Msg("failed to signal outcome to parent process")
		}
	}

	if Config.Logging.FilePath != "" {
		telemetry.ConfigureFileOutput(
			string(Config.Logging.FilePath),
			int(Config.Logging.LogRotate.MaxFileSizeMb),
			Config.Logging.LogRotate.BackupFileCount,
			0,
		)
	}
	level := zerolog.Level(Config.Logging.Severity.Rank() - 1) // TRACE..ERROR map onto zerolog's -1..3
	if Config.Logging.Severity == cfg.OffLogSeverity {
		level = zerolog.Disabled
	}
	telemetry.Log = telemetry.Log.Level(level)

	dir := layout.Dir(Config.Server.StateDir)
	if err := os.MkdirAll(string(dir), 0o700); err != nil {
		err = fmt.Errorf("creating state dir: %w", err)
		signalOutcome(err)
		return err
	}

	backend, err := newBackend()
	if err != nil {
		signalOutcome(err)
		return err
	}

	local, err := newLocalStore()
	if err != nil {
		signalOutcome(err)
		return err
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		signalOutcome(err)
		return err
	}

	srv, err := server.New(server.Config{
		Dir:           dir,
		Backend:       backend,
		Clock:         clock.RealClock{},
		Local:         local,
		CacheCapacity: Config.Cache.MaxTotalBytes,
		CacheShards:   Config.Cache.Shards,
		BatchSizes: map[importqueue.Kind]int{
			importqueue.TreeImport:     Config.ImportQueue.TreeBatchSize,
			importqueue.BlobImport:     Config.ImportQueue.BlobBatchSize,
			importqueue.BlobMetaImport: Config.ImportQueue.BlobMetaBatchSize,
		},
		ImportKinds:          []importqueue.Kind{importqueue.TreeImport, importqueue.BlobImport, importqueue.BlobMetaImport},
		ImportWorkers:        Config.ImportQueue.Workers,
		UnloadInterval:       Config.Server.UnloadInterval,
		UnloadCutoff:         Config.Server.UnloadCutoff,
		JournalMemLimitBytes: Config.Journal.MemLimitBytes,
		Logger:               &telemetry.Log,
		Metrics:              metrics,
	})
	if err != nil {
		signalOutcome(err)
		return err
	}

	listener, err := listenManagement()
	if err != nil {
		signalOutcome(err)
		return err
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&mgmt.ServiceDesc, mgmt.New(srv))
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			telemetry.Log.Error().Err(err).Msg("management listener stopped")
		}
	}()

	if addr := Config.Telemetry.MetricsAddr; addr != "" {
		if handler, _, err := telemetry.StartMeterProvider(); err == nil {
			go http.ListenAndServe(addr, handler)
		} else {
			telemetry.Log.Error().Err(err).Msg("failed to start meter provider")
		}
	}

	telemetry.Log.Info().Str("state-dir", string(dir)).Msg("scmfsd daemon ready")
	signalOutcome(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), Config.Server.UnloadCutoff)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newBackend constructs the remote.Backend selected by Config.Remote.
// cfg.ValidateConfig already rejected a helper/grpcremote kind missing
// its required fields, so only the construction itself can fail here.
func newBackend() (remote.Backend, error) {
	switch Config.Remote.Kind {
	case cfg.BackendNative:
		root := string(Config.Remote.NativeDir)
		return native.New(root, native.DirReader{Root: root}), nil
	case cfg.BackendHelper:
		return helper.Start(context.Background(), Config.Remote.HelperPath, Config.Remote.HelperArgs, 0)
	default:
		// cfg.BackendGRPCRemote has no concrete remote.Client implementation
		// in this build (see DESIGN.md) -- nothing can construct one yet.
		return nil, fmt.Errorf("remote.kind %q is not wired in this build", Config.Remote.Kind)
	}
}

func newLocalStore() (localstore.Store, error) {
	switch Config.LocalStore.Engine {
	case cfg.StoreEngineMem:
		return localstore.NewMemEngine(), nil
	default:
		return localstore.OpenBoltEngine(string(Config.LocalStore.Path))
	}
}

func listenManagement() (net.Listener, error) {
	socketPath := string(Config.Management.SocketPath)
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on management socket %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, os.FileMode(Config.Management.SocketFileMode)); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod management socket: %w", err)
	}
	return l, nil
}
