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

package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// HandleShutdownSignals blocks until SIGINT or SIGTERM arrives, then
// calls Shutdown and returns its error. Adapted from
// cmd/legacy_main.go's registerSIGINTHandler, generalized from a single
// unmount call to the whole registry's Shutdown.
func (s *Server) HandleShutdownSignals(ctx context.Context) error {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		s.cfg.Logger.Info().Stringer("signal", sig).Msg("received shutdown signal, unmounting all mounts")
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Shutdown(context.Background())
}
