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

package cmd

import (
	"context"
	"fmt"

	"github.com/scmfsd/scmfsd/internal/mgmt"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/spf13/cobra"
)

var mountCmd = &cobra.Command{
	Use:   "mount <name> <mount-point> <root>",
	Short: "Ask the running daemon to materialize a working copy",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := scmtypes.ParseRootId([]byte(args[2]))
		if err != nil {
			return fmt.Errorf("parsing root %q: %w", args[2], err)
		}

		conn, err := dialManagement(string(Config.Management.SocketPath))
		if err != nil {
			return fmt.Errorf("%w (is `scmfsd daemon` running?)", err)
		}
		defer conn.Close()

		req := &mgmt.MountRequest{Name: args[0], MountPoint: args[1], Root: scmtypes.RenderRootId(root)}
		reply := &mgmt.MountReply{}
		if err := invokeManagement(context.Background(), conn, "Mount", req, reply); err != nil {
			return fmt.Errorf("Mount RPC: %w", err)
		}
		if reply.Err != "" {
			return fmt.Errorf("%s", reply.Err)
		}
		fmt.Printf("Mounted %q at %s.\n", args[0], args[1])
		return nil
	},
}
