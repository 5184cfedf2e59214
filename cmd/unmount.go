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
	"github.com/spf13/cobra"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount <name>",
	Short: "Ask the running daemon to tear down a working copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dialManagement(string(Config.Management.SocketPath))
		if err != nil {
			return fmt.Errorf("%w (is `scmfsd daemon` running?)", err)
		}
		defer conn.Close()

		req := &mgmt.UnmountRequest{Name: args[0]}
		reply := &mgmt.UnmountReply{}
		if err := invokeManagement(context.Background(), conn, "Unmount", req, reply); err != nil {
			return fmt.Errorf("Unmount RPC: %w", err)
		}
		if reply.Err != "" {
			return fmt.Errorf("%s", reply.Err)
		}
		fmt.Printf("Unmounted %q.\n", args[0])
		return nil
	},
}
