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

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the mounts the running daemon currently serves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dialManagement(string(Config.Management.SocketPath))
		if err != nil {
			return fmt.Errorf("%w (is `scmfsd daemon` running?)", err)
		}
		defer conn.Close()

		req := &mgmt.ListMountsRequest{}
		reply := &mgmt.ListMountsReply{}
		if err := invokeManagement(context.Background(), conn, "ListMounts", req, reply); err != nil {
			return fmt.Errorf("ListMounts RPC: %w", err)
		}
		if len(reply.Names) == 0 {
			fmt.Println("No mounts.")
			return nil
		}
		for _, name := range reply.Names {
			fmt.Println(name)
		}
		return nil
	},
}
