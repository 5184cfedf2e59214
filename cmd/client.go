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

	// Imported for its init() side effect, which registers the gob codec
	// the management socket speaks (see internal/mgmt/codec.go).
	_ "github.com/scmfsd/scmfsd/internal/mgmt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// dialManagement connects to the daemon's management gRPC socket. The
// unix:// scheme and insecure transport are fine here: the socket's
// file permissions (management.socket-file-mode) are the access
// control, not TLS.
func dialManagement(socketPath string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing management socket %s: %w", socketPath, err)
	}
	return conn, nil
}

// invokeManagement calls one management RPC by name over conn, riding
// the gob codec internal/mgmt registers (see grpc.go's ServiceDesc).
func invokeManagement(ctx context.Context, conn *grpc.ClientConn, method string, req, reply any) error {
	fullMethod := fmt.Sprintf("/scmfsd.mgmt.Management/%s", method)
	return conn.Invoke(ctx, fullMethod, req, reply, grpc.CallContentSubtype("gob"))
}
