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

package takeover

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// SendFDs passes fds as SCM_RIGHTS ancillary data alongside a single
// marker byte on conn. There is no teacher or pack precedent for
// SCM_RIGHTS FD passing (gcsfuse never hands a mount off between
// processes); built directly against the documented golang.org/x/sys/unix
// API, the same "no pack precedent, build against the pinned
// dependency's documented surface" treatment used for internal/server's
// flock call and internal/fschannel's fuseops.ReadFileOp Dst/BytesRead
// fields.
func SendFDs(conn *net.UnixConn, fds []int) error {
	oob := unix.UnixRights(fds...)
	_, _, err := conn.WriteMsgUnix([]byte{0}, oob, nil)
	if err != nil {
		return fmt.Errorf("sending %d FDs: %w", len(fds), err)
	}
	return nil
}

// RecvFDs reads one SendFDs message and returns the FDs it carried, in
// the order the sender passed them to unix.UnixRights.
func RecvFDs(conn *net.UnixConn, maxFDs int) ([]int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("reading FD message: %w", err)
	}
	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parsing control message: %w", err)
	}
	var fds []int
	for _, scm := range scms {
		parsed, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return nil, fmt.Errorf("parsing unix rights: %w", err)
		}
		fds = append(fds, parsed...)
	}
	return fds, nil
}
