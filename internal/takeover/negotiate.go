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
)

// Dispatcher is the narrow hook a Server exposes to its takeover
// negotiation (spec.md §9's "expose them to components only through
// injected handles" design note) -- Pause stops new FS requests from
// being accepted without unmounting anything; Resume undoes that if the
// handoff aborts.
type Dispatcher interface {
	Pause()
	Resume()
}

// Source is what Outgoing asks the Server for when it is time to
// describe every live mount.
type Source interface {
	Snapshots() []MountSnapshot
	// FD returns the kernel FUSE connection FD backing a mount, in
	// MountSnapshot.Name order.
	FD(name string) (int, error)
}

// Offer drives one outgoing handoff to completion over conn: pause
// dispatch, send the bundle and every FD, wait for the successor's
// commit, and report whether the handoff committed (true) or the
// successor aborted (false).
func Offer(conn *net.UnixConn, lockFD, mgmtListenFD int, disp Dispatcher, src Source) (bool, error) {
	disp.Pause()

	snapshots := src.Snapshots()
	mountFDs := make([]int, 0, len(snapshots))
	for _, s := range snapshots {
		fd, err := src.FD(s.Name)
		if err != nil {
			disp.Resume()
			return false, fmt.Errorf("getting FD for mount %q: %w", s.Name, err)
		}
		mountFDs = append(mountFDs, fd)
	}

	allFDs := append([]int{lockFD, mgmtListenFD}, mountFDs...)
	mountFDIndex := make([]int, len(mountFDs))
	for i := range mountFDs {
		mountFDIndex[i] = i + 2
	}

	bundle := Bundle{Mounts: snapshots, LockFDIndex: 0, MgmtFDIndex: 1, MountFDIndex: mountFDIndex}
	data, err := EncodeBundle(bundle)
	if err != nil {
		disp.Resume()
		return false, err
	}
	if err := WriteFrame(conn, CmdBundle, data); err != nil {
		disp.Resume()
		return false, err
	}
	if err := SendFDs(conn, allFDs); err != nil {
		disp.Resume()
		return false, err
	}

	cmd, _, err := ReadFrame(conn)
	if err != nil {
		disp.Resume()
		return false, err
	}
	if cmd == CmdAbort {
		disp.Resume()
		return false, nil
	}
	if cmd != CmdCommit {
		disp.Resume()
		return false, fmt.Errorf("unexpected takeover reply command %d", cmd)
	}
	return true, nil
}

// Accept is the successor's side: read the bundle and FDs a
// predecessor's Offer sent, then send CmdCommit to let it exit.
func Accept(conn *net.UnixConn) (Bundle, []int, error) {
	cmd, data, err := ReadFrame(conn)
	if err != nil {
		return Bundle{}, nil, err
	}
	if cmd != CmdBundle {
		return Bundle{}, nil, fmt.Errorf("expected CmdBundle, got command %d", cmd)
	}
	bundle, err := DecodeBundle(data)
	if err != nil {
		return Bundle{}, nil, err
	}

	fds, err := RecvFDs(conn, 2+len(bundle.Mounts))
	if err != nil {
		return Bundle{}, nil, err
	}

	if err := WriteFrame(conn, CmdCommit, nil); err != nil {
		return Bundle{}, nil, err
	}
	return bundle, fds, nil
}

// Abort tells an in-progress Offer to unwind without committing.
func Abort(conn *net.UnixConn) error {
	return WriteFrame(conn, CmdAbort, nil)
}
