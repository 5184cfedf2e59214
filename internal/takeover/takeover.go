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

// Package takeover implements the graceful-restart handoff protocol
// over /takeover (spec.md §5, §6): a successor process connects, the
// outgoing server pauses FS request dispatch (but keeps delivering FDs
// it already owns), sends a Bundle describing every live mount plus the
// kernel FDs backing them, then exits once the successor acknowledges.
//
// The frame wire format is internal/remote/helper/protocol.go's Frame
// reused as-is (fixed big-endian header + opaque payload) -- there is
// no reason for this rendezvous channel to invent a second framing
// scheme when one already exists in the pack for exactly this "small
// number of request/response messages over a byte-stream socket"
// shape. Command values are takeover's own, disjoint from helper's,
// since the two protocols never share a connection.
package takeover

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/remote/helper"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
)

// Command reuses helper.Frame's header shape; see package doc.
type Command = helper.Command

const (
	// CmdBundle carries the encoded Bundle as its frame's Data.
	CmdBundle Command = iota
	// CmdCommit is the successor's acknowledgement that it has
	// reclaimed every FD and is ready to serve; the outgoing process
	// exits once it receives this.
	CmdCommit
	// CmdAbort may be sent by either side to unwind the handoff
	// cleanly; the outgoing process resumes normal dispatch.
	CmdAbort
)

// MountSnapshot is one mount's takeover payload: enough for the
// successor to rebuild its InodeMap and MountPoint without an unmount
// (spec.md §5's "inode numbers are preserved; materialization bits are
// preserved; the Journal starts fresh").
type MountSnapshot struct {
	Name       string
	MountPoint string
	// CurrentRoot is RenderRootId's output, not a scmtypes.RootId
	// directly: RootId's backing field is unexported, which gob (the
	// Bundle's wire codec) cannot encode.
	CurrentRoot []byte
	Records     []inode.Record
	NextInode   scmtypes.InodeNumber
}

// NewMountSnapshot renders root for the wire; Root decodes it back.
func NewMountSnapshot(name, mountPoint string, root scmtypes.RootId, records []inode.Record, next scmtypes.InodeNumber) MountSnapshot {
	return MountSnapshot{Name: name, MountPoint: mountPoint, CurrentRoot: scmtypes.RenderRootId(root), Records: records, NextInode: next}
}

// Root decodes the snapshot's rendered root ID.
func (m MountSnapshot) Root() (scmtypes.RootId, error) {
	return scmtypes.ParseRootId(m.CurrentRoot)
}

// Bundle is everything sent in the CmdBundle frame. The kernel FDs
// themselves travel as SCM_RIGHTS ancillary data alongside this frame,
// not inside it (see socket.go); LockFDIndex/MgmtFDIndex/MountFDIndex
// say which ancillary FD (by position, in send order) plays which role.
type Bundle struct {
	Mounts       []MountSnapshot
	LockFDIndex  int
	MgmtFDIndex  int
	MountFDIndex []int // parallel to Mounts
}

// EncodeBundle serializes b for the CmdBundle frame's Data. gob, not a
// schema-driven codec: both ends of this connection are the same
// version-matched binary (the successor execs from the same path the
// outgoing process does), so there is exactly one producer and one
// consumer and no cross-version compatibility to design for.
func EncodeBundle(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encoding takeover bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("decoding takeover bundle: %w", err)
	}
	return b, nil
}

// WriteFrame and ReadFrame are helper.WriteFrame/ReadFrame, re-exported
// under takeover's own names so callers don't need to import helper
// directly for the common case.
func WriteFrame(w io.Writer, cmd Command, data []byte) error {
	return helper.WriteFrame(w, helper.Frame{Command: cmd, Data: data})
}

func ReadFrame(r io.Reader) (Command, []byte, error) {
	f, err := helper.ReadFrame(r)
	if err != nil {
		return 0, nil, err
	}
	return f.Command, f.Data, nil
}
