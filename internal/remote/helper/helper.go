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

package helper

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/remote"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/scmfsd/scmfsd/internal/telemetry"
)

// Backend drives a single long-lived subprocess over the framed protocol.
// Per spec.md §5, the helper is single-threaded. The importer pool shares
// one Backend across all its workers, so callMu serializes call: at most
// one request is outstanding at a time, whichever goroutine issued it.
type Backend struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	callMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan Frame
	readErr  error
	readOnce sync.Once
}

var _ remote.Backend = (*Backend)(nil)

// Start launches the helper at path with args, performs the startup
// handshake, and begins the background frame-reading loop. A version
// mismatch during the handshake is fatal.
func Start(ctx context.Context, path string, args []string, capabilities uint32) (*Backend, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, "opening helper stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, "opening helper stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, "starting helper subprocess", err)
	}

	b := &Backend{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		pending: make(map[uint64]chan Frame),
	}
	go b.readLoop()

	if err := b.handshake(capabilities); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) handshake(capabilities uint32) error {
	reply, err := b.call(CmdHandshake, EncodeHandshakeRequest(HandshakeRequest{
		Version:      ProtocolVersion,
		Capabilities: capabilities,
	}))
	if err != nil {
		return err
	}
	resp, err := DecodeHandshakeResponse(reply.Data)
	if err != nil {
		return errkind.Wrap(errkind.BackendProtocol, "decoding handshake response", err)
	}
	if resp.Version != ProtocolVersion {
		return errkind.New(errkind.BackendProtocol,
			fmt.Sprintf("helper protocol version mismatch: got %d, want %d", resp.Version, ProtocolVersion))
	}
	return nil
}

func (b *Backend) readLoop() {
	for {
		f, err := ReadFrame(b.stdout)
		if err != nil {
			b.mu.Lock()
			b.readErr = err
			pending := b.pending
			b.pending = nil
			b.mu.Unlock()
			for _, ch := range pending {
				close(ch)
			}
			return
		}
		b.mu.Lock()
		ch := b.pending[f.RequestID]
		delete(b.pending, f.RequestID)
		b.mu.Unlock()
		if ch != nil {
			ch <- f
			close(ch)
		}
	}
}

// call sends one frame and waits for its response. A caller that gets a
// BackendProtocol error from it should discard this Backend entirely
// rather than retry a call on it: a framing desync cannot be recovered
// mid-stream.
func (b *Backend) call(cmd Command, data []byte) (Frame, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()
	id := atomic.AddUint64(&b.nextID, 1)
	ch := make(chan Frame, 1)

	b.mu.Lock()
	if b.pending == nil {
		b.mu.Unlock()
		return Frame{}, errkind.Wrap(errkind.BackendUnavailable, "helper connection closed", b.readErr)
	}
	b.pending[id] = ch
	b.mu.Unlock()

	if err := WriteFrame(b.stdin, Frame{RequestID: id, Command: cmd, Data: data}); err != nil {
		return Frame{}, errkind.Wrap(errkind.BackendUnavailable, "writing to helper", err)
	}

	reply, ok := <-ch
	if !ok {
		return Frame{}, errkind.Wrap(errkind.BackendUnavailable, "helper connection closed while waiting", b.readErr)
	}
	if reply.Flags&FlagError != 0 {
		ep, err := DecodeError(reply.Data)
		if err != nil {
			return Frame{}, errkind.Wrap(errkind.BackendProtocol, "decoding helper error frame", err)
		}
		return Frame{}, errkind.New(errkind.BackendProtocol, ep.ErrorType+": "+ep.Message)
	}
	return reply, nil
}

func (b *Backend) GetTreeBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Tree]) error {
	for i, h := range hashes {
		reply, err := b.call(CmdGetTree, encodePathRev(h))
		if err != nil {
			promises[i].Fail(err)
			continue
		}
		promises[i].Resolve(decodeTreeReply(reply.Data))
	}
	return nil
}

func (b *Backend) GetBlobBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.Blob]) error {
	for i, h := range hashes {
		reply, err := b.call(CmdGetBlob, encodePathRev(h))
		if err != nil {
			promises[i].Fail(err)
			continue
		}
		promises[i].Resolve(scmtypes.Blob{Contents: reply.Data})
	}
	return nil
}

func (b *Backend) GetBlobMetadataBatch(ctx context.Context, ids []scmtypes.ObjectId, hashes []proxyhash.ProxyHash, promises []*remote.Promise[scmtypes.BlobMetadata]) error {
	for i, h := range hashes {
		reply, err := b.call(CmdGetBlobMetadata, encodePathRev(h))
		if err != nil {
			promises[i].Fail(err)
			continue
		}
		if len(reply.Data) != 8+sha1.Size {
			promises[i].Fail(errkind.New(errkind.BackendProtocol, "malformed blob metadata reply"))
			continue
		}
		var meta scmtypes.BlobMetadata
		copy(meta.Sha1[:], reply.Data[:sha1.Size])
		meta.Size = binary.BigEndian.Uint64(reply.Data[sha1.Size:])
		promises[i].Resolve(meta)
	}
	return nil
}

func (b *Backend) PrefetchBlobs(ctx context.Context, hashes []proxyhash.ProxyHash) error {
	for _, h := range hashes {
		if _, err := b.call(CmdPrefetchBlobs, encodePathRev(h)); err != nil {
			telemetry.Log.Warn().Err(err).Str("path", h.Path).Msg("helper prefetch failed")
		}
	}
	return nil
}

func (b *Backend) ResolveRoot(ctx context.Context, rootID scmtypes.RootId) (scmtypes.ObjectId, error) {
	reply, err := b.call(CmdResolveRoot, scmtypes.RenderRootId(rootID))
	if err != nil {
		return scmtypes.ZeroObjectId, err
	}
	id, err := scmtypes.ParseObjectId(string(reply.Data))
	if err != nil {
		return scmtypes.ZeroObjectId, errkind.Wrap(errkind.BackendProtocol, "decoding resolveRoot reply", err)
	}
	return id, nil
}

func (b *Backend) ImportManifestForRoot(ctx context.Context, rootID scmtypes.RootId, manifestID scmtypes.ObjectId) error {
	payload := append(scmtypes.RenderRootId(rootID), []byte(manifestID.String())...)
	_, err := b.call(CmdImportManifest, payload)
	return err
}

// Close terminates the helper subprocess and releases its pipes.
func (b *Backend) Close() error {
	b.stdin.Close()
	return b.cmd.Wait()
}

func encodePathRev(h proxyhash.ProxyHash) []byte {
	return appendString(appendString(nil, h.Path), h.RevHash)
}

func decodeTreeReply(data []byte) scmtypes.Tree {
	// Entries are encoded as a count followed by repeated
	// (name, id, type) records; malformed replies surface as an empty
	// tree, which Lookup treats as "not found" rather than panicking.
	if len(data) < 4 {
		return scmtypes.Tree{}
	}
	count := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	entries := make([]scmtypes.TreeEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		name, r, err := readString(rest)
		if err != nil {
			break
		}
		if len(r) < scmtypes.ObjectIdLen+1 {
			break
		}
		id := scmtypes.NewObjectId(r[:scmtypes.ObjectIdLen])
		typ := scmtypes.EntryType(r[scmtypes.ObjectIdLen])
		rest = r[scmtypes.ObjectIdLen+1:]
		entries = append(entries, scmtypes.TreeEntry{Name: name, Id: id, Type: typ})
	}
	tree, err := scmtypes.NewTree(entries)
	if err != nil {
		return scmtypes.Tree{}
	}
	return tree
}
