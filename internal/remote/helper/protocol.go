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

// Package helper implements remote.Backend against a long-lived helper
// subprocess speaking the framed binary protocol described in
// spec.md §4.7: fixed-layout big-endian headers over a pipe pair, with an
// ERROR flag for failure responses and a startup version/capability
// handshake.
package helper

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Command identifies the operation a frame requests.
type Command uint32

const (
	CmdHandshake Command = iota
	CmdGetTree
	CmdGetBlob
	CmdGetBlobMetadata
	CmdPrefetchBlobs
	CmdResolveRoot
	CmdImportManifest
)

// Flags is a bitset carried in every frame header.
type Flags uint32

const (
	FlagNone  Flags = 0
	FlagError Flags = 1 << 0
)

// ProtocolVersion is the version this implementation speaks; a helper
// reporting a different version during the handshake is a fatal
// mismatch (spec.md §4.7).
const ProtocolVersion uint32 = 1

// Frame is one request or response: a fixed header followed by
// data_length bytes of opaque payload (command-specific encodings live in
// this file and in helper.go).
type Frame struct {
	RequestID uint64
	Command   Command
	Flags     Flags
	Data      []byte
}

// ErrorPayload is the structure of Data when FlagError is set.
type ErrorPayload struct {
	ErrorType string
	Message   string
}

// WriteFrame writes the fixed header (request_id, command, flags,
// data_length), all big-endian, followed by Data.
func WriteFrame(w io.Writer, f Frame) error {
	var hdr [20]byte
	binary.BigEndian.PutUint64(hdr[0:8], f.RequestID)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(f.Command))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(f.Flags))
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(f.Data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing frame header: %v", err)
	}
	if len(f.Data) == 0 {
		return nil
	}
	if _, err := w.Write(f.Data); err != nil {
		return fmt.Errorf("writing frame data: %v", err)
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("reading frame header: %v", err)
	}
	f := Frame{
		RequestID: binary.BigEndian.Uint64(hdr[0:8]),
		Command:   Command(binary.BigEndian.Uint32(hdr[8:12])),
		Flags:     Flags(binary.BigEndian.Uint32(hdr[12:16])),
	}
	dataLen := binary.BigEndian.Uint32(hdr[16:20])
	if dataLen == 0 {
		return f, nil
	}
	f.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, f.Data); err != nil {
		return Frame{}, fmt.Errorf("reading frame data: %v", err)
	}
	return f, nil
}

// EncodeError packs (error_type_len, error_type, message_len, message)
// into a frame's Data per spec.md §4.7.
func EncodeError(p ErrorPayload) []byte {
	out := make([]byte, 0, 8+len(p.ErrorType)+len(p.Message))
	out = appendString(out, p.ErrorType)
	out = appendString(out, p.Message)
	return out
}

func DecodeError(data []byte) (ErrorPayload, error) {
	etype, rest, err := readString(data)
	if err != nil {
		return ErrorPayload{}, err
	}
	msg, rest, err := readString(rest)
	if err != nil {
		return ErrorPayload{}, err
	}
	if len(rest) != 0 {
		return ErrorPayload{}, fmt.Errorf("trailing bytes after error payload")
	}
	return ErrorPayload{ErrorType: etype, Message: msg}, nil
}

func appendString(out []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	out = append(out, lenBuf[:]...)
	out = append(out, s...)
	return out
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("truncated string length")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return "", nil, fmt.Errorf("truncated string body")
	}
	return string(b[:n]), b[n:], nil
}

// HandshakeRequest carries the caller's protocol version and requested
// capability flags.
type HandshakeRequest struct {
	Version      uint32
	Capabilities uint32
}

// HandshakeResponse is what the helper answers with; Version must match
// ProtocolVersion or the connection is torn down as fatal.
type HandshakeResponse struct {
	Version      uint32
	Capabilities uint32
}

func EncodeHandshakeRequest(h HandshakeRequest) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint32(buf[4:8], h.Capabilities)
	return buf[:]
}

func DecodeHandshakeResponse(data []byte) (HandshakeResponse, error) {
	if len(data) != 8 {
		return HandshakeResponse{}, fmt.Errorf("malformed handshake response: %d bytes", len(data))
	}
	return HandshakeResponse{
		Version:      binary.BigEndian.Uint32(data[0:4]),
		Capabilities: binary.BigEndian.Uint32(data[4:8]),
	}, nil
}
