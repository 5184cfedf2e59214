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

// ServiceDesc below is a hand-registered grpc.ServiceDesc (SPEC_FULL.md's
// DOMAIN STACK note on internal/mgmt): google.golang.org/grpc is already a
// direct teacher dependency (it carries GCS's gRPC transport in the
// teacher), and reusing it here gets the management socket deadlines,
// cancellation propagation, and wire framing for free instead of hand-
// rolling a second RPC transport alongside internal/remote/helper's.
package mgmt

import (
	"context"
	"path"
	"time"

	"github.com/scmfsd/scmfsd/internal/inode"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/scmfsd/scmfsd/internal/mount"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// globMatcher implements mount.IgnoreMatcher against a flat pattern list
// sent over the wire, since a full ignore-file parser is out of scope
// (spec.md's Non-goals) but getScmStatus still needs something to call.
type globMatcher struct{ patterns []string }

func (g globMatcher) Match(p string) bool {
	for _, pat := range g.patterns {
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
	}
	return false
}

type MountRequest struct {
	Name, MountPoint string
	Root             []byte
}
type MountReply struct{ Err string }

type UnmountRequest struct{ Name string }
type UnmountReply struct{ Err string }

type ListMountsRequest struct{}
type ListMountsReply struct{ Names []string }

type JournalPositionRequest struct{ Name string }
type JournalPositionReply struct {
	Position journal.Position
	Err      string
}

type FilesChangedSinceRequest struct {
	Name string
	From journal.Position
}
type FilesChangedSinceReply struct {
	Summary journal.Summary
	Err     string
}

type GetSHA1Request struct {
	Name  string
	Paths []string
}

// sha1Result mirrors SHA1Result with Err rendered to a string: gob
// cannot encode the error interface (no concrete, exported type to
// decode back into), the same reason Reply structs elsewhere in this
// file carry an Err string rather than an error.
type sha1Result struct {
	Path string
	SHA1 scmtypes.ObjectId
	Err  string
}
type GetSHA1Reply struct{ Results []sha1Result }

type GetFileInformationRequest struct {
	Name  string
	Paths []string
}
type fileInfoResult struct {
	Path string
	Attr inode.Attributes
	Err  string
}
type GetFileInformationReply struct{ Results []fileInfoResult }

type CheckOutRevisionRequest struct {
	Name   string
	Target []byte
	Mode   mount.Mode
}
type CheckOutRevisionReply struct {
	Result mount.Result
	Err    string
}

type ResetParentCommitsRequest struct {
	Name   string
	Target []byte
}
type ResetParentCommitsReply struct{ Err string }

type GetScmStatusRequest struct {
	Name          string
	IgnorePattern []string
}
type GetScmStatusReply struct {
	Result mount.DiffResult
	Err    string
}

type GlobFilesRequest struct{ Name, Pattern string }
type GlobFilesReply struct {
	Paths []string
	Err   string
}

type PrefetchRequest struct {
	Name  string
	Paths []string
}
type PrefetchReply struct{ Err string }

type UnloadInodesRequest struct {
	Name         string
	CutoffMillis int64
}
type UnloadInodesReply struct {
	Unloaded int
	Err      string
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func rootFromBytes(b []byte) (scmtypes.RootId, error) {
	if len(b) == 0 {
		return scmtypes.RootId{}, nil
	}
	return scmtypes.ParseRootId(b)
}

func mountHandler(ctx context.Context, s *Service, req *MountRequest) (any, error) {
	root, err := rootFromBytes(req.Root)
	if err != nil {
		return &MountReply{Err: err.Error()}, nil
	}
	if err := s.Mount(ctx, req.Name, req.MountPoint, root); err != nil {
		return &MountReply{Err: err.Error()}, nil
	}
	return &MountReply{}, nil
}

func unmountHandler(ctx context.Context, s *Service, req *UnmountRequest) (any, error) {
	return &UnmountReply{Err: errString(s.Unmount(ctx, req.Name))}, nil
}

func listMountsHandler(_ context.Context, s *Service, _ *ListMountsRequest) (any, error) {
	return &ListMountsReply{Names: s.ListMounts()}, nil
}

func journalPositionHandler(_ context.Context, s *Service, req *JournalPositionRequest) (any, error) {
	pos, err := s.GetCurrentJournalPosition(req.Name)
	return &JournalPositionReply{Position: pos, Err: errString(err)}, nil
}

func filesChangedSinceHandler(_ context.Context, s *Service, req *FilesChangedSinceRequest) (any, error) {
	summary, err := s.GetFilesChangedSince(req.Name, req.From)
	return &FilesChangedSinceReply{Summary: summary, Err: errString(err)}, nil
}

func getSHA1Handler(ctx context.Context, s *Service, req *GetSHA1Request) (any, error) {
	results, err := s.GetSHA1(ctx, req.Name, req.Paths)
	if err != nil {
		return &GetSHA1Reply{}, err
	}
	wire := make([]sha1Result, len(results))
	for i, r := range results {
		wire[i] = sha1Result{Path: r.Path, SHA1: r.SHA1, Err: errString(r.Err)}
	}
	return &GetSHA1Reply{Results: wire}, nil
}

func getFileInformationHandler(ctx context.Context, s *Service, req *GetFileInformationRequest) (any, error) {
	results, err := s.GetFileInformation(ctx, req.Name, req.Paths)
	if err != nil {
		return &GetFileInformationReply{}, err
	}
	wire := make([]fileInfoResult, len(results))
	for i, r := range results {
		wire[i] = fileInfoResult{Path: r.Path, Attr: r.Attr, Err: errString(r.Err)}
	}
	return &GetFileInformationReply{Results: wire}, nil
}

func checkOutRevisionHandler(ctx context.Context, s *Service, req *CheckOutRevisionRequest) (any, error) {
	target, err := rootFromBytes(req.Target)
	if err != nil {
		return &CheckOutRevisionReply{Err: err.Error()}, nil
	}
	result, err := s.CheckOutRevision(ctx, req.Name, target, req.Mode)
	return &CheckOutRevisionReply{Result: result, Err: errString(err)}, nil
}

func resetParentCommitsHandler(_ context.Context, s *Service, req *ResetParentCommitsRequest) (any, error) {
	target, err := rootFromBytes(req.Target)
	if err != nil {
		return &ResetParentCommitsReply{Err: err.Error()}, nil
	}
	return &ResetParentCommitsReply{Err: errString(s.ResetParentCommits(req.Name, target))}, nil
}

func getScmStatusHandler(ctx context.Context, s *Service, req *GetScmStatusRequest) (any, error) {
	var matcher mount.IgnoreMatcher
	if len(req.IgnorePattern) > 0 {
		matcher = globMatcher{patterns: req.IgnorePattern}
	}
	result, err := s.GetScmStatus(ctx, req.Name, matcher)
	return &GetScmStatusReply{Result: result, Err: errString(err)}, nil
}

func globFilesHandler(ctx context.Context, s *Service, req *GlobFilesRequest) (any, error) {
	paths, err := s.GlobFiles(ctx, req.Name, req.Pattern)
	return &GlobFilesReply{Paths: paths, Err: errString(err)}, nil
}

func prefetchHandler(ctx context.Context, s *Service, req *PrefetchRequest) (any, error) {
	return &PrefetchReply{Err: errString(s.Prefetch(ctx, req.Name, req.Paths))}, nil
}

func unloadInodesHandler(_ context.Context, s *Service, req *UnloadInodesRequest) (any, error) {
	n, err := s.UnloadInodes(req.Name, time.Duration(req.CutoffMillis)*time.Millisecond)
	return &UnloadInodesReply{Unloaded: n, Err: errString(err)}, nil
}

// ServiceDesc registers every management RPC against grpc.Server; the
// management listener (cmd, not built here) calls
// grpcServer.RegisterService(&mgmt.ServiceDesc, mgmt.New(srv)).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "scmfsd.mgmt.Management",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Mount", Handler: adaptHandler(mountHandler)},
		{MethodName: "Unmount", Handler: adaptHandler(unmountHandler)},
		{MethodName: "ListMounts", Handler: adaptHandler(listMountsHandler)},
		{MethodName: "GetCurrentJournalPosition", Handler: adaptHandler(journalPositionHandler)},
		{MethodName: "GetFilesChangedSince", Handler: adaptHandler(filesChangedSinceHandler)},
		{MethodName: "GetSHA1", Handler: adaptHandler(getSHA1Handler)},
		{MethodName: "GetFileInformation", Handler: adaptHandler(getFileInformationHandler)},
		{MethodName: "CheckOutRevision", Handler: adaptHandler(checkOutRevisionHandler)},
		{MethodName: "ResetParentCommits", Handler: adaptHandler(resetParentCommitsHandler)},
		{MethodName: "GetScmStatus", Handler: adaptHandler(getScmStatusHandler)},
		{MethodName: "GlobFiles", Handler: adaptHandler(globFilesHandler)},
		{MethodName: "Prefetch", Handler: adaptHandler(prefetchHandler)},
		{MethodName: "UnloadInodes", Handler: adaptHandler(unloadInodesHandler)},
	},
	Metadata: "internal/mgmt/mgmt.go",
}

// adaptHandler binds one of the per-RPC functions above into the
// grpc.MethodDesc.Handler shape grpc.Server expects; Req is inferred
// from fn, standing in for the per-method request type codegen would
// normally supply.
func adaptHandler[Req any](fn func(context.Context, *Service, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		s := srv.(*Service)
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, s, req)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: ServiceDesc.ServiceName}
		handler := func(ctx context.Context, req any) (any, error) { return fn(ctx, s, req.(*Req)) }
		return interceptor(ctx, req, info, handler)
	}
}

