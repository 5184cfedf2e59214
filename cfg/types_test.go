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

package cfg

import "testing"

func TestOctalUnmarshalText(t *testing.T) {
	var o Octal
	if err := o.UnmarshalText([]byte("0600")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if o != 0600 {
		t.Errorf("got %v, want 0600", o)
	}
}

func TestOctalString(t *testing.T) {
	o := Octal(0600)
	if got, want := o.String(), "0600"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestLogSeverityUnmarshalText(t *testing.T) {
	var l LogSeverity
	if err := l.UnmarshalText([]byte("debug")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if l != DebugLogSeverity {
		t.Errorf("got %v, want DEBUG", l)
	}
}

func TestLogSeverityUnmarshalTextInvalid(t *testing.T) {
	var l LogSeverity
	if err := l.UnmarshalText([]byte("VERBOSE")); err == nil {
		t.Error("expected error for invalid severity, got nil")
	}
}

func TestLogSeverityRank(t *testing.T) {
	if TraceLogSeverity.Rank() >= DebugLogSeverity.Rank() {
		t.Errorf("expected TRACE to rank below DEBUG")
	}
	if LogSeverity("bogus").Rank() != -1 {
		t.Errorf("expected unknown severity to rank -1")
	}
}

func TestStoreEngineUnmarshalText(t *testing.T) {
	var s StoreEngine
	if err := s.UnmarshalText([]byte("BOLT")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if s != StoreEngineBolt {
		t.Errorf("got %v, want bolt", s)
	}
}

func TestStoreEngineUnmarshalTextInvalid(t *testing.T) {
	var s StoreEngine
	if err := s.UnmarshalText([]byte("rocksdb")); err == nil {
		t.Error("expected error for invalid store engine, got nil")
	}
}

func TestBackendKindUnmarshalText(t *testing.T) {
	var b BackendKind
	if err := b.UnmarshalText([]byte("GRPCREMOTE")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if b != BackendGRPCRemote {
		t.Errorf("got %v, want grpcremote", b)
	}
}

func TestBackendKindUnmarshalTextInvalid(t *testing.T) {
	var b BackendKind
	if err := b.UnmarshalText([]byte("ftp")); err == nil {
		t.Error("expected error for invalid backend kind, got nil")
	}
}

func TestResolvedPathAbsolute(t *testing.T) {
	var p ResolvedPath
	if err := p.UnmarshalText([]byte("/var/lib/scmfsd")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if p != "/var/lib/scmfsd" {
		t.Errorf("got %q, want /var/lib/scmfsd", p)
	}
}

func TestResolvedPathEmpty(t *testing.T) {
	var p ResolvedPath
	if err := p.UnmarshalText([]byte("")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if p != "" {
		t.Errorf("got %q, want empty", p)
	}
}
