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
	"testing"

	"github.com/scmfsd/scmfsd/cfg"
	"github.com/scmfsd/scmfsd/internal/localstore"
	"github.com/scmfsd/scmfsd/internal/remote/native"
)

func TestNewBackendNative(t *testing.T) {
	orig := Config.Remote
	defer func() { Config.Remote = orig }()

	Config.Remote = cfg.RemoteConfig{Kind: cfg.BackendNative, NativeDir: "/tmp/scmfsd-native-test"}
	backend, err := newBackend()
	if err != nil {
		t.Fatalf("newBackend returned error: %v", err)
	}
	if _, ok := backend.(*native.Backend); !ok {
		t.Errorf("got %T, want *native.Backend", backend)
	}
}

func TestNewBackendUnwiredGRPCRemote(t *testing.T) {
	orig := Config.Remote
	defer func() { Config.Remote = orig }()

	Config.Remote = cfg.RemoteConfig{Kind: cfg.BackendGRPCRemote, GRPCTarget: "example:443"}
	if _, err := newBackend(); err == nil {
		t.Error("expected an error: no concrete grpcremote.Client implementation exists in this build")
	}
}

func TestNewLocalStoreMem(t *testing.T) {
	orig := Config.LocalStore
	defer func() { Config.LocalStore = orig }()

	Config.LocalStore = cfg.LocalStoreConfig{Engine: cfg.StoreEngineMem}
	store, err := newLocalStore()
	if err != nil {
		t.Fatalf("newLocalStore returned error: %v", err)
	}
	if _, ok := store.(*localstore.MemEngine); !ok {
		t.Errorf("got %T, want *localstore.MemEngine", store)
	}
}
