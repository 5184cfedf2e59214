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

import (
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
)

func decode(t *testing.T, input map[string]interface{}, out interface{}) {
	t.Helper()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     out,
	})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if err := decoder.Decode(input); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestDecodeHookOctal(t *testing.T) {
	var cfg struct {
		Mode Octal
	}
	decode(t, map[string]interface{}{"Mode": "0600"}, &cfg)
	if cfg.Mode != 0600 {
		t.Errorf("got %v, want 0600", cfg.Mode)
	}
}

func TestDecodeHookLogSeverity(t *testing.T) {
	var cfg struct {
		Severity LogSeverity
	}
	decode(t, map[string]interface{}{"Severity": "trace"}, &cfg)
	if cfg.Severity != TraceLogSeverity {
		t.Errorf("got %v, want TRACE", cfg.Severity)
	}
}

func TestDecodeHookStoreEngine(t *testing.T) {
	var cfg struct {
		Engine StoreEngine
	}
	decode(t, map[string]interface{}{"Engine": "MEM"}, &cfg)
	if cfg.Engine != StoreEngineMem {
		t.Errorf("got %v, want mem", cfg.Engine)
	}
}

func TestDecodeHookResolvedPath(t *testing.T) {
	var cfg struct {
		Path ResolvedPath
	}
	decode(t, map[string]interface{}{"Path": "/var/lib/scmfsd"}, &cfg)
	if cfg.Path != "/var/lib/scmfsd" {
		t.Errorf("got %v, want /var/lib/scmfsd", cfg.Path)
	}
}

func TestDecodeHookDuration(t *testing.T) {
	var cfg struct {
		Interval time.Duration
	}
	decode(t, map[string]interface{}{"Interval": "5m"}, &cfg)
	if cfg.Interval != 5*time.Minute {
		t.Errorf("got %v, want 5m", cfg.Interval)
	}
}
