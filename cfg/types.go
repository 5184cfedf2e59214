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
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Octal is the datatype for params such as socket-file-mode which accept a
// base-8 value (spec.md's management socket permissions).
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text) /*base=*/, 8 /*bitSize=*/, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

func (o Octal) String() string {
	return fmt.Sprintf("%04o", int64(o))
}

// LogSeverity represents the logging severity and can accept the following
// values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and comparison.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank. Returns -1
// if the severity is unknown -- should not happen for a validated Config.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// StoreEngine selects the localstore.Store backing implementation
// (internal/localstore's mem/bolt engines).
type StoreEngine string

const (
	StoreEngineMem  StoreEngine = "mem"
	StoreEngineBolt StoreEngine = "bolt"
)

func (s *StoreEngine) UnmarshalText(text []byte) error {
	v := StoreEngine(strings.ToLower(string(text)))
	if !slices.Contains([]StoreEngine{StoreEngineMem, StoreEngineBolt}, v) {
		return fmt.Errorf("invalid local-store engine: %s. Must be one of [mem, bolt]", text)
	}
	*s = v
	return nil
}

// BackendKind selects which internal/remote sub-package backs the
// daemon's remote.Backend: a framed subprocess (helper), an in-process
// pack reader (native), or a gRPC client (grpcremote).
type BackendKind string

const (
	BackendHelper     BackendKind = "helper"
	BackendNative     BackendKind = "native"
	BackendGRPCRemote BackendKind = "grpcremote"
)

func (b *BackendKind) UnmarshalText(text []byte) error {
	v := BackendKind(strings.ToLower(string(text)))
	if !slices.Contains([]BackendKind{BackendHelper, BackendNative, BackendGRPCRemote}, v) {
		return fmt.Errorf("invalid remote backend kind: %s. Must be one of [helper, native, grpcremote]", text)
	}
	*b = v
	return nil
}

// ResolvedPath is an absolute, cleaned file-path -- every on-disk path in
// Config is declared as one so decode-time resolution (DecodeHook) and
// Rationalize never need to special-case a relative path downstream.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	resolved, err := resolvePath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(resolved)
	return nil
}

// resolvePath makes p absolute and cleans it, leaving "" untouched so an
// unset path field decodes to "" rather than the current working directory.
func resolvePath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", p, err)
	}
	return filepath.Clean(filepath.Join(wd, p)), nil
}
