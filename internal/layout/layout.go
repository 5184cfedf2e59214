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

// Package layout names the daemon's on-disk state directory (spec.md
// §6): one directory per daemon instance holding the lock file, the
// management and takeover rendezvous sockets, LocalStore data, and
// per-mount client directories.
package layout

import "path/filepath"

// Dir is the daemon's state directory.
type Dir string

func (d Dir) LockFile() string     { return filepath.Join(string(d), "lock") }
func (d Dir) Socket() string       { return filepath.Join(string(d), "socket") }
func (d Dir) TakeoverSocket() string { return filepath.Join(string(d), "takeover") }
func (d Dir) ConfigFile() string   { return filepath.Join(string(d), "config.json") }

// StorageDir returns the LocalStore data directory for the named
// storage engine (e.g. "bolt").
func (d Dir) StorageDir(engine string) string {
	return filepath.Join(string(d), "storage", engine)
}

// ClientDir returns the per-mount config and overlay storage directory
// for the named client.
func (d Dir) ClientDir(name string) string {
	return filepath.Join(string(d), "clients", name)
}

// OverlayDir is where name's materialized inode content and directory
// entries live.
func (d Dir) OverlayDir(name string) string {
	return filepath.Join(d.ClientDir(name), "overlay")
}
