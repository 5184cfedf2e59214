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

package layout

import (
	"encoding/json"
	"os"
)

// Registry is the persisted map path -> client name in config.json
// (spec.md §6). There is no teacher precedent for this file -- gcsfuse
// mounts exactly one bucket per process -- so it is a plain JSON map
// rather than modeled on any retrieved config-loading code.
type Registry struct {
	Mounts map[string]string `json:"mounts"`
}

// LoadRegistry reads config.json, returning an empty Registry if the
// file does not exist yet.
func (d Dir) LoadRegistry() (Registry, error) {
	data, err := os.ReadFile(d.ConfigFile())
	if os.IsNotExist(err) {
		return Registry{Mounts: map[string]string{}}, nil
	}
	if err != nil {
		return Registry{}, err
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return Registry{}, err
	}
	if r.Mounts == nil {
		r.Mounts = map[string]string{}
	}
	return r, nil
}

// Save writes the registry back to config.json.
func (r Registry) Save(d Dir) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.ConfigFile(), data, 0o600)
}
