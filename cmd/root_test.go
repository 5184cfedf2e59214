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

import "testing"

func TestRootCmdHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"daemon", "mount", "unmount", "status"} {
		if !names[want] {
			t.Errorf("rootCmd missing subcommand %q", want)
		}
	}
}

func TestBindErrIsNil(t *testing.T) {
	// init() already ran BindFlags against rootCmd's persistent flags;
	// a non-nil bindErr here would mean every invocation fails before
	// PersistentPreRunE even checks it.
	if bindErr != nil {
		t.Fatalf("BindFlags failed at init: %v", bindErr)
	}
}
