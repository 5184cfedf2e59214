// Copyright 2024 Google Inc. All Rights Reserved.
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
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// hookFunc covers the Config field types whose UnmarshalText isn't enough
// on its own (Octal needs base-8 parsing before mapstructure ever sees an
// int; LogSeverity/StoreEngine need case-folding). ResolvedPath is handled
// entirely by its own UnmarshalText via TextUnmarshallerHookFunc below.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		switch t {
		case reflect.TypeOf(Octal(0)):
			return strconv.ParseInt(s, 8, 32)
		case reflect.TypeOf(LogSeverity("")):
			level := strings.ToUpper(s)
			if !slices.Contains([]string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"}, level) {
				return nil, fmt.Errorf("invalid logseverity: %s", s)
			}
			return level, nil
		case reflect.TypeOf(StoreEngine("")):
			engine := strings.ToLower(s)
			if !slices.Contains([]string{"mem", "bolt"}, engine) {
				return nil, fmt.Errorf("invalid local-store engine: %s", s)
			}
			return engine, nil
		case reflect.TypeOf(BackendKind("")):
			kind := strings.ToLower(s)
			if !slices.Contains([]string{"helper", "native", "grpcremote"}, kind) {
				return nil, fmt.Errorf("invalid remote backend kind: %s", s)
			}
			return kind, nil
		default:
			return data, nil
		}
	}
}

func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(), // default hook
		mapstructure.StringToSliceHookFunc(","),     // default hook
	)
}
