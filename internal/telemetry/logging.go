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

// Package telemetry holds scmfsd's structured logging and metrics
// plumbing: the ambient stack every package reaches into regardless of
// which feature it implements.
package telemetry

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide structured logger. internal/server takes a
// logger as a config field and defaults it to Log; other packages
// (proxyhash, importer, remote/helper, cmd) log through Log directly.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// ConfigureFileOutput points Log at a rotated log file, the way the
// daemon does once it has parsed its on-disk layout and config.
func ConfigureFileOutput(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	Log = zerolog.New(w).With().Timestamp().Logger()
}

// RateLimitedLogger drops log events past a configured rate, used for
// invariant-violation events that could otherwise be triggered at high
// frequency by a misbehaving client (spec.md §4.3's missing-proxy-hash
// case is the prototypical caller).
type RateLimitedLogger struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// NewRateLimitedLogger allows at most one event per interval, with burst
// extra events permitted immediately.
func NewRateLimitedLogger(logger *zerolog.Logger, interval time.Duration, burst int) *RateLimitedLogger {
	return &RateLimitedLogger{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		logger:  logger,
	}
}

// Allow reports whether the caller should emit its log event now.
func (r *RateLimitedLogger) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.Allow()
}
