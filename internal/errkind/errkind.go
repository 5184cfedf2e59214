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

// Package errkind gives every error surfaced by the daemon a small,
// closed set of kinds, so that callers at the FS channel and management
// boundaries can map failures to errno / RPC status without string
// matching.
package errkind

import "fmt"

// Kind is one of the closed set of error kinds a daemon operation can fail
// with.
type Kind int

const (
	NotFound Kind = iota
	Argument
	MountGenerationChanged
	JournalTruncated
	StoreCorrupt
	StoreIOError
	BackendUnavailable
	BackendTimeout
	BackendProtocol
	MissingProxyHash
	Cancelled
	AlreadyMounted
	NotMounted
	TakeoverInProgress
	Generic
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Argument:
		return "Argument"
	case MountGenerationChanged:
		return "MountGenerationChanged"
	case JournalTruncated:
		return "JournalTruncated"
	case StoreCorrupt:
		return "StoreCorrupt"
	case StoreIOError:
		return "StoreIOError"
	case BackendUnavailable:
		return "BackendUnavailable"
	case BackendTimeout:
		return "BackendTimeout"
	case BackendProtocol:
		return "BackendProtocol"
	case MissingProxyHash:
		return "MissingProxyHash"
	case Cancelled:
		return "Cancelled"
	case AlreadyMounted:
		return "AlreadyMounted"
	case NotMounted:
		return "NotMounted"
	case TakeoverInProgress:
		return "TakeoverInProgress"
	default:
		return "Generic"
	}
}

// Error wraps a Kind with a human-readable cause, following the teacher's
// fmt.Errorf("xxx: %v", err) wrapping convention but preserving the kind
// through the wrap chain.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func New(k Kind, detail string) *Error {
	return &Error{Kind: k, Detail: detail}
}

func Wrap(k Kind, detail string, cause error) *Error {
	return &Error{Kind: k, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from err, defaulting to Generic for errors that
// were never classified.
func KindOf(err error) Kind {
	if err == nil {
		return Kind(-1)
	}
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return Generic
}

// asError is a tiny indirection over errors.As so this file doesn't need to
// import "errors" just for one call site.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the importer pool should re-enqueue work that
// failed with this error, per §7/§5's bounded-retry rule.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case BackendTimeout, BackendUnavailable:
		return true
	default:
		return false
	}
}
