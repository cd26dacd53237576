// Copyright 2026 AFPBridge Authors
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

package common

import (
	"errors"
	"fmt"
)

// Kind is the failure class surfaced to the caller of an operation.
type Kind int

const (
	KindNone Kind = iota
	KindCanceled
	KindCannotConnect
	KindCannotMount
	KindAuthFailed
	KindDoesNotExist
	KindAccessDenied
	KindAlreadyExists
	KindIsDirectory
	KindCannotRead
	KindCannotWrite
	KindServerTimeout
	KindUnsupported
	KindDaemonUnreachable
	KindNotConnected
	KindNotAttached
	KindVolumeNotFound
	KindInternal
)

var kindNames = map[Kind]string{
	KindNone:              "none",
	KindCanceled:          "canceled",
	KindCannotConnect:     "cannot connect",
	KindCannotMount:       "cannot mount",
	KindAuthFailed:        "authentication failed",
	KindDoesNotExist:      "does not exist",
	KindAccessDenied:      "access denied",
	KindAlreadyExists:     "already exists",
	KindIsDirectory:       "is a directory",
	KindCannotRead:        "cannot read",
	KindCannotWrite:       "cannot write",
	KindServerTimeout:     "server timeout",
	KindUnsupported:       "unsupported action",
	KindDaemonUnreachable: "daemon unreachable",
	KindNotConnected:      "not connected",
	KindNotAttached:       "not attached",
	KindVolumeNotFound:    "volume not found",
	KindInternal:          "internal error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Failure is an operation outcome with a classified kind and a
// human-readable message carrying path/server context.
type Failure struct {
	Kind    Kind
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Newf builds a failure with a formatted message.
func Newf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error chain.
// Non-failure errors classify as internal; nil is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsCanceled reports whether the error is a user cancellation.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}
