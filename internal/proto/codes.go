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

package proto

// Code is the discrete result code returned by the AFP session daemon for
// every remote call. The daemon is treated as an opaque, partially
// unreliable RPC service; codes are the only contract.
type Code int

const (
	CodeOK Code = iota

	// Session-tier codes. The locally cached server or volume handle is
	// presumed stale, or the daemon itself is in a transient bad state.
	CodeNotConnected
	CodeNotAttached
	CodeDaemonError
	CodeNoServer
	CodeTimedOut

	// Terminal codes, surfaced directly after mapping.
	CodeAccessDenied
	CodeNotFound
	CodeExists
	CodeNoVolume
	CodeUnsupported
	CodeAuthFailed
	CodeIsDirectory
	CodeNotDirectory

	// Connect-time detail codes (the daemon's errno-style connect outcomes).
	CodeNoAddress
	CodeHostUnreachable
	CodeConnRefused
	CodeNetUnreachable

	// CodeAlreadyAttached is the attach-special "already mounted" outcome.
	// It is not an error: the existing volume handle is retrieved instead.
	CodeAlreadyAttached
)

var codeNames = map[Code]string{
	CodeOK:              "ok",
	CodeNotConnected:    "not connected",
	CodeNotAttached:     "not attached",
	CodeDaemonError:     "daemon error",
	CodeNoServer:        "no such server",
	CodeTimedOut:        "timed out",
	CodeAccessDenied:    "access denied",
	CodeNotFound:        "not found",
	CodeExists:          "already exists",
	CodeNoVolume:        "no such volume",
	CodeUnsupported:     "unsupported",
	CodeAuthFailed:      "authentication failed",
	CodeIsDirectory:     "is a directory",
	CodeNotDirectory:    "not a directory",
	CodeNoAddress:       "could not get address of server",
	CodeHostUnreachable: "no route to host",
	CodeConnRefused:     "connection refused",
	CodeNetUnreachable:  "server unreachable",
	CodeAlreadyAttached: "already attached",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Normalize folds a transport-level RPC error into the code space.
// A failed round trip to the daemon is indistinguishable from a daemon
// crash, so it classifies as a daemon error (session tier).
func Normalize(code Code, err error) Code {
	if err != nil {
		return CodeDaemonError
	}
	return code
}
