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
	"path"
	"strings"
)

// NormalizePath cleans an in-volume path and strips leading/trailing
// slashes, yielding the relative form used for routing decisions.
func NormalizePath(p string) string {
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// ProtocolPath returns the absolute in-volume form sent to the session
// daemon: always slash-prefixed, volume root as "/".
func ProtocolPath(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return "/"
	}
	return "/" + p
}

// SplitPath splits an in-volume path into its components.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ParentPath returns the parent of an in-volume path, "" for the root.
func ParentPath(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// BaseName returns the final component of an in-volume path.
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}
