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

// Package afpurl parses afp:// resource locators into their server,
// credential, volume and path parts. Parsing is pure: no network access,
// no session state.
package afpurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"afpbridge/internal/common"
)

// Scheme is the only URL scheme this bridge accepts.
const Scheme = "afp"

// Locator is a parsed afp://[user[:pass]@]server[:port]/[volume[/path...]]
// resource locator. Constructed fresh per request; immutable except for
// credential backfill from a cached session.
//
// Invariant: HasPath implies HasVolume.
type Locator struct {
	Server   string
	Port     int // 0 = protocol default
	Username string
	Password string
	Volume   string
	Path     string // relative in-volume path, "" for volume root

	HasVolume bool
	HasPath   bool
}

// Parse resolves a raw locator string. The first path segment, if any, is
// the volume; remaining segments form the in-volume path.
func Parse(raw string) (*Locator, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid locator %q: %w", raw, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("locator %q has no server", raw)
	}

	loc := &Locator{Server: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q", raw)
		}
		loc.Port = port
	}
	if u.User != nil {
		loc.Username = u.User.Username()
		loc.Password, _ = u.User.Password()
	}

	segments := common.SplitPath(u.Path)
	if len(segments) > 0 {
		loc.Volume = segments[0]
		loc.HasVolume = true
	}
	if len(segments) > 1 {
		loc.Path = strings.Join(segments[1:], "/")
		loc.HasPath = true
	}
	return loc, nil
}

// ProtocolPath returns the in-volume path in the slash-prefixed form the
// session daemon expects; "/" for the volume root.
func (l *Locator) ProtocolPath() string {
	return common.ProtocolPath(l.Path)
}

// hostPart renders server[:port].
func (l *Locator) hostPart() string {
	if l.Port != 0 {
		return fmt.Sprintf("%s:%d", l.Server, l.Port)
	}
	return l.Server
}

// userPart renders user[:pass]@, empty when no username is set.
func (l *Locator) userPart() string {
	if l.Username == "" {
		return ""
	}
	u := url.User(l.Username)
	if l.Password != "" {
		u = url.UserPassword(l.Username, l.Password)
	}
	return u.String() + "@"
}

// ServerURL renders the locator down to the server, for connect calls.
func (l *Locator) ServerURL() string {
	return Scheme + "://" + l.userPart() + l.hostPart() + "/"
}

// VolumeURL renders the locator down to the volume, for attach and
// get-volume-id calls. Requires HasVolume.
func (l *Locator) VolumeURL() string {
	return Scheme + "://" + l.userPart() + l.hostPart() + "/" + url.PathEscape(l.Volume)
}

// String renders the full locator. The password is replaced with "***"
// so locators are safe to log.
func (l *Locator) String() string {
	s := Scheme + "://"
	if l.Username != "" {
		s += url.User(l.Username).String()
		if l.Password != "" {
			s += ":***"
		}
		s += "@"
	}
	s += l.hostPart()
	s += "/"
	if l.HasVolume {
		s += l.Volume
		if l.HasPath {
			s += "/" + l.Path
		}
	}
	return s
}
