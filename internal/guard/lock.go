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

// Package guard provides the cross-process coordination primitives for
// connect attempts: an advisory file lock serializing the connect
// critical section across sibling worker processes, and a time-boxed
// circuit breaker that short-circuits connection attempts after repeated
// failures. Both are plain files in the per-user runtime directory; the
// unit of concurrency is processes, not goroutines.
package guard

import (
	"fmt"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// ConnectLock is the advisory mutex guarding a connect attempt, including
// its internal retry loop. It is deliberately released around interactive
// credential prompts so sibling processes are not blocked on user input.
type ConnectLock struct {
	fl *flock.Flock
}

// NewConnectLock creates a lock backed by the given file path.
func NewConnectLock(path string) *ConnectLock {
	return &ConnectLock{fl: flock.New(path)}
}

// Acquire blocks until the lock is held.
func (l *ConnectLock) Acquire() error {
	log.Debugf("[Guard] Acquire: waiting for %s", l.fl.Path())
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("failed to acquire connect lock: %w", err)
	}
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *ConnectLock) Release() {
	if err := l.fl.Unlock(); err != nil {
		log.Warnf("[Guard] Release: %v", err)
	}
}

// Locked reports whether this process currently holds the lock.
func (l *ConnectLock) Locked() bool {
	return l.fl.Locked()
}
