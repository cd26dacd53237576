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

package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"afpbridge/internal/creds"
	"afpbridge/internal/proto"
	"afpbridge/internal/proto/prototest"
	"afpbridge/internal/session"
	"afpbridge/internal/util"
	"afpbridge/internal/worker"
)

// testEnv runs a fake session daemon on a real unix socket and wires a
// full client stack against it.
type testEnv struct {
	t        *testing.T
	Daemon   *prototest.Daemon
	Socket   string
	listener net.Listener
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AFPBRIDGE_CONFIG_DIR", filepath.Join(dir, "config"))
	t.Setenv("AFPBRIDGE_RUNTIME_DIR", filepath.Join(dir, "run"))

	env := &testEnv{
		t:      t,
		Daemon: prototest.NewDaemon(),
		Socket: filepath.Join(dir, "afpfsd.sock"),
	}
	env.start()
	t.Cleanup(env.Cleanup)
	return env
}

func (e *testEnv) start() {
	l, err := net.Listen("unix", e.Socket)
	if err != nil {
		e.t.Fatalf("listen on %s: %v", e.Socket, err)
	}
	e.listener = l
	go e.Daemon.Serve(l)

	cfg := util.DefaultPollConfig()
	cfg.Interval = 10 * time.Millisecond
	if err := util.PollUntil(context.Background(), cfg, func() bool {
		conn, err := net.Dial("unix", e.Socket)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}); err != nil {
		e.t.Fatalf("daemon socket %s never became ready: %v", e.Socket, err)
	}
}

// Restart closes the listening socket and serves a fresh daemon on the
// same path, as if afpfsd had crashed and been relaunched. All handles
// issued by the old daemon are gone.
func (e *testEnv) Restart() {
	e.listener.Close()
	os.Remove(e.Socket)
	e.Daemon = prototest.NewDaemon()
	e.start()
}

func (e *testEnv) Cleanup() {
	e.listener.Close()
}

// NewSession builds a socket-backed session manager, like one CLI
// process.
func (e *testEnv) NewSession(prompter creds.Prompter) *session.Manager {
	dir := e.t.TempDir()
	return session.NewManager(session.Options{
		Client:      proto.Dial(e.Socket),
		Prompter:    prompter,
		LockPath:    filepath.Join(dir, "connect.lock"),
		BreakerPath: filepath.Join(dir, "connect.breaker"),
		BackoffBase: 5 * time.Millisecond,
	})
}

// NewWorker builds a socket-backed worker stack on a fresh session.
func (e *testEnv) NewWorker(prompter creds.Prompter) *worker.Worker {
	return worker.New(e.NewSession(prompter))
}
