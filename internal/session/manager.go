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

// Package session owns the connection lifecycle state machine:
// Uninitialized -> LibraryReady -> Connected(server) -> Attached(server,
// volume), with invalidation back to LibraryReady. One Manager per
// process; protocol state is single-threaded in-process, while sibling
// processes coordinate through the guard package's connect lock and
// circuit breaker.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"

	"afpbridge/internal/afpurl"
	"afpbridge/internal/common"
	"afpbridge/internal/config"
	"afpbridge/internal/creds"
	"afpbridge/internal/guard"
	"afpbridge/internal/proto"
)

const (
	defaultConnectAttempts = 3
	defaultBackoffBase     = time.Second
	defaultAttemptTimeout  = 15 * time.Second
	defaultBreakerCooldown = 30 * time.Second
)

// State is the cached per-process session state. Volume is only valid
// while Server is valid; both are owned exclusively by the Manager.
type State struct {
	ServerName string
	Server     proto.ServerID
	VolumeName string
	Volume     proto.VolumeID
	Username   string
	Password   string
}

// transportResetter is implemented by transports whose connection must be
// poisoned after an abandoned call (proto.SocketClient).
type transportResetter interface {
	Reset()
}

// Options configures a Manager. Client and Prompter are required; zero
// durations and counts take the defaults above.
type Options struct {
	Client   proto.Client
	Prompter creds.Prompter
	Store    *creds.Store // optional persistent credential store

	LockPath    string
	BreakerPath string

	ConnectAttempts int
	BackoffBase     time.Duration
	AttemptTimeout  time.Duration
	BreakerCooldown time.Duration
}

// Manager is the connection lifecycle manager.
type Manager struct {
	client   proto.Client
	resetter transportResetter
	prompter creds.Prompter
	store    *creds.Store

	lock    *guard.ConnectLock
	breaker *guard.Breaker

	attempts       int
	backoffBase    time.Duration
	attemptTimeout time.Duration

	ready    sync.Once
	readyErr error

	state     State
	credCache map[string]creds.Credentials
}

// NewManager creates a Manager. Missing lock/breaker paths default to the
// per-user runtime directory.
func NewManager(opts Options) *Manager {
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = defaultConnectAttempts
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.BreakerCooldown == 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	if opts.LockPath == "" {
		opts.LockPath = config.ConnectLockPath()
	}
	if opts.BreakerPath == "" {
		opts.BreakerPath = config.BreakerPath()
	}
	m := &Manager{
		client:         opts.Client,
		prompter:       opts.Prompter,
		store:          opts.Store,
		lock:           guard.NewConnectLock(opts.LockPath),
		breaker:        guard.NewBreaker(opts.BreakerPath, opts.BreakerCooldown),
		attempts:       opts.ConnectAttempts,
		backoffBase:    opts.BackoffBase,
		attemptTimeout: opts.AttemptTimeout,
		credCache:      make(map[string]creds.Credentials),
	}
	if r, ok := opts.Client.(transportResetter); ok {
		m.resetter = r
	}
	return m
}

// State returns a copy of the cached session state.
func (m *Manager) State() State {
	return m.state
}

// Client exposes the downstream client for the operation executor.
func (m *Manager) Client() proto.Client {
	return m.client
}

// IsRecoverable reports whether a result code belongs to the recoverable
// session tier: the cached handle is presumed stale and it is safe to
// invalidate and retry the operation once.
func IsRecoverable(code proto.Code) bool {
	switch code {
	case proto.CodeNotConnected, proto.CodeNotAttached, proto.CodeDaemonError,
		proto.CodeNoServer, proto.CodeTimedOut:
		return true
	}
	return false
}

// EnsureReady performs the one-time process setup. Idempotent; never
// fails after the first success.
func (m *Manager) EnsureReady() error {
	m.ready.Do(func() {
		m.readyErr = config.EnsureDirs()
	})
	return m.readyErr
}

func credKey(server string, port int) string {
	return fmt.Sprintf("%s:%d", server, port)
}

// errPromptDeclined aborts the connect loop when the user cancels.
var errPromptDeclined = errors.New("credential prompt declined")

// connectError carries the last remote result code out of the retry loop
// so the exhausted-budget path can map it.
type connectError struct {
	code   proto.Code
	detail string
}

func (e *connectError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("connect failed: %s (%s)", e.code, e.detail)
	}
	return fmt.Sprintf("connect failed: %s", e.code)
}

// EnsureConnected guarantees a live session to the locator's server.
// Reuse of an existing same-server session performs no I/O; the locator's
// credential fields are backfilled from the cached session so later calls
// see consistent credentials.
func (m *Manager) EnsureConnected(ctx context.Context, loc *afpurl.Locator) *common.Failure {
	if err := m.EnsureReady(); err != nil {
		return common.Newf(common.KindInternal, "worker setup failed: %v", err)
	}

	if m.state.Server != 0 {
		if m.state.ServerName == loc.Server {
			if loc.Username == "" {
				loc.Username = m.state.Username
				loc.Password = m.state.Password
			}
			return nil
		}
		// Sessions are never shared across servers.
		m.dropSession(ctx, "switching servers")
	}

	cr, interactive, keep, fail := m.resolveCredentials(ctx, loc)
	if fail != nil {
		return fail
	}

	// Fail fast while a sibling process's breaker window is open.
	if tripped, remaining := m.breaker.Check(); tripped {
		return breakerFailure(loc.Server, remaining)
	}

	if err := m.lock.Acquire(); err != nil {
		return common.Newf(common.KindInternal, "connect lock: %v", err)
	}
	// Another process may have tripped the breaker while we waited.
	if tripped, remaining := m.breaker.Check(); tripped {
		m.lock.Release()
		return breakerFailure(loc.Server, remaining)
	}

	var reply proto.ConnectReply
	err := retry.Do(
		func() error {
			r, err := m.connectAttempt(ctx, loc, &cr, &interactive, &keep)
			if err != nil {
				return err
			}
			reply = r
			return nil
		},
		retry.Attempts(uint(m.attempts)),
		retry.Delay(m.backoffBase),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if errors.Is(err, errPromptDeclined) || common.IsCanceled(err) || errors.Is(err, context.Canceled) {
			m.lock.Release()
			return common.Newf(common.KindCanceled, "connection to %s canceled", loc.Server)
		}
		code := proto.CodeDaemonError
		var ce *connectError
		if errors.As(err, &ce) {
			code = ce.code
		}
		// Budget exhausted. Trip the breaker so siblings fail fast for
		// the cooldown window instead of repeating the slow timeouts.
		// An auth refusal is the server responding, not a server down;
		// it must not block sibling processes.
		if code != proto.CodeAuthFailed && code != proto.CodeAccessDenied {
			m.breaker.Trip()
		}
		m.lock.Release()
		log.Debugf("[Session] EnsureConnected: retries exhausted for %s: %v", loc.Server, err)
		return common.MapConnect(code, loc.Server)
	}

	m.breaker.Clear()
	m.lock.Release()

	m.state.ServerName = loc.Server
	m.state.Server = reply.Server
	m.state.Username = cr.Username
	m.state.Password = cr.Password
	loc.Username = cr.Username
	loc.Password = cr.Password
	m.credCache[credKey(loc.Server, loc.Port)] = cr
	if interactive && keep && m.store != nil {
		if err := m.store.Save(ctx, loc.Server, loc.Port, cr); err != nil {
			log.Warnf("[Session] EnsureConnected: saving credentials: %v", err)
		}
	}
	if reply.LoginMessage != "" {
		log.Infof("[Session] server %s says: %s", loc.Server, reply.LoginMessage)
	}
	log.Debugf("[Session] EnsureConnected: connected to %s (handle %d)", loc.Server, reply.Server)
	return nil
}

// connectAttempt performs one connect primitive call. Authentication
// failures are handled inside the attempt: the lock is released during
// the interactive re-prompt so sibling processes are not blocked on user
// input, and the re-prompt does not consume a retry budget slot.
func (m *Manager) connectAttempt(ctx context.Context, loc *afpurl.Locator, cr *creds.Credentials, interactive, keep *bool) (proto.ConnectReply, error) {
	for {
		url := connectURL(loc, *cr)
		reply, err := m.callConnect(ctx, url)
		code := proto.Normalize(reply.Code, err)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return proto.ConnectReply{}, retry.Unrecoverable(err)
		}
		if code == proto.CodeOK && reply.Server == 0 {
			// A success with no handle means daemon-side state is bad.
			code = proto.CodeDaemonError
		}
		switch code {
		case proto.CodeOK:
			return reply, nil
		case proto.CodeAuthFailed, proto.CodeAccessDenied:
			if m.prompter == nil {
				// Guest access was refused and there is nobody to ask
				// for credentials. Terminal, not worth more attempts.
				return proto.ConnectReply{}, retry.Unrecoverable(&connectError{code: code, detail: reply.Detail})
			}
			m.lock.Release()
			res, ok := m.prompter.Prompt(creds.PromptRequest{
				Server:    loc.Server,
				Port:      loc.Port,
				Comment:   fmt.Sprintf("AFP file server %s", loc.Server),
				Username:  cr.Username,
				ErrorNote: fmt.Sprintf("login incorrect on %s", loc.Server),
			})
			if !ok {
				return proto.ConnectReply{}, retry.Unrecoverable(errPromptDeclined)
			}
			if err := m.lock.Acquire(); err != nil {
				return proto.ConnectReply{}, retry.Unrecoverable(fmt.Errorf("connect lock: %w", err))
			}
			*cr = res.Credentials
			*interactive = true
			*keep = res.Keep
			continue
		default:
			return proto.ConnectReply{}, &connectError{code: code, detail: reply.Detail}
		}
	}
}

// callConnect runs the connect primitive under the hard per-attempt
// timeout. The remote library can hang; on expiry the call is abandoned
// and the transport poisoned so the stale in-flight reply can never be
// read by a later request.
func (m *Manager) callConnect(ctx context.Context, url string) (proto.ConnectReply, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
	defer cancel()

	type result struct {
		reply proto.ConnectReply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, err := m.client.Connect(callCtx, url, proto.DefaultUAMMask)
		ch <- result{reply, err}
	}()

	select {
	case res := <-ch:
		return res.reply, res.err
	case <-callCtx.Done():
		if m.resetter != nil {
			m.resetter.Reset()
		}
		if err := ctx.Err(); err != nil {
			return proto.ConnectReply{}, err
		}
		log.Warnf("[Session] callConnect: attempt timed out after %s", m.attemptTimeout)
		return proto.ConnectReply{Code: proto.CodeTimedOut}, nil
	}
}

// connectURL renders the server URL with the resolved credentials.
func connectURL(loc *afpurl.Locator, cr creds.Credentials) string {
	l := *loc
	l.Username = cr.Username
	l.Password = cr.Password
	return l.ServerURL()
}

func breakerFailure(server string, remaining time.Duration) *common.Failure {
	secs := int(remaining.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return common.Newf(common.KindCannotConnect,
		"server %s is not responding, try again in %d seconds", server, secs)
}

// resolveCredentials obtains credentials in priority order: locator,
// in-memory cache, persistent store, interactive prompt.
func (m *Manager) resolveCredentials(ctx context.Context, loc *afpurl.Locator) (cr creds.Credentials, interactive, keep bool, fail *common.Failure) {
	cr = creds.Credentials{Username: loc.Username, Password: loc.Password}
	if cr.Username != "" && cr.Password != "" {
		return cr, false, false, nil
	}
	if cached, ok := m.credCache[credKey(loc.Server, loc.Port)]; ok {
		if cr.Username == "" || cr.Username == cached.Username {
			return cached, false, false, nil
		}
	}
	if m.store != nil {
		stored, found, err := m.store.Lookup(ctx, loc.Server, loc.Port)
		if err != nil {
			log.Warnf("[Session] resolveCredentials: credential store: %v", err)
		} else if found && (cr.Username == "" || cr.Username == stored.Username) {
			return stored, false, false, nil
		}
	}
	if m.prompter == nil {
		// Guest access. The daemon decides whether to allow it.
		return cr, false, false, nil
	}
	res, ok := m.prompter.Prompt(creds.PromptRequest{
		Server:   loc.Server,
		Port:     loc.Port,
		Comment:  fmt.Sprintf("AFP file server %s", loc.Server),
		Username: cr.Username,
	})
	if !ok {
		return cr, false, false, common.Newf(common.KindCanceled, "connection to %s canceled", loc.Server)
	}
	return res.Credentials, true, res.Keep, nil
}

// EnsureAttached guarantees a live attachment to the locator's volume,
// connecting first when needed. A cached attachment to a different volume
// is dropped handle-only: volume attachment is shared daemon-side across
// processes, so an explicit detach against a possibly-mismatched URL
// risks corrupting sibling sessions.
func (m *Manager) EnsureAttached(ctx context.Context, loc *afpurl.Locator) *common.Failure {
	if !loc.HasVolume {
		return common.Newf(common.KindInternal, "no volume in %s", loc)
	}
	if fail := m.EnsureConnected(ctx, loc); fail != nil {
		return fail
	}

	if m.state.Volume != 0 {
		if m.state.VolumeName == loc.Volume {
			return nil
		}
		log.Debugf("[Session] EnsureAttached: dropping handle for volume %s", m.state.VolumeName)
		m.state.Volume = 0
		m.state.VolumeName = ""
	}

	code, vol, err := m.client.Attach(ctx, m.volumeURL(loc))
	code = proto.Normalize(code, err)

	if code == proto.CodeAlreadyAttached {
		code, vol = m.recoverAttachment(ctx, loc)
	}
	if code != proto.CodeOK {
		return mapAttach(code, loc)
	}

	m.state.Volume = vol
	m.state.VolumeName = loc.Volume
	log.Debugf("[Session] EnsureAttached: attached %s (handle %d)", loc.Volume, vol)
	return nil
}

// recoverAttachment resolves the "already attached" result by retrieving
// the existing handle. A failed retrieval is evidence of daemon-side
// desync: fully reconnect and attach again; if a sibling attached in the
// interim, the second retrieval resolves it.
func (m *Manager) recoverAttachment(ctx context.Context, loc *afpurl.Locator) (proto.Code, proto.VolumeID) {
	code, vol, err := m.client.GetVolumeID(ctx, m.volumeURL(loc))
	code = proto.Normalize(code, err)
	if code == proto.CodeOK {
		return code, vol
	}

	log.Warnf("[Session] recoverAttachment: stale attachment for %s, reconnecting", loc.Volume)
	m.Invalidate("attachment desync")
	if fail := m.EnsureConnected(ctx, loc); fail != nil {
		return proto.CodeNotConnected, 0
	}
	code, vol, err = m.client.Attach(ctx, m.volumeURL(loc))
	code = proto.Normalize(code, err)
	if code == proto.CodeAlreadyAttached {
		code, vol, err = m.client.GetVolumeID(ctx, m.volumeURL(loc))
		code = proto.Normalize(code, err)
	}
	return code, vol
}

// volumeURL renders the attach URL with the live session's credentials.
func (m *Manager) volumeURL(loc *afpurl.Locator) string {
	l := *loc
	l.Username = m.state.Username
	l.Password = m.state.Password
	return l.VolumeURL()
}

func mapAttach(code proto.Code, loc *afpurl.Locator) *common.Failure {
	switch code {
	case proto.CodeNoVolume, proto.CodeNotFound:
		return common.Newf(common.KindVolumeNotFound, "volume %s not found on %s", loc.Volume, loc.Server)
	case proto.CodeAccessDenied:
		return common.Newf(common.KindAccessDenied, "access denied to volume %s", loc.Volume)
	default:
		return common.Newf(common.KindCannotMount, "cannot mount volume %s on %s (%s)", loc.Volume, loc.Server, code)
	}
}

// Invalidate unconditionally disconnects and clears all cached session
// state. The operation executor calls it on any recoverable result code
// so the next operation re-establishes a clean session instead of
// reusing a presumed-stale handle.
func (m *Manager) Invalidate(reason string) {
	log.Debugf("[Session] Invalidate: %s", reason)
	m.dropSession(context.Background(), reason)
}

func (m *Manager) dropSession(ctx context.Context, reason string) {
	if m.state.Server != 0 {
		if code, err := m.client.Disconnect(ctx, m.state.Server); err != nil || code != proto.CodeOK {
			log.Debugf("[Session] dropSession: disconnect (%s): code=%v err=%v", reason, code, err)
		}
	}
	m.state = State{}
}
