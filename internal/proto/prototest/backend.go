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

// Package prototest provides an in-memory stand-in for the AFP session
// daemon. It implements proto.Client directly for unit tests and can
// also serve the JSON wire protocol over a listener for end-to-end
// tests. Failure injection knobs simulate the daemon's known unreliable
// behaviors: stale handles, zero-handle successes, empty volume listings
// on fresh sessions, and connect stalls.
package prototest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"afpbridge/internal/afpurl"
	"afpbridge/internal/proto"
)

// node is one file or directory in a volume tree.
type node struct {
	name     string
	isDir    bool
	mode     uint32
	data     []byte
	modTime  time.Time
	children map[string]*node
}

// Volume is one exported share with an in-memory file tree.
type Volume struct {
	d    *Daemon
	name string
	root *node
}

// Server is one registered AFP server the daemon can connect to.
type Server struct {
	d            *Daemon
	name         string
	users        map[string]string // empty means guest access allowed
	loginMessage string
	volumes      map[string]*Volume
}

type session struct {
	srv *Server
}

type attachment struct {
	owner ServerID // session that created the attachment
	srv   *Server
	vol   *Volume
}

type openFile struct {
	vol VolumeID
	n   *node
}

type (
	// Aliases keep the signatures below readable.
	ServerID = proto.ServerID
	VolumeID = proto.VolumeID
	FileID   = proto.FileID
)

// Daemon is the fake session daemon. The zero value is not usable, call
// NewDaemon.
type Daemon struct {
	mu sync.Mutex

	servers     map[string]*Server
	sessions    map[ServerID]*session
	attachments map[VolumeID]*attachment
	files       map[FileID]*openFile
	nextServer  ServerID
	nextVolume  VolumeID
	nextFile    FileID

	calls map[string]int

	// Failure injection.
	queuedConnect     []proto.Code
	zeroHandleLeft    int
	emptyVolumesLeft  int
	failGetVolumeLeft int
	connectStall      time.Duration
}

// NewDaemon returns an empty fake daemon with no registered servers.
func NewDaemon() *Daemon {
	return &Daemon{
		servers:     make(map[string]*Server),
		sessions:    make(map[ServerID]*session),
		attachments: make(map[VolumeID]*attachment),
		files:       make(map[FileID]*openFile),
		calls:       make(map[string]int),
	}
}

// AddServer registers a guest-accessible server.
func (d *Daemon) AddServer(name string) *Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	srv := &Server{
		d:       d,
		name:    name,
		users:   make(map[string]string),
		volumes: make(map[string]*Volume),
	}
	d.servers[name] = srv
	return srv
}

// RequireAuth restricts the server to one username/password pair.
func (s *Server) RequireAuth(user, pass string) *Server {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.users[user] = pass
	return s
}

// SetLoginMessage sets the greeting returned on successful connects.
func (s *Server) SetLoginMessage(msg string) *Server {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.loginMessage = msg
	return s
}

// AddVolume registers an empty share on the server.
func (s *Server) AddVolume(name string) *Volume {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	vol := &Volume{
		d:    s.d,
		name: name,
		root: newDir(""),
	}
	s.volumes[name] = vol
	return vol
}

func newDir(name string) *node {
	return &node{
		name:     name,
		isDir:    true,
		mode:     0o755,
		modTime:  time.Now(),
		children: make(map[string]*node),
	}
}

// WriteFile creates or replaces a file inside the volume, creating
// parent directories as needed. Panics on an invalid path, it is a test
// fixture helper.
func (v *Volume) WriteFile(path string, data []byte, mode uint32) *Volume {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	dir := v.mkdirAllLocked(parentOf(path))
	name := baseOf(path)
	dir.children[name] = &node{
		name:    name,
		mode:    mode,
		data:    append([]byte(nil), data...),
		modTime: time.Now(),
	}
	return v
}

// MkdirAll creates a directory chain inside the volume.
func (v *Volume) MkdirAll(path string) *Volume {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	v.mkdirAllLocked(path)
	return v
}

// FileData returns the current contents of a file, or nil if absent.
func (v *Volume) FileData(path string) []byte {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	n := v.lookupLocked(path)
	if n == nil || n.isDir {
		return nil
	}
	return append([]byte(nil), n.data...)
}

// Exists reports whether a path is present in the volume.
func (v *Volume) Exists(path string) bool {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	return v.lookupLocked(path) != nil
}

func (v *Volume) mkdirAllLocked(path string) *node {
	cur := v.root
	for _, part := range splitPath(path) {
		child, ok := cur.children[part]
		if !ok {
			child = newDir(part)
			cur.children[part] = child
		}
		cur = child
	}
	return cur
}

func (v *Volume) lookupLocked(path string) *node {
	cur := v.root
	for _, part := range splitPath(path) {
		if !cur.isDir {
			return nil
		}
		child, ok := cur.children[part]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func parentOf(p string) string {
	parts := splitPath(p)
	if len(parts) <= 1 {
		return "/"
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/")
}

func baseOf(p string) string {
	parts := splitPath(p)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// --- Failure injection ---

// QueueConnect makes the next Connect calls return the given codes, in
// order, before any real connect handling runs.
func (d *Daemon) QueueConnect(codes ...proto.Code) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queuedConnect = append(d.queuedConnect, codes...)
}

// ZeroHandleConnects makes the next n successful Connect calls report
// CodeOK with a zero server handle.
func (d *Daemon) ZeroHandleConnects(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.zeroHandleLeft = n
}

// EmptyVolumeReplies makes the next n ListVolumes calls return an empty
// listing with EOD set, simulating a freshly connected server that has
// not populated its share list yet.
func (d *Daemon) EmptyVolumeReplies(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emptyVolumesLeft = n
}

// FailGetVolumeID makes the next n GetVolumeID calls fail with a daemon
// error, simulating the attach-desync condition.
func (d *Daemon) FailGetVolumeID(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failGetVolumeLeft = n
}

// StallConnect delays every Connect call by dur. Used to exercise the
// hard per-attempt timeout.
func (d *Daemon) StallConnect(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectStall = dur
}

// InvalidateHandles drops every live session, attachment and open file
// while keeping the ID counters, so previously issued handles now come
// back as stale.
func (d *Daemon) InvalidateHandles() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = make(map[ServerID]*session)
	d.attachments = make(map[VolumeID]*attachment)
	d.files = make(map[FileID]*openFile)
}

// Calls returns how many times the named wire operation has been
// received.
func (d *Daemon) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Sessions returns the number of live server sessions.
func (d *Daemon) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// OpenFiles returns the number of currently open file handles.
func (d *Daemon) OpenFiles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

func (d *Daemon) record(op string) {
	d.calls[op]++
}

// --- proto.Client ---

func (d *Daemon) Connect(ctx context.Context, rawURL string, uamMask uint32) (proto.ConnectReply, error) {
	d.mu.Lock()
	d.record(proto.OpConnect)
	stall := d.connectStall
	if len(d.queuedConnect) > 0 {
		code := d.queuedConnect[0]
		d.queuedConnect = d.queuedConnect[1:]
		d.mu.Unlock()
		return proto.ConnectReply{Code: code}, nil
	}
	d.mu.Unlock()

	if stall > 0 {
		select {
		case <-time.After(stall):
		case <-ctx.Done():
			return proto.ConnectReply{}, ctx.Err()
		}
	}

	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return proto.ConnectReply{Code: proto.CodeNoAddress}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	srv, ok := d.servers[loc.Server]
	if !ok {
		return proto.ConnectReply{Code: proto.CodeNoAddress}, nil
	}
	if len(srv.users) > 0 {
		pass, ok := srv.users[loc.Username]
		if !ok || pass != loc.Password {
			return proto.ConnectReply{Code: proto.CodeAuthFailed}, nil
		}
	}
	if d.zeroHandleLeft > 0 {
		d.zeroHandleLeft--
		return proto.ConnectReply{Code: proto.CodeOK, LoginMessage: srv.loginMessage}, nil
	}
	d.nextServer++
	d.sessions[d.nextServer] = &session{srv: srv}
	return proto.ConnectReply{
		Code:         proto.CodeOK,
		Server:       d.nextServer,
		LoginMessage: srv.loginMessage,
	}, nil
}

func (d *Daemon) Disconnect(ctx context.Context, server ServerID) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpDisconnect)
	if _, ok := d.sessions[server]; !ok {
		return proto.CodeNoServer, nil
	}
	delete(d.sessions, server)
	// Attachments are shared daemon-side state; only the ones created by
	// the departing session go away with it.
	for id, att := range d.attachments {
		if att.owner == server {
			delete(d.attachments, id)
		}
	}
	return proto.CodeOK, nil
}

func (d *Daemon) Attach(ctx context.Context, rawURL string) (proto.Code, VolumeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpAttach)
	owner, srv, vol, code := d.resolveVolumeLocked(rawURL)
	if code != proto.CodeOK {
		return code, 0, nil
	}
	for _, att := range d.attachments {
		if att.srv == srv && att.vol == vol {
			return proto.CodeAlreadyAttached, 0, nil
		}
	}
	d.nextVolume++
	d.attachments[d.nextVolume] = &attachment{owner: owner, srv: srv, vol: vol}
	return proto.CodeOK, d.nextVolume, nil
}

func (d *Daemon) GetVolumeID(ctx context.Context, rawURL string) (proto.Code, VolumeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpGetVolumeID)
	if d.failGetVolumeLeft > 0 {
		d.failGetVolumeLeft--
		return proto.CodeDaemonError, 0, nil
	}
	_, srv, vol, code := d.resolveVolumeLocked(rawURL)
	if code != proto.CodeOK {
		return code, 0, nil
	}
	for id, att := range d.attachments {
		if att.srv == srv && att.vol == vol {
			return proto.CodeOK, id, nil
		}
	}
	return proto.CodeNotAttached, 0, nil
}

// resolveVolumeLocked maps an afp:// URL to a connected session, its
// server, and one of the server's volumes.
func (d *Daemon) resolveVolumeLocked(rawURL string) (ServerID, *Server, *Volume, proto.Code) {
	loc, err := afpurl.Parse(rawURL)
	if err != nil || !loc.HasVolume {
		return 0, nil, nil, proto.CodeNoVolume
	}
	srv, ok := d.servers[loc.Server]
	if !ok {
		return 0, nil, nil, proto.CodeNoServer
	}
	var owner ServerID
	for id, sess := range d.sessions {
		if sess.srv == srv && id > owner {
			owner = id
		}
	}
	if owner == 0 {
		return 0, nil, nil, proto.CodeNotConnected
	}
	vol, ok := srv.volumes[loc.Volume]
	if !ok {
		return 0, nil, nil, proto.CodeNoVolume
	}
	return owner, srv, vol, proto.CodeOK
}

func (d *Daemon) ListVolumes(ctx context.Context, server ServerID, start, count int) (proto.Code, []proto.VolumeInfo, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpListVolumes)
	sess, ok := d.sessions[server]
	if !ok {
		return proto.CodeNotConnected, nil, false, nil
	}
	if d.emptyVolumesLeft > 0 {
		d.emptyVolumesLeft--
		return proto.CodeOK, nil, true, nil
	}
	names := make([]string, 0, len(sess.srv.volumes))
	for name := range sess.srv.volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	if start >= len(names) {
		return proto.CodeOK, nil, true, nil
	}
	end := start + count
	if end > len(names) {
		end = len(names)
	}
	out := make([]proto.VolumeInfo, 0, end-start)
	for _, name := range names[start:end] {
		out = append(out, proto.VolumeInfo{Name: name})
	}
	return proto.CodeOK, out, end == len(names), nil
}

// volumeLocked resolves an attached volume handle.
func (d *Daemon) volumeLocked(vol VolumeID) (*Volume, proto.Code) {
	att, ok := d.attachments[vol]
	if !ok {
		return nil, proto.CodeNotAttached
	}
	return att.vol, proto.CodeOK
}

func infoFor(n *node) proto.NodeInfo {
	return proto.NodeInfo{
		Name:    n.name,
		Size:    int64(len(n.data)),
		IsDir:   n.isDir,
		Mode:    n.mode,
		ModTime: n.modTime,
	}
}

func (d *Daemon) Stat(ctx context.Context, vol VolumeID, path string) (proto.Code, proto.NodeInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpStat)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, proto.NodeInfo{}, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, proto.NodeInfo{}, nil
	}
	info := infoFor(n)
	if n == v.root {
		info.Name = v.name
	}
	return proto.CodeOK, info, nil
}

func (d *Daemon) ReadDir(ctx context.Context, vol VolumeID, path string, start, count int) (proto.Code, []proto.NodeInfo, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpReadDir)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil, false, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, nil, false, nil
	}
	if !n.isDir {
		return proto.CodeNotDirectory, nil, false, nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	if start >= len(names) {
		return proto.CodeOK, nil, true, nil
	}
	end := start + count
	if end > len(names) {
		end = len(names)
	}
	out := make([]proto.NodeInfo, 0, end-start)
	for _, name := range names[start:end] {
		out = append(out, infoFor(n.children[name]))
	}
	return proto.CodeOK, out, end == len(names), nil
}

func (d *Daemon) Open(ctx context.Context, vol VolumeID, path string, mode int) (proto.Code, FileID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpOpen)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, 0, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, 0, nil
	}
	if n.isDir {
		return proto.CodeIsDirectory, 0, nil
	}
	d.nextFile++
	d.files[d.nextFile] = &openFile{vol: vol, n: n}
	return proto.CodeOK, d.nextFile, nil
}

func (d *Daemon) Read(ctx context.Context, vol VolumeID, f FileID, off int64, n int) (proto.Code, []byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpRead)
	of, ok := d.files[f]
	if !ok || of.vol != vol {
		return proto.CodeDaemonError, nil, false, nil
	}
	data := of.n.data
	if off >= int64(len(data)) {
		return proto.CodeOK, nil, true, nil
	}
	end := off + int64(n)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	chunk := append([]byte(nil), data[off:end]...)
	return proto.CodeOK, chunk, end == int64(len(data)), nil
}

func (d *Daemon) Write(ctx context.Context, vol VolumeID, f FileID, off int64, data []byte) (proto.Code, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpWrite)
	of, ok := d.files[f]
	if !ok || of.vol != vol {
		return proto.CodeDaemonError, 0, nil
	}
	need := off + int64(len(data))
	if need > int64(len(of.n.data)) {
		grown := make([]byte, need)
		copy(grown, of.n.data)
		of.n.data = grown
	}
	copy(of.n.data[off:], data)
	of.n.modTime = time.Now()
	return proto.CodeOK, len(data), nil
}

func (d *Daemon) Close(ctx context.Context, vol VolumeID, f FileID) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpClose)
	if _, ok := d.files[f]; !ok {
		return proto.CodeDaemonError, nil
	}
	delete(d.files, f)
	return proto.CodeOK, nil
}

func (d *Daemon) Create(ctx context.Context, vol VolumeID, path string, mode uint32) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpCreate)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	if v.lookupLocked(path) != nil {
		return proto.CodeExists, nil
	}
	parent := v.lookupLocked(parentOf(path))
	if parent == nil || !parent.isDir {
		return proto.CodeNotFound, nil
	}
	name := baseOf(path)
	parent.children[name] = &node{name: name, mode: mode, modTime: time.Now()}
	return proto.CodeOK, nil
}

func (d *Daemon) Truncate(ctx context.Context, vol VolumeID, path string, size int64) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpTruncate)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, nil
	}
	if n.isDir {
		return proto.CodeIsDirectory, nil
	}
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	n.modTime = time.Now()
	return proto.CodeOK, nil
}

func (d *Daemon) Mkdir(ctx context.Context, vol VolumeID, path string, mode uint32) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpMkdir)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	if v.lookupLocked(path) != nil {
		return proto.CodeExists, nil
	}
	parent := v.lookupLocked(parentOf(path))
	if parent == nil || !parent.isDir {
		return proto.CodeNotFound, nil
	}
	name := baseOf(path)
	dir := newDir(name)
	dir.mode = mode
	parent.children[name] = dir
	return proto.CodeOK, nil
}

func (d *Daemon) Rmdir(ctx context.Context, vol VolumeID, path string) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpRmdir)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, nil
	}
	if !n.isDir {
		return proto.CodeNotDirectory, nil
	}
	if len(n.children) > 0 {
		return proto.CodeAccessDenied, nil
	}
	parent := v.lookupLocked(parentOf(path))
	delete(parent.children, baseOf(path))
	return proto.CodeOK, nil
}

func (d *Daemon) Unlink(ctx context.Context, vol VolumeID, path string) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpUnlink)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, nil
	}
	if n.isDir {
		return proto.CodeIsDirectory, nil
	}
	parent := v.lookupLocked(parentOf(path))
	delete(parent.children, baseOf(path))
	return proto.CodeOK, nil
}

func (d *Daemon) Rename(ctx context.Context, vol VolumeID, from, to string) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpRename)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	n := v.lookupLocked(from)
	if n == nil {
		return proto.CodeNotFound, nil
	}
	toParent := v.lookupLocked(parentOf(to))
	if toParent == nil || !toParent.isDir {
		return proto.CodeNotFound, nil
	}
	fromParent := v.lookupLocked(parentOf(from))
	delete(fromParent.children, baseOf(from))
	n.name = baseOf(to)
	toParent.children[n.name] = n
	return proto.CodeOK, nil
}

func (d *Daemon) Chmod(ctx context.Context, vol VolumeID, path string, mode uint32) (proto.Code, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpChmod)
	v, code := d.volumeLocked(vol)
	if code != proto.CodeOK {
		return code, nil
	}
	n := v.lookupLocked(path)
	if n == nil {
		return proto.CodeNotFound, nil
	}
	n.mode = mode
	return proto.CodeOK, nil
}

func (d *Daemon) StatFS(ctx context.Context, vol VolumeID) (proto.Code, proto.StatFSInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(proto.OpStatFS)
	if _, code := d.volumeLocked(vol); code != proto.CodeOK {
		return code, proto.StatFSInfo{}, nil
	}
	return proto.CodeOK, proto.StatFSInfo{
		BlockSize:   4096,
		TotalBlocks: 1 << 20,
		FreeBlocks:  1 << 19,
	}, nil
}

var _ proto.Client = (*Daemon)(nil)
