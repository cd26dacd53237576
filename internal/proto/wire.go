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

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Wire operation names. One request/response pair per call, JSON-framed
// over a unix domain socket.
const (
	OpConnect     = "connect"
	OpDisconnect  = "disconnect"
	OpAttach      = "attach"
	OpGetVolumeID = "get_volume_id"
	OpListVolumes = "list_volumes"
	OpStat        = "stat"
	OpReadDir     = "readdir"
	OpOpen        = "open"
	OpRead        = "read"
	OpWrite       = "write"
	OpClose       = "close"
	OpCreate      = "create"
	OpTruncate    = "truncate"
	OpMkdir       = "mkdir"
	OpRmdir       = "rmdir"
	OpUnlink      = "unlink"
	OpRename      = "rename"
	OpChmod       = "chmod"
	OpStatFS      = "statfs"
)

// Request is a wire request to the session daemon.
type Request struct {
	ID      string   `json:"id"`
	Op      string   `json:"op"`
	URL     string   `json:"url,omitempty"`
	UAMMask uint32   `json:"uam_mask,omitempty"`
	Server  ServerID `json:"server,omitempty"`
	Volume  VolumeID `json:"volume,omitempty"`
	File    FileID   `json:"file,omitempty"`
	Path    string   `json:"path,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Offset  int64    `json:"offset,omitempty"`
	Count   int      `json:"count,omitempty"`
	Start   int      `json:"start,omitempty"`
	Mode    uint32   `json:"mode,omitempty"`
	Flags   int      `json:"flags,omitempty"`
	Size    int64    `json:"size,omitempty"`
	Data    []byte   `json:"data,omitempty"`
}

// Response is a wire response from the session daemon.
type Response struct {
	ID           string       `json:"id"`
	Code         Code         `json:"code"`
	Server       ServerID     `json:"server,omitempty"`
	Volume       VolumeID     `json:"volume,omitempty"`
	File         FileID       `json:"file,omitempty"`
	LoginMessage string       `json:"login_message,omitempty"`
	Detail       string       `json:"detail,omitempty"`
	Node         *NodeInfo    `json:"node,omitempty"`
	Nodes        []NodeInfo   `json:"nodes,omitempty"`
	Volumes      []VolumeInfo `json:"volumes,omitempty"`
	EOD          bool         `json:"eod,omitempty"`
	Data         []byte       `json:"data,omitempty"`
	N            int          `json:"n,omitempty"`
	FS           *StatFSInfo  `json:"fs,omitempty"`
}

// noDeadline clears a previously set connection deadline.
var noDeadline time.Time

// SocketClient speaks the JSON wire protocol to the session daemon over a
// unix domain socket. Calls are serialized: one request in flight at a
// time, matching the single-threaded worker model.
type SocketClient struct {
	path string

	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial creates a client for the daemon socket at path. The connection is
// established lazily on first call.
func Dial(path string) *SocketClient {
	return &SocketClient{path: path}
}

// Reset drops the current connection. The next call redials. Used after a
// hard per-attempt timeout so an abandoned in-flight call can never leak
// its reply into a later request.
func (c *SocketClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

func (c *SocketClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.enc = nil
		c.dec = nil
	}
}

func (c *SocketClient) ensureLocked() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("dial session daemon: %w", err)
	}
	c.conn = conn
	c.enc = json.NewEncoder(conn)
	c.dec = json.NewDecoder(conn)
	return nil
}

// roundTrip sends one request and waits for its response. A transport
// failure drops the connection so the next call starts clean.
func (c *SocketClient) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}

	req.ID = uuid.New().String()
	deadline := noDeadline
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		// The connection is already dead; drop it so the next call
		// redials instead of failing on an opaque encode error.
		c.dropLocked()
		return nil, fmt.Errorf("set deadline for %s: %w", req.Op, err)
	}

	if err := c.enc.Encode(req); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("send %s: %w", req.Op, err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		c.dropLocked()
		if err == io.EOF {
			return nil, fmt.Errorf("session daemon closed connection")
		}
		return nil, fmt.Errorf("recv %s: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		// Out-of-sync stream, most likely a reply left over from an
		// abandoned call. Unusable.
		c.dropLocked()
		log.Warnf("[Proto] roundTrip: response id mismatch (op=%s)", req.Op)
		return nil, fmt.Errorf("session daemon response id mismatch")
	}
	return &resp, nil
}

func (c *SocketClient) Connect(ctx context.Context, url string, uamMask uint32) (ConnectReply, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpConnect, URL: url, UAMMask: uamMask})
	if err != nil {
		return ConnectReply{}, err
	}
	return ConnectReply{
		Code:         resp.Code,
		Server:       resp.Server,
		LoginMessage: resp.LoginMessage,
		Detail:       resp.Detail,
	}, nil
}

func (c *SocketClient) Disconnect(ctx context.Context, server ServerID) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpDisconnect, Server: server})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Attach(ctx context.Context, url string) (Code, VolumeID, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpAttach, URL: url})
	if err != nil {
		return 0, 0, err
	}
	return resp.Code, resp.Volume, nil
}

func (c *SocketClient) GetVolumeID(ctx context.Context, url string) (Code, VolumeID, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpGetVolumeID, URL: url})
	if err != nil {
		return 0, 0, err
	}
	return resp.Code, resp.Volume, nil
}

func (c *SocketClient) ListVolumes(ctx context.Context, server ServerID, start, count int) (Code, []VolumeInfo, bool, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpListVolumes, Server: server, Start: start, Count: count})
	if err != nil {
		return 0, nil, false, err
	}
	return resp.Code, resp.Volumes, resp.EOD, nil
}

func (c *SocketClient) Stat(ctx context.Context, vol VolumeID, path string) (Code, NodeInfo, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpStat, Volume: vol, Path: path})
	if err != nil {
		return 0, NodeInfo{}, err
	}
	var node NodeInfo
	if resp.Node != nil {
		node = *resp.Node
	}
	return resp.Code, node, nil
}

func (c *SocketClient) ReadDir(ctx context.Context, vol VolumeID, path string, start, count int) (Code, []NodeInfo, bool, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpReadDir, Volume: vol, Path: path, Start: start, Count: count})
	if err != nil {
		return 0, nil, false, err
	}
	return resp.Code, resp.Nodes, resp.EOD, nil
}

func (c *SocketClient) Open(ctx context.Context, vol VolumeID, path string, mode int) (Code, FileID, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpOpen, Volume: vol, Path: path, Flags: mode})
	if err != nil {
		return 0, 0, err
	}
	return resp.Code, resp.File, nil
}

func (c *SocketClient) Read(ctx context.Context, vol VolumeID, f FileID, off int64, n int) (Code, []byte, bool, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpRead, Volume: vol, File: f, Offset: off, Count: n})
	if err != nil {
		return 0, nil, false, err
	}
	return resp.Code, resp.Data, resp.EOD, nil
}

func (c *SocketClient) Write(ctx context.Context, vol VolumeID, f FileID, off int64, data []byte) (Code, int, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpWrite, Volume: vol, File: f, Offset: off, Data: data})
	if err != nil {
		return 0, 0, err
	}
	return resp.Code, resp.N, nil
}

func (c *SocketClient) Close(ctx context.Context, vol VolumeID, f FileID) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpClose, Volume: vol, File: f})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Create(ctx context.Context, vol VolumeID, path string, mode uint32) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpCreate, Volume: vol, Path: path, Mode: mode})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Truncate(ctx context.Context, vol VolumeID, path string, size int64) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpTruncate, Volume: vol, Path: path, Size: size})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Mkdir(ctx context.Context, vol VolumeID, path string, mode uint32) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpMkdir, Volume: vol, Path: path, Mode: mode})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Rmdir(ctx context.Context, vol VolumeID, path string) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpRmdir, Volume: vol, Path: path})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Unlink(ctx context.Context, vol VolumeID, path string) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpUnlink, Volume: vol, Path: path})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Rename(ctx context.Context, vol VolumeID, from, to string) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpRename, Volume: vol, From: from, To: to})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) Chmod(ctx context.Context, vol VolumeID, path string, mode uint32) (Code, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpChmod, Volume: vol, Path: path, Mode: mode})
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

func (c *SocketClient) StatFS(ctx context.Context, vol VolumeID) (Code, StatFSInfo, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpStatFS, Volume: vol})
	if err != nil {
		return 0, StatFSInfo{}, err
	}
	var fs StatFSInfo
	if resp.FS != nil {
		fs = *resp.FS
	}
	return resp.Code, fs, nil
}
