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

package prototest

import (
	"context"
	"encoding/json"
	"net"

	"afpbridge/internal/proto"
)

// Serve accepts connections on l and answers the JSON wire protocol,
// dispatching into the in-memory daemon. It returns when the listener
// is closed. Run it in a goroutine.
func (d *Daemon) Serve(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go d.serveConn(conn)
	}
}

func (d *Daemon) serveConn(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req proto.Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := d.handle(&req)
		resp.ID = req.ID
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (d *Daemon) handle(req *proto.Request) *proto.Response {
	ctx := context.Background()
	resp := &proto.Response{}
	switch req.Op {
	case proto.OpConnect:
		reply, err := d.Connect(ctx, req.URL, req.UAMMask)
		if err != nil {
			resp.Code = proto.CodeDaemonError
			resp.Detail = err.Error()
			return resp
		}
		resp.Code = reply.Code
		resp.Server = reply.Server
		resp.LoginMessage = reply.LoginMessage
		resp.Detail = reply.Detail
	case proto.OpDisconnect:
		resp.Code, _ = d.Disconnect(ctx, req.Server)
	case proto.OpAttach:
		resp.Code, resp.Volume, _ = d.Attach(ctx, req.URL)
	case proto.OpGetVolumeID:
		resp.Code, resp.Volume, _ = d.GetVolumeID(ctx, req.URL)
	case proto.OpListVolumes:
		resp.Code, resp.Volumes, resp.EOD, _ = d.ListVolumes(ctx, req.Server, req.Start, req.Count)
	case proto.OpStat:
		code, node, _ := d.Stat(ctx, req.Volume, req.Path)
		resp.Code = code
		if code == proto.CodeOK {
			resp.Node = &node
		}
	case proto.OpReadDir:
		resp.Code, resp.Nodes, resp.EOD, _ = d.ReadDir(ctx, req.Volume, req.Path, req.Start, req.Count)
	case proto.OpOpen:
		resp.Code, resp.File, _ = d.Open(ctx, req.Volume, req.Path, req.Flags)
	case proto.OpRead:
		resp.Code, resp.Data, resp.EOD, _ = d.Read(ctx, req.Volume, req.File, req.Offset, req.Count)
	case proto.OpWrite:
		resp.Code, resp.N, _ = d.Write(ctx, req.Volume, req.File, req.Offset, req.Data)
	case proto.OpClose:
		resp.Code, _ = d.Close(ctx, req.Volume, req.File)
	case proto.OpCreate:
		resp.Code, _ = d.Create(ctx, req.Volume, req.Path, req.Mode)
	case proto.OpTruncate:
		resp.Code, _ = d.Truncate(ctx, req.Volume, req.Path, req.Size)
	case proto.OpMkdir:
		resp.Code, _ = d.Mkdir(ctx, req.Volume, req.Path, req.Mode)
	case proto.OpRmdir:
		resp.Code, _ = d.Rmdir(ctx, req.Volume, req.Path)
	case proto.OpUnlink:
		resp.Code, _ = d.Unlink(ctx, req.Volume, req.Path)
	case proto.OpRename:
		resp.Code, _ = d.Rename(ctx, req.Volume, req.From, req.To)
	case proto.OpChmod:
		resp.Code, _ = d.Chmod(ctx, req.Volume, req.Path, req.Mode)
	case proto.OpStatFS:
		code, fs, _ := d.StatFS(ctx, req.Volume)
		resp.Code = code
		if code == proto.CodeOK {
			resp.FS = &fs
		}
	default:
		resp.Code = proto.CodeUnsupported
		resp.Detail = "unknown operation: " + req.Op
	}
	return resp
}
