package proto

import (
	"context"
	"time"
)

// ServerID is an opaque daemon-side identifier for a live server session.
// Zero means "no session".
type ServerID uint64

// VolumeID is an opaque daemon-side identifier for a live volume
// attachment. Zero means "not attached". Only valid while the owning
// ServerID is valid.
type VolumeID uint64

// FileID is an opaque daemon-side identifier for an open remote file.
type FileID uint64

// Open modes for Open. Read-write is used for writes even when only
// writing: some remote implementations reject write-only opens.
const (
	OpenReadOnly  = 0
	OpenReadWrite = 1
)

// DefaultUAMMask enables every user authentication method the daemon
// supports; the daemon negotiates the strongest one.
const DefaultUAMMask uint32 = 0xffff

// ConnectReply is the full outcome of a connect attempt.
type ConnectReply struct {
	Code         Code     `json:"code"`
	Server       ServerID `json:"server,omitempty"`
	LoginMessage string   `json:"login_message,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

// NodeInfo describes a remote file or directory.
type NodeInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	Mode    uint32    `json:"mode"`
	Owner   string    `json:"owner,omitempty"`
	Group   string    `json:"group,omitempty"`
	ModTime time.Time `json:"mtime"`
}

// VolumeInfo describes a share exported by a server.
type VolumeInfo struct {
	Name string `json:"name"`
}

// StatFSInfo reports volume capacity in blocks.
type StatFSInfo struct {
	BlockSize   uint32 `json:"block_size"`
	TotalBlocks uint64 `json:"total_blocks"`
	FreeBlocks  uint64 `json:"free_blocks"`
}

// Client is the downstream contract to the AFP session daemon. Every call
// returns a Code (the protocol outcome) plus a Go error for transport
// failures; callers normalize the pair with Normalize.
//
// URL-taking calls receive a full afp:// locator string; the daemon parses
// it itself, matching the legacy session library's interface.
type Client interface {
	Connect(ctx context.Context, url string, uamMask uint32) (ConnectReply, error)
	Disconnect(ctx context.Context, server ServerID) (Code, error)
	Attach(ctx context.Context, url string) (Code, VolumeID, error)
	GetVolumeID(ctx context.Context, url string) (Code, VolumeID, error)
	ListVolumes(ctx context.Context, server ServerID, start, count int) (Code, []VolumeInfo, bool, error)

	Stat(ctx context.Context, vol VolumeID, path string) (Code, NodeInfo, error)
	ReadDir(ctx context.Context, vol VolumeID, path string, start, count int) (Code, []NodeInfo, bool, error)
	Open(ctx context.Context, vol VolumeID, path string, mode int) (Code, FileID, error)
	Read(ctx context.Context, vol VolumeID, f FileID, off int64, n int) (Code, []byte, bool, error)
	Write(ctx context.Context, vol VolumeID, f FileID, off int64, data []byte) (Code, int, error)
	Close(ctx context.Context, vol VolumeID, f FileID) (Code, error)
	Create(ctx context.Context, vol VolumeID, path string, mode uint32) (Code, error)
	Truncate(ctx context.Context, vol VolumeID, path string, size int64) (Code, error)
	Mkdir(ctx context.Context, vol VolumeID, path string, mode uint32) (Code, error)
	Rmdir(ctx context.Context, vol VolumeID, path string) (Code, error)
	Unlink(ctx context.Context, vol VolumeID, path string) (Code, error)
	Rename(ctx context.Context, vol VolumeID, from, to string) (Code, error)
	Chmod(ctx context.Context, vol VolumeID, path string, mode uint32) (Code, error)
	StatFS(ctx context.Context, vol VolumeID) (Code, StatFSInfo, error)
}
