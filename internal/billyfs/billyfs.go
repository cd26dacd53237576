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

// Package billyfs re-exports one attached AFP volume as a
// billy.Filesystem, so tooling built against billy (go-git and friends)
// can operate directly on the share.
package billyfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"afpbridge/internal/afpurl"
	"afpbridge/internal/common"
	"afpbridge/internal/proto"
	"afpbridge/internal/session"
)

// FS is a billy.Filesystem rooted at one volume. All paths are relative
// to the volume root.
type FS struct {
	sess *session.Manager
	base *afpurl.Locator
}

// New creates a filesystem over the volume named by volumeURL
// (afp://server/volume). The session is established lazily.
func New(sess *session.Manager, volumeURL string) (*FS, error) {
	loc, err := afpurl.Parse(volumeURL)
	if err != nil {
		return nil, err
	}
	if !loc.HasVolume {
		return nil, fmt.Errorf("no volume in %s", volumeURL)
	}
	return &FS{sess: sess, base: loc}, nil
}

// locFor derives a locator for an in-volume path.
func (fs *FS) locFor(name string) *afpurl.Locator {
	loc := *fs.base
	p := common.NormalizePath(name)
	loc.Path = p
	loc.HasPath = p != ""
	return &loc
}

// call runs fn against the attached volume, applying the same
// invalidate-and-retry-once policy as the operation executor.
func (fs *FS) call(loc *afpurl.Locator, fn func(vol proto.VolumeID) (proto.Code, error)) error {
	ctx := context.Background()
	if fail := fs.sess.EnsureAttached(ctx, loc); fail != nil {
		return fail
	}
	code, err := fn(fs.sess.State().Volume)
	code = proto.Normalize(code, err)
	if session.IsRecoverable(code) {
		fs.sess.Invalidate(fmt.Sprintf("recoverable result: %s", code))
		if fail := fs.sess.EnsureAttached(ctx, loc); fail != nil {
			return fail
		}
		code, err = fn(fs.sess.State().Volume)
		code = proto.Normalize(code, err)
	}
	return osError(code)
}

// osError folds a result code into the os error space billy callers
// expect.
func osError(code proto.Code) error {
	switch code {
	case proto.CodeOK:
		return nil
	case proto.CodeNotFound, proto.CodeNoVolume:
		return os.ErrNotExist
	case proto.CodeAccessDenied, proto.CodeAuthFailed:
		return os.ErrPermission
	case proto.CodeExists:
		return os.ErrExist
	default:
		return fmt.Errorf("remote error: %s", code)
	}
}

type fileInfo struct {
	name string
	info proto.NodeInfo
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.info.Size }
func (fi *fileInfo) Mode() os.FileMode {
	m := os.FileMode(fi.info.Mode & 0o777)
	if fi.info.IsDir {
		m |= os.ModeDir
	}
	return m
}
func (fi *fileInfo) ModTime() time.Time { return fi.info.ModTime }
func (fi *fileInfo) IsDir() bool        { return fi.info.IsDir }
func (fi *fileInfo) Sys() interface{}   { return nil }

func (fs *FS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
}

func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	loc := fs.locFor(filename)
	p := loc.ProtocolPath()
	var handle proto.FileID
	err := fs.call(loc, func(vol proto.VolumeID) (proto.Code, error) {
		client := fs.sess.Client()
		ctx := context.Background()
		code, _, err := client.Stat(ctx, vol, p)
		if err != nil {
			return code, err
		}
		switch code {
		case proto.CodeNotFound:
			if flag&os.O_CREATE == 0 {
				return proto.CodeNotFound, nil
			}
			if code, err := client.Create(ctx, vol, p, uint32(perm&0o777)); err != nil || code != proto.CodeOK {
				return code, err
			}
		case proto.CodeOK:
			if flag&os.O_TRUNC != 0 {
				if code, err := client.Truncate(ctx, vol, p, 0); err != nil || code != proto.CodeOK {
					return code, err
				}
			}
		default:
			return code, nil
		}
		mode := proto.OpenReadOnly
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_APPEND) != 0 {
			mode = proto.OpenReadWrite
		}
		c, f, err := client.Open(ctx, vol, p, mode)
		handle = f
		return c, err
	})
	if err != nil {
		return nil, err
	}
	f := &file{fs: fs, name: filename, loc: loc, handle: handle, vol: fs.sess.State().Volume}
	if flag&os.O_APPEND != 0 {
		if info, err := fs.Stat(filename); err == nil {
			f.offset = info.Size()
		}
	}
	return f, nil
}

func (fs *FS) Stat(filename string) (os.FileInfo, error) {
	loc := fs.locFor(filename)
	var info proto.NodeInfo
	err := fs.call(loc, func(vol proto.VolumeID) (proto.Code, error) {
		c, n, err := fs.sess.Client().Stat(context.Background(), vol, loc.ProtocolPath())
		info = n
		return c, err
	})
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: path.Base(loc.ProtocolPath()), info: info}, nil
}

func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	// No symlink distinction at the daemon boundary.
	return fs.Stat(filename)
}

func (fs *FS) Rename(oldpath, newpath string) error {
	from := fs.locFor(oldpath)
	to := fs.locFor(newpath)
	return fs.call(from, func(vol proto.VolumeID) (proto.Code, error) {
		return fs.sess.Client().Rename(context.Background(), vol, from.ProtocolPath(), to.ProtocolPath())
	})
}

func (fs *FS) Remove(filename string) error {
	loc := fs.locFor(filename)
	p := loc.ProtocolPath()
	return fs.call(loc, func(vol proto.VolumeID) (proto.Code, error) {
		client := fs.sess.Client()
		ctx := context.Background()
		code, info, err := client.Stat(ctx, vol, p)
		if err != nil || code != proto.CodeOK {
			return code, err
		}
		if info.IsDir {
			return client.Rmdir(ctx, vol, p)
		}
		return client.Unlink(ctx, vol, p)
	})
}

func (fs *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

func (fs *FS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

func (fs *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	loc := fs.locFor(dirname)
	var out []os.FileInfo
	err := fs.call(loc, func(vol proto.VolumeID) (proto.Code, error) {
		out = out[:0]
		client := fs.sess.Client()
		ctx := context.Background()
		start := 0
		for {
			code, nodes, eod, err := client.ReadDir(ctx, vol, loc.ProtocolPath(), start, 64)
			if err != nil || code != proto.CodeOK {
				return code, err
			}
			for _, n := range nodes {
				info := n
				out = append(out, &fileInfo{name: n.Name, info: info})
			}
			start += len(nodes)
			if eod || len(nodes) == 0 {
				return proto.CodeOK, nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *FS) MkdirAll(filename string, perm os.FileMode) error {
	segments := common.SplitPath(filename)
	cur := ""
	for _, seg := range segments {
		cur = cur + "/" + seg
		loc := fs.locFor(cur)
		err := fs.call(loc, func(vol proto.VolumeID) (proto.Code, error) {
			code, err := fs.sess.Client().Mkdir(context.Background(), vol, loc.ProtocolPath(), uint32(perm&0o777))
			if code == proto.CodeExists {
				code = proto.CodeOK
			}
			return code, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *FS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

func (fs *FS) Chroot(path string) (billy.Filesystem, error) {
	return nil, billy.ErrNotSupported
}

func (fs *FS) Root() string {
	return "/"
}

func (fs *FS) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// file is an open remote file with a tracked offset.
type file struct {
	fs     *FS
	name   string
	loc    *afpurl.Locator
	vol    proto.VolumeID
	handle proto.FileID
	offset int64
	closed bool
}

func (f *file) Name() string { return f.name }

func (f *file) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	code, data, eof, err := f.fs.sess.Client().Read(context.Background(), f.vol, f.handle, off, len(p))
	if err := osError(proto.Normalize(code, err)); err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n == 0 && (eof || len(data) == 0) {
		return 0, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	code, n, err := f.fs.sess.Client().Write(context.Background(), f.vol, f.handle, f.offset, p)
	if err := osError(proto.Normalize(code, err)); err != nil {
		return 0, err
	}
	f.offset += int64(n)
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		info, err := f.fs.Stat(f.name)
		if err != nil {
			return 0, err
		}
		f.offset = info.Size() + offset
	default:
		return 0, os.ErrInvalid
	}
	return f.offset, nil
}

func (f *file) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	code, err := f.fs.sess.Client().Close(context.Background(), f.vol, f.handle)
	return osError(proto.Normalize(code, err))
}

func (f *file) Truncate(size int64) error {
	return f.fs.call(f.loc, func(vol proto.VolumeID) (proto.Code, error) {
		return f.fs.sess.Client().Truncate(context.Background(), vol, f.loc.ProtocolPath(), size)
	})
}

func (f *file) Lock() error   { return nil }
func (f *file) Unlock() error { return nil }
