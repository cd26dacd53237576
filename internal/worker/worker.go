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

// Package worker implements the filesystem verbs. Every verb follows the
// same shape: resolve the locator, ensure a usable session (attached for
// volume-scoped verbs, connected for server-scoped ones), issue the
// remote calls, and on a recoverable result code invalidate the session
// and retry the verb body exactly once before mapping the outcome.
package worker

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"afpbridge/internal/afpurl"
	"afpbridge/internal/common"
	"afpbridge/internal/proto"
	"afpbridge/internal/session"
)

const (
	listBatchSize = 64
	chunkSize     = 64 * 1024

	// DefaultFileMode is applied when put receives no explicit mode.
	DefaultFileMode uint32 = 0o644
	defaultDirMode  uint32 = 0o755

	// volumeListRetryDelay is how long to wait before re-listing volumes
	// when a freshly started daemon reports an empty share list.
	volumeListRetryDelay = time.Second
)

const dirMIME = "inode/directory"

// Entry is one directory or stat record pushed to the dispatcher.
type Entry struct {
	Name    string
	Size    int64
	IsDir   bool
	Mode    uint32
	Owner   string
	Group   string
	ModTime time.Time
	MIME    string
}

// Dispatcher is the upstream collaborator a verb reports into: entries
// for stat/list, byte chunks for get (push) and put (pull), and
// progress.
type Dispatcher interface {
	TotalSize(n int64)
	Data(p []byte)
	DataRequest() []byte
	Entry(e Entry)
	Processed(n int64)
}

// Worker executes filesystem verbs against one session manager.
type Worker struct {
	sess *session.Manager

	listRetryDelay time.Duration
}

// New creates a Worker on top of a session manager.
func New(sess *session.Manager) *Worker {
	return &Worker{sess: sess, listRetryDelay: volumeListRetryDelay}
}

func mimeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func entryFor(info proto.NodeInfo) Entry {
	e := Entry{
		Name:    info.Name,
		Size:    info.Size,
		IsDir:   info.IsDir,
		Mode:    info.Mode,
		Owner:   info.Owner,
		Group:   info.Group,
		ModTime: info.ModTime,
	}
	if info.IsDir {
		e.MIME = dirMIME
	} else {
		e.MIME = mimeFor(info.Name)
	}
	return e
}

func syntheticDir(name string) Entry {
	return Entry{
		Name:    name,
		IsDir:   true,
		Mode:    defaultDirMode,
		ModTime: time.Now(),
		MIME:    dirMIME,
	}
}

// withVolume runs fn with the attached volume handle, applying the
// invalidate-and-retry-once policy on recoverable result codes. The
// returned code is the final one; fn may be executed twice.
func (w *Worker) withVolume(ctx context.Context, loc *afpurl.Locator, fn func(vol proto.VolumeID) (proto.Code, error)) (proto.Code, *common.Failure) {
	if fail := w.sess.EnsureAttached(ctx, loc); fail != nil {
		return proto.CodeDaemonError, fail
	}
	code, err := fn(w.sess.State().Volume)
	code = proto.Normalize(code, err)
	if session.IsRecoverable(code) {
		w.sess.Invalidate(fmt.Sprintf("recoverable result: %s", code))
		if fail := w.sess.EnsureAttached(ctx, loc); fail != nil {
			return proto.CodeDaemonError, fail
		}
		code, err = fn(w.sess.State().Volume)
		code = proto.Normalize(code, err)
	}
	return code, nil
}

// Stat reports a single entry for the locator.
func (w *Worker) Stat(ctx context.Context, d Dispatcher, rawURL string) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}

	// The server root is answered synthetically, without touching the
	// network: the entry only routes further navigation.
	if !loc.HasVolume {
		d.Entry(syntheticDir(loc.Server))
		return nil
	}

	var info proto.NodeInfo
	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		c, n, err := w.sess.Client().Stat(ctx, vol, loc.ProtocolPath())
		info = n
		return c, err
	})

	if !loc.HasPath {
		// Volume root: a real stat gives accurate permission bits, but a
		// failed attachment still yields a browsable synthetic entry.
		if fail != nil || code != proto.CodeOK {
			d.Entry(syntheticDir(loc.Volume))
			return nil
		}
		e := entryFor(info)
		e.Name = loc.Volume
		d.Entry(e)
		return nil
	}

	if fail != nil {
		return fail
	}
	if f := common.Map(code, loc.Path); f != nil {
		return f
	}
	d.Entry(entryFor(info))
	return nil
}

// ListDir lists a directory: volumes for the server root, paged remote
// entries otherwise.
func (w *Worker) ListDir(ctx context.Context, d Dispatcher, rawURL string) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasVolume {
		return w.listVolumes(ctx, d, loc)
	}

	// An immediately usable "current directory" entry, even if a
	// separate stat of the directory itself is still pending upstream.
	d.Entry(syntheticDir("."))

	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		return w.pageEntries(ctx, d, vol, loc.ProtocolPath())
	})
	if fail != nil {
		return fail
	}
	return common.Map(code, loc.Path)
}

func (w *Worker) pageEntries(ctx context.Context, d Dispatcher, vol proto.VolumeID, path string) (proto.Code, error) {
	start := 0
	for {
		code, nodes, eod, err := w.sess.Client().ReadDir(ctx, vol, path, start, listBatchSize)
		if err != nil || code != proto.CodeOK {
			return code, err
		}
		for _, n := range nodes {
			d.Entry(entryFor(n))
		}
		start += len(nodes)
		if eod || len(nodes) == 0 {
			return proto.CodeOK, nil
		}
	}
}

// listVolumes answers a server-root listing. An empty result from a
// freshly available server is retried once after a short delay: a newly
// started daemon may not have populated its share list yet.
func (w *Worker) listVolumes(ctx context.Context, d Dispatcher, loc *afpurl.Locator) *common.Failure {
	if fail := w.sess.EnsureConnected(ctx, loc); fail != nil {
		return fail
	}

	run := func() (proto.Code, []proto.VolumeInfo, error) {
		var all []proto.VolumeInfo
		start := 0
		for {
			code, vols, eod, err := w.sess.Client().ListVolumes(ctx, w.sess.State().Server, start, listBatchSize)
			if err != nil || code != proto.CodeOK {
				return code, nil, err
			}
			all = append(all, vols...)
			start += len(vols)
			if eod || len(vols) == 0 {
				return proto.CodeOK, all, nil
			}
		}
	}

	code, vols, err := run()
	code = proto.Normalize(code, err)
	if session.IsRecoverable(code) {
		w.sess.Invalidate(fmt.Sprintf("recoverable result: %s", code))
		if fail := w.sess.EnsureConnected(ctx, loc); fail != nil {
			return fail
		}
		code, vols, err = run()
		code = proto.Normalize(code, err)
	}
	if f := common.Map(code, loc.Server); f != nil {
		return f
	}

	if len(vols) == 0 {
		log.Debugf("[Worker] listVolumes: empty share list from %s, retrying once", loc.Server)
		select {
		case <-time.After(w.listRetryDelay):
		case <-ctx.Done():
			return common.Newf(common.KindCanceled, "listing %s canceled", loc.Server)
		}
		code, vols, err = run()
		if f := common.Map(proto.Normalize(code, err), loc.Server); f != nil {
			return f
		}
	}

	for _, v := range vols {
		d.Entry(syntheticDir(v.Name))
	}
	return nil
}

// Get streams a remote file to the dispatcher in fixed-size chunks,
// terminated by an empty data unit. The remote handle is always closed,
// even on a mid-read failure.
func (w *Worker) Get(ctx context.Context, d Dispatcher, rawURL string) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasPath {
		return common.Newf(common.KindIsDirectory, "%s is a directory", rawURL)
	}

	// Stat first: reject directories and report the total size before
	// any byte moves.
	var info proto.NodeInfo
	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		c, n, err := w.sess.Client().Stat(ctx, vol, loc.ProtocolPath())
		info = n
		return c, err
	})
	if fail != nil {
		return fail
	}
	if f := common.Map(code, loc.Path); f != nil {
		return f
	}
	if info.IsDir {
		return common.Newf(common.KindIsDirectory, "%s is a directory", loc.Path)
	}
	d.TotalSize(info.Size)

	vol := w.sess.State().Volume
	client := w.sess.Client()
	code, file, err := client.Open(ctx, vol, loc.ProtocolPath(), proto.OpenReadOnly)
	if f := common.Map(proto.Normalize(code, err), loc.Path); f != nil {
		return f
	}

	var offset int64
	for {
		code, data, eof, err := client.Read(ctx, vol, file, offset, chunkSize)
		if code = proto.Normalize(code, err); code != proto.CodeOK {
			w.closeQuietly(ctx, vol, file)
			return common.Newf(common.KindCannotRead, "error reading %s (%s)", loc.Path, code)
		}
		if len(data) > 0 {
			d.Data(data)
			offset += int64(len(data))
			d.Processed(offset)
		}
		// An explicit EOF flag or a zero-length read both end the loop.
		if eof || len(data) == 0 {
			break
		}
	}
	w.closeQuietly(ctx, vol, file)
	d.Data(nil)
	return nil
}

func (w *Worker) closeQuietly(ctx context.Context, vol proto.VolumeID, file proto.FileID) {
	if code, err := w.sess.Client().Close(ctx, vol, file); err != nil || code != proto.CodeOK {
		log.Debugf("[Worker] closeQuietly: code=%v err=%v", code, err)
	}
}

// Put writes a file from dispatcher-pulled chunks. mode < 0 selects the
// default. Pre-existing targets are rejected unless overwrite is set, in
// which case the file is truncated before opening. The open is
// read-write rather than write-only; some remote implementations reject
// write-only opens.
func (w *Worker) Put(ctx context.Context, d Dispatcher, rawURL string, overwrite bool, mode int) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasPath {
		return common.Newf(common.KindIsDirectory, "%s is a directory", rawURL)
	}
	path := loc.ProtocolPath()

	var exists bool
	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		c, _, err := w.sess.Client().Stat(ctx, vol, path)
		exists = c == proto.CodeOK
		if c == proto.CodeNotFound {
			c = proto.CodeOK
		}
		return c, err
	})
	if fail != nil {
		return fail
	}
	if f := common.Map(code, loc.Path); f != nil {
		return f
	}
	if exists && !overwrite {
		return common.Newf(common.KindAlreadyExists, "%s already exists", loc.Path)
	}

	vol := w.sess.State().Volume
	client := w.sess.Client()
	createMode := DefaultFileMode
	if mode >= 0 {
		createMode = uint32(mode)
	}
	if exists {
		if code, err := client.Truncate(ctx, vol, path, 0); proto.Normalize(code, err) != proto.CodeOK {
			return common.Newf(common.KindCannotWrite, "cannot truncate %s", loc.Path)
		}
	} else {
		code, err := client.Create(ctx, vol, path, createMode)
		if f := common.Map(proto.Normalize(code, err), loc.Path); f != nil {
			return f
		}
	}
	code, file, err := client.Open(ctx, vol, path, proto.OpenReadWrite)
	if f := common.Map(proto.Normalize(code, err), loc.Path); f != nil {
		return f
	}

	var offset int64
	for {
		chunk := d.DataRequest()
		if len(chunk) == 0 {
			break
		}
		code, n, err := client.Write(ctx, vol, file, offset, chunk)
		if proto.Normalize(code, err) != proto.CodeOK {
			w.closeQuietly(ctx, vol, file)
			return common.Newf(common.KindCannotWrite, "error writing %s (%s)", loc.Path, code)
		}
		offset += int64(n)
		d.Processed(offset)
	}

	// Requested permissions are applied best-effort; a chmod failure
	// does not undo a completed upload.
	if mode >= 0 {
		if code, err := client.Chmod(ctx, vol, path, uint32(mode)); proto.Normalize(code, err) != proto.CodeOK {
			log.Debugf("[Worker] Put: trailing chmod on %s failed (code=%v err=%v)", loc.Path, code, err)
		}
	}
	w.closeQuietly(ctx, vol, file)
	return nil
}

// Mkdir creates a remote directory. mode < 0 selects the default.
func (w *Worker) Mkdir(ctx context.Context, rawURL string, mode int) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasPath {
		return common.Newf(common.KindAlreadyExists, "%s already exists", rawURL)
	}
	dirMode := defaultDirMode
	if mode >= 0 {
		dirMode = uint32(mode)
	}
	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		return w.sess.Client().Mkdir(ctx, vol, loc.ProtocolPath(), dirMode)
	})
	if fail != nil {
		return fail
	}
	return common.Map(code, loc.Path)
}

// Del removes a file or an empty directory, picking the primitive from a
// preceding stat.
func (w *Worker) Del(ctx context.Context, rawURL string) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasPath {
		return common.Newf(common.KindAccessDenied, "refusing to delete %s", rawURL)
	}
	path := loc.ProtocolPath()
	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		c, info, err := w.sess.Client().Stat(ctx, vol, path)
		if err != nil || c != proto.CodeOK {
			return c, err
		}
		if info.IsDir {
			return w.sess.Client().Rmdir(ctx, vol, path)
		}
		return w.sess.Client().Unlink(ctx, vol, path)
	})
	if fail != nil {
		return fail
	}
	return common.Map(code, loc.Path)
}

// Rename moves src to dst. Both must name paths on the same server and
// volume; anything else is unsupported and issues no remote call. The
// destination is pre-checked unless overwrite is set.
func (w *Worker) Rename(ctx context.Context, srcURL, dstURL string, overwrite bool) *common.Failure {
	src, err := afpurl.Parse(srcURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	dst, err := afpurl.Parse(dstURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !src.HasPath || !dst.HasPath {
		return common.Newf(common.KindUnsupported, "cannot rename volume roots")
	}
	if src.Server != dst.Server || src.Volume != dst.Volume {
		return common.Newf(common.KindUnsupported, "cannot rename across servers or volumes")
	}

	code, fail := w.withVolume(ctx, src, func(vol proto.VolumeID) (proto.Code, error) {
		if !overwrite {
			c, _, err := w.sess.Client().Stat(ctx, vol, dst.ProtocolPath())
			if err != nil {
				return c, err
			}
			if c == proto.CodeOK {
				return proto.CodeExists, nil
			}
			if c != proto.CodeNotFound {
				return c, nil
			}
		}
		return w.sess.Client().Rename(ctx, vol, src.ProtocolPath(), dst.ProtocolPath())
	})
	if fail != nil {
		return fail
	}
	target := src.Path
	if code == proto.CodeExists {
		target = dst.Path
	}
	return common.Map(code, target)
}

// Chmod changes permission bits on a non-root path.
func (w *Worker) Chmod(ctx context.Context, rawURL string, mode uint32) *common.Failure {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasPath {
		return common.Newf(common.KindUnsupported, "cannot change permissions of %s", rawURL)
	}
	code, fail := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		return w.sess.Client().Chmod(ctx, vol, loc.ProtocolPath(), mode)
	})
	if fail != nil {
		return fail
	}
	return common.Map(code, loc.Path)
}

// FreeSpace reports total and available capacity of the locator's
// volume in bytes.
func (w *Worker) FreeSpace(ctx context.Context, rawURL string) (total, available uint64, fail *common.Failure) {
	loc, err := afpurl.Parse(rawURL)
	if err != nil {
		return 0, 0, common.Newf(common.KindDoesNotExist, "%v", err)
	}
	if !loc.HasVolume {
		return 0, 0, common.Newf(common.KindUnsupported, "no volume in %s", rawURL)
	}
	var fs proto.StatFSInfo
	code, f := w.withVolume(ctx, loc, func(vol proto.VolumeID) (proto.Code, error) {
		c, info, err := w.sess.Client().StatFS(ctx, vol)
		fs = info
		return c, err
	})
	if f != nil {
		return 0, 0, f
	}
	if f := common.Map(code, loc.Volume); f != nil {
		return 0, 0, f
	}
	bs := uint64(fs.BlockSize)
	return fs.TotalBlocks * bs, fs.FreeBlocks * bs, nil
}
