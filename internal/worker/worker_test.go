package worker

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpbridge/internal/common"
	"afpbridge/internal/proto"
	"afpbridge/internal/proto/prototest"
	"afpbridge/internal/session"
)

// testDispatcher records everything a verb reports and feeds put its
// input chunks.
type testDispatcher struct {
	total     int64
	chunks    [][]byte
	entries   []Entry
	processed []int64
	input     [][]byte
}

func (d *testDispatcher) TotalSize(n int64) { d.total = n }

func (d *testDispatcher) Data(p []byte) {
	d.chunks = append(d.chunks, append([]byte(nil), p...))
}

func (d *testDispatcher) DataRequest() []byte {
	if len(d.input) == 0 {
		return nil
	}
	chunk := d.input[0]
	d.input = d.input[1:]
	return chunk
}

func (d *testDispatcher) Entry(e Entry) { d.entries = append(d.entries, e) }

func (d *testDispatcher) Processed(n int64) { d.processed = append(d.processed, n) }

// received concatenates pushed chunks, excluding the empty terminator.
func (d *testDispatcher) received() []byte {
	var buf bytes.Buffer
	for _, c := range d.chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

func newTestWorker(t *testing.T, client proto.Client) *Worker {
	t.Helper()
	t.Setenv("AFPBRIDGE_CONFIG_DIR", t.TempDir())
	t.Setenv("AFPBRIDGE_RUNTIME_DIR", t.TempDir())
	m := session.NewManager(session.Options{
		Client:      client,
		LockPath:    filepath.Join(t.TempDir(), "connect.lock"),
		BreakerPath: filepath.Join(t.TempDir(), "connect.breaker"),
		BackoffBase: time.Millisecond,
	})
	w := New(m)
	w.listRetryDelay = time.Millisecond
	return w
}

func TestStatServerRootIsSynthetic(t *testing.T) {
	d := prototest.NewDaemon()
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.Stat(context.Background(), disp, "afp://anyserver.local/"))
	require.Len(t, disp.entries, 1)
	assert.True(t, disp.entries[0].IsDir)
	assert.Equal(t, "anyserver.local", disp.entries[0].Name)
	// No network I/O for the probe.
	assert.Equal(t, 0, d.Calls(proto.OpConnect))
}

func TestStatVolumeRootFallsBackToSynthetic(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local")
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	// The volume does not exist, so attachment fails; stat still
	// reports a browsable synthetic directory.
	require.Nil(t, w.Stat(context.Background(), disp, "afp://alpha.local/ghost/"))
	require.Len(t, disp.entries, 1)
	assert.True(t, disp.entries[0].IsDir)
	assert.Equal(t, "ghost", disp.entries[0].Name)
}

func TestStatFile(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/song.mp3", []byte("abc"), 0o640)
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.Stat(context.Background(), disp, "afp://alpha.local/media/song.mp3"))
	require.Len(t, disp.entries, 1)
	e := disp.entries[0]
	assert.Equal(t, "song.mp3", e.Name)
	assert.Equal(t, int64(3), e.Size)
	assert.False(t, e.IsDir)
	assert.Equal(t, uint32(0o640), e.Mode)
	assert.Equal(t, "audio/mpeg", e.MIME)
}

func TestStatMissingFile(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media")
	w := newTestWorker(t, d)

	fail := w.Stat(context.Background(), &testDispatcher{}, "afp://alpha.local/media/nope.txt")
	require.NotNil(t, fail)
	assert.Equal(t, common.KindDoesNotExist, fail.Kind)
}

func TestRecoverableErrorRetriesOnce(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/a.txt", []byte("x"), 0o644)
	w := newTestWorker(t, d)
	ctx := context.Background()

	require.Nil(t, w.Stat(ctx, &testDispatcher{}, "afp://alpha.local/media/a.txt"))

	// A daemon restart makes every cached handle stale. The next verb
	// sees a recoverable code, invalidates, reconnects and retries once.
	d.InvalidateHandles()
	require.Nil(t, w.Stat(ctx, &testDispatcher{}, "afp://alpha.local/media/a.txt"))
	assert.Equal(t, 3, d.Calls(proto.OpStat)) // 1 + failed + retried
	assert.Equal(t, 2, d.Calls(proto.OpConnect))
}

// brokenStat wraps the daemon so Stat always reports a daemon error,
// proving the retry is bounded.
type brokenStat struct {
	*prototest.Daemon
	statCalls int
}

func (b *brokenStat) Stat(ctx context.Context, vol proto.VolumeID, path string) (proto.Code, proto.NodeInfo, error) {
	b.statCalls++
	return proto.CodeDaemonError, proto.NodeInfo{}, nil
}

func TestSecondRecoverableErrorSurfaces(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media")
	b := &brokenStat{Daemon: d}
	w := newTestWorker(t, b)

	fail := w.Stat(context.Background(), &testDispatcher{}, "afp://alpha.local/media/a.txt")
	require.NotNil(t, fail)
	assert.Equal(t, common.KindDaemonUnreachable, fail.Kind)
	assert.Equal(t, 2, b.statCalls)
}

func TestListDirEmitsDotFirst(t *testing.T) {
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	vol.WriteFile("/a.txt", []byte("a"), 0o644)
	vol.MkdirAll("/sub")
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.ListDir(context.Background(), disp, "afp://alpha.local/media/"))
	require.Len(t, disp.entries, 3)
	assert.Equal(t, ".", disp.entries[0].Name)
	assert.Equal(t, "a.txt", disp.entries[1].Name)
	assert.Equal(t, "sub", disp.entries[2].Name)
}

func TestListDirPagesLargeDirectories(t *testing.T) {
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	for i := 0; i < 70; i++ {
		vol.WriteFile(filepath.Join("/", "file"+string(rune('a'+i/10))+string(rune('0'+i%10))+".dat"), nil, 0o644)
	}
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.ListDir(context.Background(), disp, "afp://alpha.local/media/"))
	assert.Len(t, disp.entries, 71) // "." plus 70 files
	assert.Equal(t, 2, d.Calls(proto.OpReadDir))
}

func TestListVolumes(t *testing.T) {
	d := prototest.NewDaemon()
	srv := d.AddServer("alpha.local")
	srv.AddVolume("media")
	srv.AddVolume("backup")
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.ListDir(context.Background(), disp, "afp://alpha.local/"))
	require.Len(t, disp.entries, 2)
	assert.Equal(t, "backup", disp.entries[0].Name)
	assert.Equal(t, "media", disp.entries[1].Name)
}

func TestListVolumesEmptyServerRetriesOnce(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("fresh.local")
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	// A server with no shares yields an empty set after exactly one
	// retry-after-delay, not an error.
	require.Nil(t, w.ListDir(context.Background(), disp, "afp://fresh.local/"))
	assert.Empty(t, disp.entries)
	assert.Equal(t, 2, d.Calls(proto.OpListVolumes))
}

func TestListVolumesFreshEmptyThenPopulated(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("fresh.local").AddVolume("media")
	d.EmptyVolumeReplies(1)
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.ListDir(context.Background(), disp, "afp://fresh.local/"))
	require.Len(t, disp.entries, 1)
	assert.Equal(t, "media", disp.entries[0].Name)
}

func TestGetStreamsFile(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 8192) // 128 KiB, two chunks
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/big.bin", content, 0o644)
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.Get(context.Background(), disp, "afp://alpha.local/media/big.bin"))
	assert.Equal(t, int64(len(content)), disp.total)
	assert.Equal(t, content, disp.received())
	// Chunked reads plus the empty terminator.
	require.GreaterOrEqual(t, len(disp.chunks), 3)
	assert.Empty(t, disp.chunks[len(disp.chunks)-1])
	assert.Equal(t, 0, d.OpenFiles())
}

func TestGetEmptyFile(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/empty", nil, 0o644)
	w := newTestWorker(t, d)
	disp := &testDispatcher{}

	require.Nil(t, w.Get(context.Background(), disp, "afp://alpha.local/media/empty"))
	assert.Zero(t, disp.total)
	// Only the terminating empty data unit, no negative or phantom
	// chunks.
	require.Len(t, disp.chunks, 1)
	assert.Empty(t, disp.chunks[0])
	assert.Equal(t, 0, d.OpenFiles())
}

func TestGetDirectoryRejected(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").MkdirAll("/photos")
	w := newTestWorker(t, d)

	fail := w.Get(context.Background(), &testDispatcher{}, "afp://alpha.local/media/photos")
	require.NotNil(t, fail)
	assert.Equal(t, common.KindIsDirectory, fail.Kind)
	assert.Equal(t, 0, d.Calls(proto.OpOpen))
}

func TestPutCreatesFile(t *testing.T) {
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	w := newTestWorker(t, d)
	disp := &testDispatcher{input: [][]byte{[]byte("hello "), []byte("world")}}

	require.Nil(t, w.Put(context.Background(), disp, "afp://alpha.local/media/greeting.txt", false, -1))
	assert.Equal(t, []byte("hello world"), vol.FileData("/greeting.txt"))
	assert.Equal(t, 0, d.OpenFiles())
}

func TestPutWithoutOverwriteRejectsExisting(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/taken.txt", []byte("old"), 0o644)
	w := newTestWorker(t, d)
	disp := &testDispatcher{input: [][]byte{[]byte("new")}}

	fail := w.Put(context.Background(), disp, "afp://alpha.local/media/taken.txt", false, -1)
	require.NotNil(t, fail)
	assert.Equal(t, common.KindAlreadyExists, fail.Kind)
	// Zero remote mutations.
	assert.Equal(t, 0, d.Calls(proto.OpCreate))
	assert.Equal(t, 0, d.Calls(proto.OpTruncate))
	assert.Equal(t, 0, d.Calls(proto.OpOpen))
	assert.Equal(t, 0, d.Calls(proto.OpWrite))
}

func TestPutGetRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB, 0xCD}, 40000) // 80 KB
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/data.bin", []byte("stale"), 0o644)
	w := newTestWorker(t, d)

	in := &testDispatcher{input: [][]byte{payload[:30000], payload[30000:]}}
	require.Nil(t, w.Put(context.Background(), in, "afp://alpha.local/media/data.bin", true, -1))

	out := &testDispatcher{}
	require.Nil(t, w.Get(context.Background(), out, "afp://alpha.local/media/data.bin"))
	assert.Equal(t, int64(len(payload)), out.total)
	assert.Equal(t, payload, out.received())
}

func TestPutAppliesRequestedMode(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media")
	w := newTestWorker(t, d)
	disp := &testDispatcher{input: [][]byte{[]byte("#!/bin/sh\n")}}

	require.Nil(t, w.Put(context.Background(), disp, "afp://alpha.local/media/run.sh", false, 0o755))
	assert.Equal(t, 1, d.Calls(proto.OpChmod))

	stat := &testDispatcher{}
	require.Nil(t, w.Stat(context.Background(), stat, "afp://alpha.local/media/run.sh"))
	assert.Equal(t, uint32(0o755), stat.entries[0].Mode)
}

func TestMkdirAndDel(t *testing.T) {
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	w := newTestWorker(t, d)
	ctx := context.Background()

	require.Nil(t, w.Mkdir(ctx, "afp://alpha.local/media/newdir", -1))
	assert.True(t, vol.Exists("/newdir"))

	require.Nil(t, w.Del(ctx, "afp://alpha.local/media/newdir"))
	assert.False(t, vol.Exists("/newdir"))
	assert.Equal(t, 1, d.Calls(proto.OpRmdir))
	assert.Equal(t, 0, d.Calls(proto.OpUnlink))

	vol.WriteFile("/note.txt", []byte("x"), 0o644)
	require.Nil(t, w.Del(ctx, "afp://alpha.local/media/note.txt"))
	assert.False(t, vol.Exists("/note.txt"))
	assert.Equal(t, 1, d.Calls(proto.OpUnlink))
}

func TestRenameSameVolume(t *testing.T) {
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	vol.WriteFile("/old.txt", []byte("x"), 0o644)
	w := newTestWorker(t, d)

	require.Nil(t, w.Rename(context.Background(),
		"afp://alpha.local/media/old.txt", "afp://alpha.local/media/new.txt", false))
	assert.False(t, vol.Exists("/old.txt"))
	assert.True(t, vol.Exists("/new.txt"))
}

func TestRenameAcrossVolumesUnsupported(t *testing.T) {
	d := prototest.NewDaemon()
	srv := d.AddServer("alpha.local")
	srv.AddVolume("media").WriteFile("/a.txt", []byte("x"), 0o644)
	srv.AddVolume("backup")
	w := newTestWorker(t, d)

	fail := w.Rename(context.Background(),
		"afp://alpha.local/media/a.txt", "afp://alpha.local/backup/a.txt", false)
	require.NotNil(t, fail)
	assert.Equal(t, common.KindUnsupported, fail.Kind)
	assert.Equal(t, 0, d.Calls(proto.OpRename))
}

func TestRenameChecksDestination(t *testing.T) {
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	vol.WriteFile("/a.txt", []byte("a"), 0o644)
	vol.WriteFile("/b.txt", []byte("b"), 0o644)
	w := newTestWorker(t, d)
	ctx := context.Background()

	fail := w.Rename(ctx, "afp://alpha.local/media/a.txt", "afp://alpha.local/media/b.txt", false)
	require.NotNil(t, fail)
	assert.Equal(t, common.KindAlreadyExists, fail.Kind)
	assert.Equal(t, 0, d.Calls(proto.OpRename))

	// With overwrite the destination check is skipped.
	require.Nil(t, w.Rename(ctx, "afp://alpha.local/media/a.txt", "afp://alpha.local/media/b.txt", true))
	assert.Equal(t, []byte("a"), vol.FileData("/b.txt"))
}

func TestChmod(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media").WriteFile("/f.txt", []byte("x"), 0o644)
	w := newTestWorker(t, d)

	require.Nil(t, w.Chmod(context.Background(), "afp://alpha.local/media/f.txt", 0o600))

	disp := &testDispatcher{}
	require.Nil(t, w.Stat(context.Background(), disp, "afp://alpha.local/media/f.txt"))
	assert.Equal(t, uint32(0o600), disp.entries[0].Mode)
}

func TestFreeSpace(t *testing.T) {
	d := prototest.NewDaemon()
	d.AddServer("alpha.local").AddVolume("media")
	w := newTestWorker(t, d)

	total, available, fail := w.FreeSpace(context.Background(), "afp://alpha.local/media/")
	require.Nil(t, fail)
	assert.Equal(t, uint64(4096)*(1<<20), total)
	assert.Equal(t, uint64(4096)*(1<<19), available)
}
