package billyfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpbridge/internal/proto/prototest"
	"afpbridge/internal/session"
)

func newTestFS(t *testing.T) (*FS, *prototest.Volume) {
	t.Helper()
	d := prototest.NewDaemon()
	vol := d.AddServer("alpha.local").AddVolume("media")
	t.Setenv("AFPBRIDGE_CONFIG_DIR", t.TempDir())
	t.Setenv("AFPBRIDGE_RUNTIME_DIR", t.TempDir())
	m := session.NewManager(session.Options{
		Client:      d,
		LockPath:    filepath.Join(t.TempDir(), "connect.lock"),
		BreakerPath: filepath.Join(t.TempDir(), "connect.breaker"),
		BackoffBase: time.Millisecond,
	})
	fs, err := New(m, "afp://alpha.local/media")
	require.NoError(t, err)
	return fs, vol
}

func TestCreateWriteRead(t *testing.T) {
	fs, vol := newTestFS(t)

	f, err := fs.Create("docs/readme.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello billy"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte("hello billy"), vol.FileData("/docs/readme.txt"))

	r, err := fs.Open("docs/readme.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello billy", string(data))
}

func TestCreateRequiresParent(t *testing.T) {
	fs, _ := newTestFS(t)
	_, err := fs.OpenFile("no/such/dir/f.txt", os.O_CREATE|os.O_RDWR, 0o644)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenMissing(t *testing.T) {
	fs, _ := newTestFS(t)
	_, err := fs.Open("ghost.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatAndReadDir(t *testing.T) {
	fs, vol := newTestFS(t)
	vol.MkdirAll("/pics")
	vol.WriteFile("/pics/a.jpg", []byte("jpeg"), 0o644)
	vol.WriteFile("/pics/b.jpg", []byte("jpegjpeg"), 0o600)

	info, err := fs.Stat("pics")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := fs.ReadDir("pics")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.jpg", entries[0].Name())
	assert.Equal(t, int64(8), entries[1].Size())
	assert.Equal(t, os.FileMode(0o600), entries[1].Mode())
}

func TestMkdirAllNested(t *testing.T) {
	fs, vol := newTestFS(t)
	require.NoError(t, fs.MkdirAll("a/b/c", 0o755))
	assert.True(t, vol.Exists("/a/b/c"))
	// Idempotent on existing chains.
	require.NoError(t, fs.MkdirAll("a/b", 0o755))
}

func TestRenameAndRemove(t *testing.T) {
	fs, vol := newTestFS(t)
	vol.WriteFile("/old.txt", []byte("x"), 0o644)

	require.NoError(t, fs.Rename("old.txt", "new.txt"))
	assert.False(t, vol.Exists("/old.txt"))
	assert.True(t, vol.Exists("/new.txt"))

	require.NoError(t, fs.Remove("new.txt"))
	assert.False(t, vol.Exists("/new.txt"))
	assert.ErrorIs(t, fs.Remove("new.txt"), os.ErrNotExist)
}

func TestSeekAndTruncate(t *testing.T) {
	fs, vol := newTestFS(t)
	vol.WriteFile("/f.bin", []byte("0123456789"), 0o644)

	f, err := fs.OpenFile("f.bin", os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf[:n]))

	require.NoError(t, f.Truncate(5))
	assert.Equal(t, []byte("01234"), vol.FileData("/f.bin"))
}
