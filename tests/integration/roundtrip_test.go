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
	"bytes"
	"context"
	"io"
	"testing"

	. "github.com/onsi/gomega"

	"afpbridge/internal/billyfs"
	"afpbridge/internal/creds"
	"afpbridge/internal/worker"
)

// collector is a minimal dispatcher for the integration round trips.
type collector struct {
	total   int64
	buf     bytes.Buffer
	entries []worker.Entry
	input   [][]byte
}

func (c *collector) TotalSize(n int64) { c.total = n }
func (c *collector) Data(p []byte)     { c.buf.Write(p) }
func (c *collector) DataRequest() []byte {
	if len(c.input) == 0 {
		return nil
	}
	chunk := c.input[0]
	c.input = c.input[1:]
	return chunk
}
func (c *collector) Entry(e worker.Entry) { c.entries = append(c.entries, e) }
func (c *collector) Processed(n int64)    {}

func TestSocketRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.Daemon.AddServer("nas.local").AddVolume("media")
	w := env.NewWorker(nil)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("integration payload "), 5000) // ~100 KB

	t.Run("put then get over the wire", func(t *testing.T) {
		g := NewWithT(t)

		up := &collector{input: [][]byte{payload[:65536], payload[65536:]}}
		fail := w.Put(ctx, up, "afp://nas.local/media/artifact.bin", false, -1)
		g.Expect(fail).To(BeNil())

		down := &collector{}
		fail = w.Get(ctx, down, "afp://nas.local/media/artifact.bin")
		g.Expect(fail).To(BeNil())
		g.Expect(down.total).To(Equal(int64(len(payload))))
		g.Expect(down.buf.Bytes()).To(Equal(payload))
	})

	t.Run("full verb cycle", func(t *testing.T) {
		g := NewWithT(t)

		g.Expect(w.Mkdir(ctx, "afp://nas.local/media/inbox", -1)).To(BeNil())
		g.Expect(w.Rename(ctx,
			"afp://nas.local/media/artifact.bin",
			"afp://nas.local/media/inbox/artifact.bin", false)).To(BeNil())
		g.Expect(w.Chmod(ctx, "afp://nas.local/media/inbox/artifact.bin", 0o600)).To(BeNil())

		ls := &collector{}
		g.Expect(w.ListDir(ctx, ls, "afp://nas.local/media/inbox")).To(BeNil())
		g.Expect(ls.entries).To(HaveLen(2)) // "." plus the file
		g.Expect(ls.entries[1].Name).To(Equal("artifact.bin"))
		g.Expect(ls.entries[1].Mode).To(Equal(uint32(0o600)))

		g.Expect(w.Del(ctx, "afp://nas.local/media/inbox/artifact.bin")).To(BeNil())
		g.Expect(w.Del(ctx, "afp://nas.local/media/inbox")).To(BeNil())
	})

	t.Run("free space", func(t *testing.T) {
		g := NewWithT(t)
		total, available, fail := w.FreeSpace(ctx, "afp://nas.local/media/")
		g.Expect(fail).To(BeNil())
		g.Expect(total).To(BeNumerically(">", available))
	})
}

func TestDaemonRestartRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.Daemon.AddServer("nas.local").AddVolume("media").WriteFile("/keep.txt", []byte("survives"), 0o644)
	w := env.NewWorker(nil)
	ctx := context.Background()
	g := NewWithT(t)

	first := &collector{}
	g.Expect(w.Get(ctx, first, "afp://nas.local/media/keep.txt")).To(BeNil())
	g.Expect(first.buf.String()).To(Equal("survives"))

	// The daemon restarts: every cached handle is stale and the old
	// connection is dead. The next verb must transparently reconnect.
	env.Restart()
	env.Daemon.AddServer("nas.local").AddVolume("media").WriteFile("/keep.txt", []byte("survives"), 0o644)

	second := &collector{}
	g.Expect(w.Get(ctx, second, "afp://nas.local/media/keep.txt")).To(BeNil())
	g.Expect(second.buf.String()).To(Equal("survives"))
}

func TestVolumeFilesystemOverSocket(t *testing.T) {
	env := newTestEnv(t)
	env.Daemon.AddServer("nas.local").AddVolume("media").
		WriteFile("/src/report.txt", []byte("quarterly numbers"), 0o644)
	g := NewWithT(t)

	fs, err := billyfs.New(env.NewSession(nil), "afp://nas.local/media")
	g.Expect(err).NotTo(HaveOccurred())

	// Copy within the volume through the filesystem surface, the way the
	// cp command does it.
	g.Expect(fs.MkdirAll("archive/2026", 0o755)).To(Succeed())

	in, err := fs.Open("src/report.txt")
	g.Expect(err).NotTo(HaveOccurred())
	out, err := fs.Create("archive/2026/report.txt")
	g.Expect(err).NotTo(HaveOccurred())
	n, err := io.Copy(out, in)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(n).To(Equal(int64(len("quarterly numbers"))))
	g.Expect(in.Close()).To(Succeed())
	g.Expect(out.Close()).To(Succeed())

	info, err := fs.Stat("archive/2026/report.txt")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Size()).To(Equal(int64(len("quarterly numbers"))))

	copied, err := fs.Open("archive/2026/report.txt")
	g.Expect(err).NotTo(HaveOccurred())
	data, err := io.ReadAll(copied)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(data)).To(Equal("quarterly numbers"))
	g.Expect(copied.Close()).To(Succeed())

	entries, err := fs.ReadDir("archive")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(entries).To(HaveLen(1))
	g.Expect(entries[0].Name()).To(Equal("2026"))
	g.Expect(entries[0].IsDir()).To(BeTrue())
}

func TestInteractiveAuthOverSocket(t *testing.T) {
	env := newTestEnv(t)
	env.Daemon.AddServer("secure.local").RequireAuth("alice", "s3cret").
		SetLoginMessage("Welcome to secure.local").
		AddVolume("vault")
	g := NewWithT(t)

	prompts := 0
	prompter := creds.PrompterFunc(func(req creds.PromptRequest) (creds.PromptResult, bool) {
		prompts++
		return creds.PromptResult{
			Credentials: creds.Credentials{Username: "alice", Password: "s3cret"},
		}, true
	})
	w := env.NewWorker(prompter)

	ls := &collector{}
	g.Expect(w.ListDir(context.Background(), ls, "afp://secure.local/")).To(BeNil())
	g.Expect(prompts).To(Equal(1))
	g.Expect(ls.entries).To(HaveLen(1))
	g.Expect(ls.entries[0].Name).To(Equal("vault"))
}
