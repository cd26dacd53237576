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

package commands

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"afpbridge/internal/worker"
)

const transferChunk = 64 * 1024

// streamDispatcher bridges a verb to local files or pipes: pushed data
// goes to out, pulled data comes from in, entries are collected for the
// caller to render.
type streamDispatcher struct {
	out     io.Writer
	in      io.Reader
	entries []worker.Entry

	total    int64
	done     int64
	writeErr error
}

func (d *streamDispatcher) TotalSize(n int64) { d.total = n }

func (d *streamDispatcher) Data(p []byte) {
	if d.out == nil || len(p) == 0 || d.writeErr != nil {
		return
	}
	if _, err := d.out.Write(p); err != nil {
		d.writeErr = err
	}
}

func (d *streamDispatcher) DataRequest() []byte {
	if d.in == nil {
		return nil
	}
	buf := make([]byte, transferChunk)
	n, err := io.ReadFull(d.in, buf)
	if n > 0 {
		return buf[:n]
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		log.Warnf("[CLI] reading input: %v", err)
	}
	return nil
}

func (d *streamDispatcher) Entry(e worker.Entry) { d.entries = append(d.entries, e) }

func (d *streamDispatcher) Processed(n int64) { d.done = n }

// openOutput resolves a local destination argument; "-" means stdout.
func openOutput(arg string) (io.WriteCloser, error) {
	if arg == "-" {
		return os.Stdout, nil
	}
	return os.Create(arg)
}
