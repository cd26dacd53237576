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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"afpbridge/internal/afpurl"
	"afpbridge/internal/billyfs"
	"afpbridge/internal/common"
)

var cpCmd = &cobra.Command{
	Use:   "cp <src-afp-url> <dst-afp-url>",
	Short: "Copy a file between remote locations",
	Long: `Copy a remote file to another remote location in one session,
without a local round trip through a temporary file. Both URLs must name
the same server; missing parent directories of the destination are
created.`,
	Args: cobra.ExactArgs(2),
	RunE: runCp,
}

func init() {
	rootCmd.AddCommand(cpCmd)
}

func runCp(cmd *cobra.Command, args []string) error {
	src, err := afpurl.Parse(args[0])
	if err != nil {
		return err
	}
	dst, err := afpurl.Parse(args[1])
	if err != nil {
		return err
	}
	if !src.HasPath || !dst.HasPath {
		return fmt.Errorf("both source and destination must name a file")
	}
	if src.Server != dst.Server {
		return fmt.Errorf("source and destination must be on the same server")
	}

	sess := newSession()
	srcFS, err := billyfs.New(sess, src.VolumeURL())
	if err != nil {
		return err
	}
	dstFS, err := billyfs.New(sess, dst.VolumeURL())
	if err != nil {
		return err
	}

	if parent := common.ParentPath(dst.Path); parent != "" {
		if err := dstFS.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", parent, err)
		}
	}

	in, err := srcFS.Open(src.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer in.Close()

	out, err := dstFS.Create(dst.Path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", args[1], err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		dstFS.Remove(dst.Path)
		return fmt.Errorf("copying to %s: %w", args[1], err)
	}
	return out.Close()
}
