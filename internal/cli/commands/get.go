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
	"os"

	"github.com/spf13/cobra"

	"afpbridge/internal/afpurl"
	"afpbridge/internal/common"
)

var getCmd = &cobra.Command{
	Use:   "get <afp-url> [local-path]",
	Short: "Download a remote file",
	Long: `Download a remote file to a local path. Without a local path the
remote base name is used; "-" writes to stdout.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	dest := ""
	if len(args) > 1 {
		dest = args[1]
	} else {
		loc, err := afpurl.Parse(args[0])
		if err != nil {
			return err
		}
		dest = common.BaseName(loc.Path)
		if dest == "" {
			return fmt.Errorf("no file name in %s, pass a local path", args[0])
		}
	}

	out, err := openOutput(dest)
	if err != nil {
		return err
	}

	w := newWorker()
	disp := &streamDispatcher{out: out}
	fail := w.Get(cmd.Context(), disp, args[0])

	if out != os.Stdout {
		if err := out.Close(); err != nil && fail == nil {
			return err
		}
		if fail != nil {
			os.Remove(dest)
		}
	}
	if err := asErr(fail); err != nil {
		return err
	}
	if disp.writeErr != nil {
		return fmt.Errorf("writing %s: %w", dest, disp.writeErr)
	}
	return nil
}
