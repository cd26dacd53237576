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
	"strconv"

	"github.com/spf13/cobra"
)

var (
	putOverwrite bool
	putMode      string
)

var putCmd = &cobra.Command{
	Use:   "put <local-path> <afp-url>",
	Short: "Upload a local file",
	Long: `Upload a local file to a remote path. "-" reads from stdin.
Existing remote files are left untouched unless --overwrite is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

func init() {
	putCmd.Flags().BoolVarP(&putOverwrite, "overwrite", "f", false, "replace an existing remote file")
	putCmd.Flags().StringVar(&putMode, "mode", "", "octal permission bits for the remote file")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	mode := -1
	if putMode != "" {
		bits, err := strconv.ParseUint(putMode, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid mode %q", putMode)
		}
		mode = int(bits)
	}

	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	w := newWorker()
	disp := &streamDispatcher{in: in}
	return asErr(w.Put(cmd.Context(), disp, args[1], putOverwrite, mode))
}
