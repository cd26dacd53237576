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
	"strconv"

	"github.com/spf13/cobra"
)

var mkdirMode string

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <afp-url>",
	Short: "Create a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := -1
		if mkdirMode != "" {
			bits, err := strconv.ParseUint(mkdirMode, 8, 32)
			if err != nil {
				return fmt.Errorf("invalid mode %q", mkdirMode)
			}
			mode = int(bits)
		}
		return asErr(newWorker().Mkdir(cmd.Context(), args[0], mode))
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <afp-url>",
	Short: "Delete a remote file or empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return asErr(newWorker().Del(cmd.Context(), args[0]))
	},
}

var mvOverwrite bool

var mvCmd = &cobra.Command{
	Use:   "mv <src-afp-url> <dst-afp-url>",
	Short: "Rename a remote file or directory",
	Long: `Rename within a single volume. Moves across servers or volumes are
not supported by the protocol.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return asErr(newWorker().Rename(cmd.Context(), args[0], args[1], mvOverwrite))
	},
}

var chmodCmd = &cobra.Command{
	Use:   "chmod <octal-mode> <afp-url>",
	Short: "Change permission bits of a remote path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bits, err := strconv.ParseUint(args[0], 8, 32)
		if err != nil {
			return fmt.Errorf("invalid mode %q", args[0])
		}
		return asErr(newWorker().Chmod(cmd.Context(), args[1], uint32(bits)))
	},
}

var dfCmd = &cobra.Command{
	Use:   "df <afp-url>",
	Short: "Show capacity of a remote volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		total, available, fail := newWorker().FreeSpace(cmd.Context(), args[0])
		if err := asErr(fail); err != nil {
			return err
		}
		fmt.Printf("Total:     %s\n", humanSize(total))
		fmt.Printf("Available: %s\n", humanSize(available))
		fmt.Printf("Used:      %s\n", humanSize(total-available))
		return nil
	},
}

func humanSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	mkdirCmd.Flags().StringVar(&mkdirMode, "mode", "", "octal permission bits for the new directory")
	mvCmd.Flags().BoolVarP(&mvOverwrite, "overwrite", "f", false, "replace an existing destination")
	rootCmd.AddCommand(mkdirCmd, rmCmd, mvCmd, chmodCmd, dfCmd)
}
