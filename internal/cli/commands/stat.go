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

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <afp-url>",
	Short: "Show details of a remote file or directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	w := newWorker()
	disp := &streamDispatcher{}
	if err := asErr(w.Stat(cmd.Context(), disp, args[0])); err != nil {
		return err
	}
	if len(disp.entries) == 0 {
		return fmt.Errorf("no entry for %s", args[0])
	}
	e := disp.entries[0]
	kind := "file"
	if e.IsDir {
		kind = "directory"
	}
	fmt.Printf("Name:     %s\n", e.Name)
	fmt.Printf("Type:     %s (%s)\n", kind, e.MIME)
	fmt.Printf("Size:     %d\n", e.Size)
	fmt.Printf("Mode:     %s\n", modeString(e))
	if e.Owner != "" || e.Group != "" {
		fmt.Printf("Owner:    %s:%s\n", e.Owner, e.Group)
	}
	fmt.Printf("Modified: %s\n", e.ModTime.Format("2006-01-02 15:04:05"))
	return nil
}
