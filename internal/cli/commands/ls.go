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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"afpbridge/internal/worker"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls <afp-url>",
	Short: "List a directory or a server's volumes",
	Long: `List the entries of a remote directory. Against a server root
(afp://server/) the volume list is shown instead.

Examples:
  afpbridge ls afp://nas.local/
  afpbridge ls -l afp://nas.local/media/photos`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "long listing with size, owner and time")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	w := newWorker()
	disp := &streamDispatcher{}
	if err := asErr(w.ListDir(cmd.Context(), disp, args[0])); err != nil {
		return err
	}
	if !lsLong {
		for _, e := range disp.entries {
			if e.Name == "." {
				continue
			}
			fmt.Println(e.Name)
		}
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, e := range disp.entries {
		if e.Name == "." {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			modeString(e), e.Size, e.Owner, e.Group,
			e.ModTime.Format("Jan _2 15:04"), e.Name)
	}
	return tw.Flush()
}

func modeString(e worker.Entry) string {
	m := os.FileMode(e.Mode & 0o777)
	if e.IsDir {
		m |= os.ModeDir
	}
	return m.String()
}
