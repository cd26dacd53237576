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
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"afpbridge/internal/creds"
)

// terminalPrompter asks for credentials on the controlling terminal.
// Declining (EOF or empty username) reports cancellation.
type terminalPrompter struct {
	in *bufio.Reader
}

func newTerminalPrompter() creds.Prompter {
	return &terminalPrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *terminalPrompter) Prompt(req creds.PromptRequest) (creds.PromptResult, bool) {
	if req.ErrorNote != "" {
		fmt.Fprintf(os.Stderr, "%s\n", req.ErrorNote)
	}
	fmt.Fprintf(os.Stderr, "Credentials for %s\n", req.Comment)

	prompt := "Username: "
	if req.Username != "" {
		prompt = fmt.Sprintf("Username [%s]: ", req.Username)
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return creds.PromptResult{}, false
	}
	username := strings.TrimSpace(line)
	if username == "" {
		username = req.Username
	}
	if username == "" {
		return creds.PromptResult{}, false
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := readPassword()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return creds.PromptResult{}, false
	}

	fmt.Fprint(os.Stderr, "Remember password? [y/N]: ")
	line, _ = p.in.ReadString('\n')
	keep := strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")

	return creds.PromptResult{
		Credentials: creds.Credentials{Username: username, Password: password},
		Keep:        keep,
	}, true
}

// readPassword reads without echo when stdin is a terminal, falling back
// to a plain line read when it is not (pipes, tests).
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
