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

// Package creds supplies credentials to the connection lifecycle manager:
// a persistent per-user store keyed by server and port, plus the prompt
// collaborator contract for interactive credential requests. The prompt
// UI itself lives with the caller; this package only defines the
// exchange.
package creds

// Credentials is a username/password pair for one server.
type Credentials struct {
	Username string
	Password string
}

// PromptRequest asks the collaborator for credentials. ErrorNote carries
// the previous attempt's failure ("login incorrect") on re-prompts.
type PromptRequest struct {
	Server    string
	Port      int
	Comment   string // realm comment shown to the user
	Username  string // proposed username from a previous attempt or cache
	ErrorNote string
}

// PromptResult is the collaborator's answer. Keep requests persistence of
// the pair after a successful connect.
type PromptResult struct {
	Credentials
	Keep bool
}

// Prompter is the interactive credential collaborator. ok is false when
// the user declined, which callers surface as a cancellation.
type Prompter interface {
	Prompt(req PromptRequest) (res PromptResult, ok bool)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(req PromptRequest) (PromptResult, bool)

func (f PrompterFunc) Prompt(req PromptRequest) (PromptResult, bool) { return f(req) }
