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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// getConfigDir returns the config directory path.
// Uses AFPBRIDGE_CONFIG_DIR env var if set, otherwise defaults to
// ~/.afpbridge. Computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("AFPBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".afpbridge")
}

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return getConfigDir()
}

// RuntimeDir returns the per-user runtime directory holding the
// cross-process coordination files. All sibling worker processes of one
// user must resolve the same directory, so the lock and breaker marker
// are actually shared.
func RuntimeDir() string {
	if dir := os.Getenv("AFPBRIDGE_RUNTIME_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "afpbridge")
	}
	return filepath.Join(getConfigDir(), "run")
}

// SocketPath returns the AFP session daemon's unix socket path.
func SocketPath() string {
	if p := os.Getenv("AFPBRIDGE_SOCKET"); p != "" {
		return p
	}
	return filepath.Join(RuntimeDir(), "afpfsd.sock")
}

// ConnectLockPath returns the advisory lock file serializing connect
// attempts across worker processes.
func ConnectLockPath() string {
	return filepath.Join(RuntimeDir(), "connect.lock")
}

// BreakerPath returns the circuit-breaker marker file.
func BreakerPath() string {
	return filepath.Join(RuntimeDir(), "connect.breaker")
}

// CredStorePath returns the persistent credential store path.
func CredStorePath() string {
	return filepath.Join(getConfigDir(), "credentials.afpbridge")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureDirs creates the config and runtime directories if missing.
func EnsureDirs() error {
	if err := os.MkdirAll(getConfigDir(), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.MkdirAll(RuntimeDir(), 0700); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}
	return nil
}

// Settings are the tunables of the connection state machine. The defaults
// mirror the hardened legacy worker; the file exists so operators can
// loosen timeouts for slow servers without rebuilding.
type Settings struct {
	LogLevel        string `yaml:"log_level"`        // trace, debug, info, warn, off (default: off)
	ConnectAttempts int    `yaml:"connect_attempts"` // transient connect retries (default: 3)
	ConnectTimeout  int    `yaml:"connect_timeout"`  // per-attempt hard timeout, seconds (default: 15)
	BreakerCooldown int    `yaml:"breaker_cooldown"` // circuit-breaker window, seconds (default: 30)
	DaemonSocket    string `yaml:"daemon_socket"`    // override session daemon socket path
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.ConnectAttempts == 0 {
		s.ConnectAttempts = 3
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = 15
	}
	if s.BreakerCooldown == 0 {
		s.BreakerCooldown = 30
	}
	if s.DaemonSocket == "" {
		s.DaemonSocket = SocketPath()
	}
}

// ConnectTimeoutDuration returns the per-attempt timeout as a duration.
func (s *Settings) ConnectTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// BreakerCooldownDuration returns the breaker window as a duration.
func (s *Settings) BreakerCooldownDuration() time.Duration {
	return time.Duration(s.BreakerCooldown) * time.Second
}

// LoggingEnabled reports whether any log level other than off is set.
func (s *Settings) LoggingEnabled() bool {
	level := strings.ToLower(s.LogLevel)
	return level != "" && level != "off" && level != "none"
}

// LoadSettings loads settings.yaml, falling back to defaults when the
// file does not exist.
func LoadSettings() (*Settings, error) {
	var s Settings
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.ApplyDefaults()
			return &s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// SaveSettings writes settings.yaml.
func SaveSettings(s *Settings) error {
	if err := EnsureDirs(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# afpbridge settings\n# See: afpbridge --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}
