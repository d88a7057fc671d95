// Copyright 2025 Tom Barlow
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

// Package config loads the daemon runtime configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML file, then environment variable overrides. Durations are written as Go
// duration strings ("250ms", "5s").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	daemonerrors "github.com/tombee/daemond/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables understood by Load.
const (
	EnvConfig  = "DAEMOND_CONFIG"
	EnvIPCPath = "DAEMOND_IPC_PATH"
	EnvPIDFile = "DAEMOND_PID_FILE"
	EnvLogFile = "DAEMOND_LOG_FILE"
)

// Config is the complete runtime configuration of one daemon.
type Config struct {
	// Name identifies the daemon for PID files, unit files and logs.
	Name string `yaml:"name"`

	// PIDFile overrides the default <runtime-dir>/<name>.pid location.
	PIDFile string `yaml:"pid_file,omitempty"`

	// LifecycleLog, when set, receives one JSON line per lifecycle event.
	LifecycleLog string `yaml:"lifecycle_log,omitempty"`

	// WatchConfig reloads the daemon when the configuration file changes.
	WatchConfig bool `yaml:"watch_config"`

	IPC     IPCConfig     `yaml:"ipc,omitempty"`
	Loop    LoopConfig    `yaml:"loop,omitempty"`
	Version VersionConfig `yaml:"version,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`
	Service ServiceConfig `yaml:"service,omitempty"`

	// path is the file this configuration was read from, if any.
	path string
}

// IPCConfig configures the file-based control channel.
type IPCConfig struct {
	// Disabled turns the channel off entirely.
	Disabled bool `yaml:"disabled"`

	// Path is the request file. Responses are written next to it.
	Path string `yaml:"path,omitempty"`

	AcquireTimeout time.Duration `yaml:"acquire_timeout,omitempty"`
	SendTimeout    time.Duration `yaml:"send_timeout,omitempty"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
}

// LoopConfig configures loop pacing.
type LoopConfig struct {
	// MinDuration is the minimum time between two loop body invocations.
	MinDuration time.Duration `yaml:"min_duration,omitempty"`

	// MaxDuration is how long a loop body may reasonably run. The supervisor
	// watchdog allows MinDuration+MaxDuration between pings.
	MaxDuration time.Duration `yaml:"max_duration,omitempty"`
}

// VersionConfig configures self-upgrade detection.
type VersionConfig struct {
	Disabled      bool          `yaml:"disabled"`
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`

	// Files lists watched paths or doublestar patterns. Empty means the
	// running executable.
	Files []string `yaml:"files,omitempty"`
}

// LogConfig configures the daemon's structured logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`

	// File receives log output when running in the background.
	File string `yaml:"file,omitempty"`
}

// ServiceConfig holds the values rendered into the service manager unit.
type ServiceConfig struct {
	Description     string        `yaml:"description,omitempty"`
	User            string        `yaml:"user,omitempty"`
	Group           string        `yaml:"group,omitempty"`
	TimeoutStart    time.Duration `yaml:"timeout_start,omitempty"`
	TimeoutStop     time.Duration `yaml:"timeout_stop,omitempty"`
	RestartSec      time.Duration `yaml:"restart_sec,omitempty"`
	DisableWatchdog bool          `yaml:"disable_watchdog"`
	UnitDir         string        `yaml:"unit_dir,omitempty"`
	ProfileDir      string        `yaml:"profile_dir,omitempty"`
}

// Default returns the configuration used when nothing else is specified.
func Default(name string) *Config {
	return &Config{
		Name: name,
		IPC: IPCConfig{
			AcquireTimeout: 5 * time.Second,
			SendTimeout:    5 * time.Second,
			ReceiveTimeout: 5 * time.Second,
			PollInterval:   10 * time.Millisecond,
		},
		Loop: LoopConfig{
			MinDuration: 10 * time.Second,
			MaxDuration: 60 * time.Second,
		},
		Version: VersionConfig{
			CheckInterval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Service: ServiceConfig{
			User:         "root",
			Group:        "root",
			TimeoutStart: 10 * time.Second,
			TimeoutStop:  10 * time.Second,
			RestartSec:   10 * time.Second,
			UnitDir:      "/etc/systemd/system",
			ProfileDir:   "/etc/profile.d",
		},
	}
}

// Load builds the configuration for the named daemon. configPath may be empty,
// in which case DAEMOND_CONFIG is consulted; a missing file is only an error
// when the path was given explicitly.
func Load(name, configPath string) (*Config, error) {
	cfg := Default(name)

	explicit := configPath != ""
	if !explicit {
		configPath = os.Getenv(EnvConfig)
		explicit = configPath != ""
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, &daemonerrors.ConfigError{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", configPath),
					Cause:  err,
				}
			}
		}
	}

	// A file may name a different daemon, but never an empty one.
	if cfg.Name == "" {
		cfg.Name = name
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &daemonerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// Path returns the file the configuration was loaded from, or "".
func (c *Config) Path() string {
	return c.path
}

// PIDPath returns the PID file location.
func (c *Config) PIDPath() string {
	if c.PIDFile != "" {
		return c.PIDFile
	}
	return filepath.Join(RuntimeDir(), c.Name+".pid")
}

// IPCPath returns the IPC request file, or "" when the channel is disabled.
func (c *Config) IPCPath() string {
	if c.IPC.Disabled {
		return ""
	}
	if c.IPC.Path != "" {
		return c.IPC.Path
	}
	return filepath.Join(RuntimeDir(), c.Name+".ipc")
}

// LogPath returns the log file used in background mode.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(StateDir(c.Name), c.Name+".log")
}

// WatchdogInterval is the supervisor watchdog period for the unit file.
func (c *Config) WatchdogInterval() time.Duration {
	return c.Loop.MaxDuration + c.Loop.MinDuration
}

// applyDefaults fills in zero values with sensible defaults so that minimal
// files (just a name and an IPC path) work.
func (c *Config) applyDefaults() {
	defaults := Default(c.Name)

	if c.IPC.AcquireTimeout == 0 {
		c.IPC.AcquireTimeout = defaults.IPC.AcquireTimeout
	}
	if c.IPC.SendTimeout == 0 {
		c.IPC.SendTimeout = defaults.IPC.SendTimeout
	}
	if c.IPC.ReceiveTimeout == 0 {
		c.IPC.ReceiveTimeout = defaults.IPC.ReceiveTimeout
	}
	if c.IPC.PollInterval == 0 {
		c.IPC.PollInterval = defaults.IPC.PollInterval
	}

	if c.Loop.MinDuration == 0 {
		c.Loop.MinDuration = defaults.Loop.MinDuration
	}
	if c.Loop.MaxDuration == 0 {
		c.Loop.MaxDuration = defaults.Loop.MaxDuration
	}

	if c.Version.CheckInterval == 0 {
		c.Version.CheckInterval = defaults.Version.CheckInterval
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Service.User == "" {
		c.Service.User = defaults.Service.User
	}
	if c.Service.Group == "" {
		c.Service.Group = defaults.Service.Group
	}
	if c.Service.TimeoutStart == 0 {
		c.Service.TimeoutStart = defaults.Service.TimeoutStart
	}
	if c.Service.TimeoutStop == 0 {
		c.Service.TimeoutStop = defaults.Service.TimeoutStop
	}
	if c.Service.RestartSec == 0 {
		c.Service.RestartSec = defaults.Service.RestartSec
	}
	if c.Service.UnitDir == "" {
		c.Service.UnitDir = defaults.Service.UnitDir
	}
	if c.Service.ProfileDir == "" {
		c.Service.ProfileDir = defaults.Service.ProfileDir
	}
}

// loadFromFile reads YAML from path over the current values.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	c.path = abs
	return nil
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvIPCPath); v != "" {
		c.IPC.Path = v
		c.IPC.Disabled = false
	}
	if v := os.Getenv(EnvPIDFile); v != "" {
		c.PIDFile = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	var problems []string

	if c.Name == "" {
		problems = append(problems, "name is required")
	} else if strings.ContainsAny(c.Name, `/\ `) {
		problems = append(problems, fmt.Sprintf("name %q must not contain slashes or spaces", c.Name))
	}
	if c.Loop.MinDuration < 0 {
		problems = append(problems, "loop.min_duration must not be negative")
	}
	if c.Loop.MaxDuration < 0 {
		problems = append(problems, "loop.max_duration must not be negative")
	}
	if c.Version.CheckInterval < 0 {
		problems = append(problems, "version.check_interval must not be negative")
	}
	if c.IPC.AcquireTimeout < 0 || c.IPC.SendTimeout < 0 || c.IPC.ReceiveTimeout < 0 {
		problems = append(problems, "ipc timeouts must not be negative")
	}
	if c.IPC.PollInterval < 0 {
		problems = append(problems, "ipc.poll_interval must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
