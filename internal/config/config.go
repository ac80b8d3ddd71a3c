// Package config loads the daemon's session defaults from an optional
// YAML file, with flag/env overrides for the values that vary per
// deployment rather than per session.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables the execution engine and pane driver need.
// Every field has a sane zero-value fallback so a missing config file is
// not an error.
type Config struct {
	NoChangeTimeoutSeconds int `yaml:"no_change_timeout_seconds,omitempty"`
	HistoryLimit           int `yaml:"history_limit,omitempty"`
	PollIntervalMillis     int `yaml:"poll_interval_millis,omitempty"`
	PaneCols               int `yaml:"pane_cols,omitempty"`
	PaneRows               int `yaml:"pane_rows,omitempty"`

	// MaxMemoryMB is accepted for parity with the original engine's
	// constructor parameter. It is not enforced: applying a memory limit
	// requires a container runtime hook (the original's own code notes
	// this as a future sysbox-runc integration) that is out of scope here.
	MaxMemoryMB int `yaml:"max_memory_mb,omitempty"`

	ServerURL string `yaml:"-"`
	AuthToken string `yaml:"-"`
	Workspace string `yaml:"-"`
}

// Defaults returns the engine's built-in defaults.
func Defaults() Config {
	return Config{
		NoChangeTimeoutSeconds: 30,
		HistoryLimit:           10_000,
		PollIntervalMillis:     500,
		PaneCols:               1000,
		PaneRows:               1000,
	}
}

// Load reads path as YAML over top of Defaults(). A missing file is not
// an error; any other read or parse failure is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseFlags layers command-line flags and environment variables over
// cfg's daemon-level fields (the ones YAML doesn't carry) and returns the
// result. It parses args with its own FlagSet, so the global flag set is
// left untouched.
func ParseFlags(cfg Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("sandboxd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	workspace := fs.String("workspace", cfg.Workspace, "workspace root for new sessions")
	serverURL := fs.String("server-url", os.Getenv("SANDBOXSH_SERVER_URL"), "daemon-orchestrator websocket URL")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		loaded, err := Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	cfg.Workspace = *workspace
	cfg.ServerURL = *serverURL
	if token := os.Getenv("SANDBOXSH_AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}

	return cfg, nil
}
