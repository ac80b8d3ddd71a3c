package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if cfg.HistoryLimit != Defaults().HistoryLimit {
		t.Errorf("HistoryLimit = %d, want default %d", cfg.HistoryLimit, Defaults().HistoryLimit)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("no_change_timeout_seconds: 60\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NoChangeTimeoutSeconds != 60 {
		t.Errorf("NoChangeTimeoutSeconds = %d, want 60", cfg.NoChangeTimeoutSeconds)
	}
	if cfg.HistoryLimit != Defaults().HistoryLimit {
		t.Errorf("HistoryLimit = %d, want default carried through (%d)", cfg.HistoryLimit, Defaults().HistoryLimit)
	}
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("Load() error = nil, want parse error")
	}
}
