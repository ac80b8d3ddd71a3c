package pane

import (
	"strings"
	"testing"
)

func TestIsSpecialKey(t *testing.T) {
	cases := map[string]bool{
		"C-c":     true,
		"C-d":     true,
		"C-z":     true,
		" C-c ":   true,
		"echo hi": false,
		"C-":      false,
		"C-cc":    false,
		"":        false,
	}
	for in, want := range cases {
		if got := isSpecialKey(in); got != want {
			t.Errorf("isSpecialKey(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewSessionNameFormat(t *testing.T) {
	p := New("dev", "/workspace", 0, 0, 0)
	if !strings.HasPrefix(p.SessionName, "sandboxsh-dev-") {
		t.Errorf("SessionName = %q, want prefix sandboxsh-dev-", p.SessionName)
	}
	if p.workDir != "/workspace" {
		t.Errorf("workDir = %q, want /workspace", p.workDir)
	}
}

func TestNewSessionNamesAreUnique(t *testing.T) {
	a := New("dev", "/workspace", 0, 0, 0)
	b := New("dev", "/workspace", 0, 0, 0)
	if a.SessionName == b.SessionName {
		t.Errorf("two New() calls produced the same session name: %q", a.SessionName)
	}
}

func TestNewDefaultsZeroValues(t *testing.T) {
	p := New("dev", "/workspace", 0, 0, 0)
	if p.cols != DefaultCols || p.rows != DefaultRows || p.historyLimit != DefaultHistoryLimit {
		t.Errorf("New with zeros = {cols:%d rows:%d historyLimit:%d}, want defaults {%d %d %d}",
			p.cols, p.rows, p.historyLimit, DefaultCols, DefaultRows, DefaultHistoryLimit)
	}
}

func TestNewHonorsExplicitValues(t *testing.T) {
	p := New("dev", "/workspace", 200, 50, 5000)
	if p.cols != 200 || p.rows != 50 || p.historyLimit != 5000 {
		t.Errorf("New with explicit values = {cols:%d rows:%d historyLimit:%d}, want {200 50 5000}",
			p.cols, p.rows, p.historyLimit)
	}
}
