package bash

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/openhands-sh/sandboxsh/internal/action"
)

// requireTmux skips the test when the tmux binary isn't on PATH: these
// tests drive a real pane end to end rather than faking one.
func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed, skipping integration test")
	}
}

func newTestSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	requireTmux(t)

	s := NewSession(t.TempDir(), "", cfg)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionExecuteEchoHelloCompletes(t *testing.T) {
	s := newTestSession(t, SessionConfig{})

	obs := s.Execute(context.Background(), action.CommandAction{
		Command:  "echo hello",
		Blocking: true,
	})

	if obs.IsError {
		t.Fatalf("Execute(echo hello) returned an error observation: %q", obs.Content)
	}
	if obs.Metadata.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", obs.Metadata.ExitCode)
	}
	if !strings.Contains(obs.Content, "hello") {
		t.Errorf("Content = %q, want it to contain %q", obs.Content, "hello")
	}
}

func TestSessionExecuteRejectsMultipleCommands(t *testing.T) {
	s := newTestSession(t, SessionConfig{})

	obs := s.Execute(context.Background(), action.CommandAction{
		Command: "echo a; echo b",
	})

	if !obs.IsError {
		t.Fatalf("Execute(multi-command) IsError = false, want true (content: %q)", obs.Content)
	}
	if !strings.Contains(obs.Content, "Cannot execute multiple commands") {
		t.Errorf("Content = %q, want the multiple-commands rejection message", obs.Content)
	}
}

func TestSessionExecuteCtrlCInterruptsRunningCommand(t *testing.T) {
	// A short no-change timeout so the initial Execute call returns while
	// "sleep 10" is still running, leaving it up to a follow-up C-c to
	// actually end it.
	s := newTestSession(t, SessionConfig{NoChangeTimeoutSeconds: 2})

	started := s.Execute(context.Background(), action.CommandAction{
		Command:  "sleep 10",
		Blocking: false,
	})
	if started.IsError {
		t.Fatalf("Execute(sleep 10) returned an error observation: %q", started.Content)
	}
	if !s.prevStatus.Running() {
		t.Fatalf("prevStatus = %q after no-change timeout, want a running status", s.prevStatus)
	}

	interrupted := s.Execute(context.Background(), action.CommandAction{
		Command:  "C-c",
		IsInput:  true,
		Blocking: true,
	})
	if interrupted.IsError {
		t.Fatalf("Execute(C-c) returned an error observation: %q", interrupted.Content)
	}
	if interrupted.Metadata.ExitCode != 130 {
		t.Errorf("ExitCode = %d, want 130 (SIGINT)", interrupted.Metadata.ExitCode)
	}
	if !strings.Contains(interrupted.Metadata.Suffix, "CTRL+C") {
		t.Errorf("Suffix = %q, want it to mention CTRL+C", interrupted.Metadata.Suffix)
	}
}

func TestSessionCwdUpdatesAfterCd(t *testing.T) {
	s := newTestSession(t, SessionConfig{})

	obs := s.Execute(context.Background(), action.CommandAction{
		Command:  "cd /tmp && pwd",
		Blocking: true,
	})
	if obs.IsError {
		t.Fatalf("Execute(cd /tmp && pwd) returned an error observation: %q", obs.Content)
	}
	if got := s.Cwd(); got != "/tmp" {
		t.Errorf("Cwd() = %q, want /tmp", got)
	}
}

func TestSessionStopActionKillsRunningProcess(t *testing.T) {
	s := newTestSession(t, SessionConfig{NoChangeTimeoutSeconds: 2})

	started := s.Execute(context.Background(), action.CommandAction{
		Command:  "sleep 30",
		Blocking: false,
	})
	if started.IsError {
		t.Fatalf("Execute(sleep 30) returned an error observation: %q", started.Content)
	}

	stopped := s.Execute(context.Background(), action.StopAction{})
	if stopped.IsError {
		t.Fatalf("Execute(StopAction) returned an error observation: %q", stopped.Content)
	}
	if !strings.Contains(stopped.Content, "terminated") {
		t.Errorf("Content = %q, want it to mention termination", stopped.Content)
	}

	// Give the shell a moment to reap the killed child and print a fresh
	// prompt before the next command, the same way a real caller would.
	time.Sleep(200 * time.Millisecond)
}
