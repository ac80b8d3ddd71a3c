// Package pane drives a single tmux pane the way the execution engine
// needs it: a unique session, a large scrollback, a shell spawned either
// directly or via `su <user> -`, and the PS1 sentinel function installed
// before the first real command ever runs.
package pane

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openhands-sh/sandboxsh/internal/ps1"
)

// DefaultHistoryLimit, DefaultCols and DefaultRows are the fallbacks a
// caller gets by passing 0 to New; config.Defaults() returns these same
// values so the daemon and a caller that builds a Pane directly agree.
const (
	DefaultHistoryLimit = 10_000
	DefaultCols         = 1000
	DefaultRows         = 1000
)

// Pane owns one tmux session/window/pane triple.
type Pane struct {
	SessionName string
	WindowName  string
	workDir     string

	cols, rows   int
	historyLimit int
}

// New allocates a session name of the form "sandboxsh-<user>-<uuid>" but
// does not yet create anything in tmux; call Open to do that. cols, rows
// and historyLimit of 0 fall back to the Default* constants.
func New(username, workDir string, cols, rows, historyLimit int) *Pane {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Pane{
		SessionName:  fmt.Sprintf("sandboxsh-%s-%s", username, uuid.New().String()),
		workDir:      workDir,
		cols:         cols,
		rows:         rows,
		historyLimit: historyLimit,
	}
}

// Open performs the seven-step setup: allocate the session, set the
// global history limit, spawn the shell in a fresh window (discarding the
// session's default window, whose history limit predates the option
// change), snapshot whoami/hostname to temp files, install the PS1
// function, and clear the screen so the first capture starts clean.
func (p *Pane) Open(username string) error {
	shellCmd := "/bin/bash"
	if username == "root" || username == "openhands" {
		shellCmd = fmt.Sprintf("su %s -", username)
	}

	// Step 1: allocate the session with tmux's default shell; its initial
	// window inherits whatever history-limit was in effect before step 2,
	// which is why it gets killed in step 4 rather than reused.
	if out, err := tmux("new-session", "-d", "-s", p.SessionName, "-c", p.workDir, "-x", strconv.Itoa(p.cols), "-y", strconv.Itoa(p.rows)); err != nil {
		return fmt.Errorf("pane: new-session %q: %w (%s)", p.SessionName, err, out)
	}
	initialWindow, err := p.currentWindowID()
	if err != nil {
		return fmt.Errorf("pane: read initial window: %w", err)
	}

	// Step 2: set the global history-limit option before any window that
	// should honor it is created.
	if out, err := tmux("set-option", "-t", p.SessionName, "-g", "history-limit", strconv.Itoa(p.historyLimit)); err != nil {
		return fmt.Errorf("pane: set history-limit: %w (%s)", err, out)
	}

	// Step 3: create the real shell window with the large history-limit
	// already in effect.
	p.WindowName = "bash"
	if out, err := tmux("new-window", "-t", p.SessionName, "-n", p.WindowName, "-c", p.workDir, shellCmd); err != nil {
		return fmt.Errorf("pane: new-window: %w (%s)", err, out)
	}

	// Step 4: kill the initial window created in step 1.
	if out, err := tmux("kill-window", "-t", initialWindow); err != nil {
		return fmt.Errorf("pane: kill initial window: %w (%s)", err, out)
	}

	userFile := fmt.Sprintf("/tmp/.sandboxsh-user-%s", p.SessionName)
	hostFile := fmt.Sprintf("/tmp/.sandboxsh-host-%s", p.SessionName)

	if err := p.SendKeys(ps1.UserHostCommand(userFile, hostFile)); err != nil {
		return fmt.Errorf("pane: snapshot user/host: %w", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := p.SendKeys(ps1.FunctionScript(userFile, hostFile)); err != nil {
		return fmt.Errorf("pane: install PS1 function: %w", err)
	}
	time.Sleep(100 * time.Millisecond)

	return p.ClearScreen()
}

// currentWindowID returns the session's currently attached window, in the
// "<session>:<index>" form tmux's -t accepts, so it can be targeted for
// deletion after the real shell window is created.
func (p *Pane) currentWindowID() (string, error) {
	out, err := exec.Command("tmux", "display-message", "-t", p.SessionName, "-p", "#{session_name}:#{window_index}").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// isSpecialKey reports whether command is a C-<x> control-key token.
func isSpecialKey(command string) bool {
	c := strings.TrimSpace(command)
	return strings.HasPrefix(c, "C-") && len(c) == 3
}

// SendKeys injects text into the pane. Special-key tokens (C-c, C-d, ...)
// are sent without a trailing Enter; everything else gets one appended.
func (p *Pane) SendKeys(command string) error {
	args := []string{"send-keys", "-t", p.SessionName, command}
	if !isSpecialKey(command) {
		args = append(args, "Enter")
	}
	if out, err := tmux(args...); err != nil {
		return fmt.Errorf("pane: send-keys: %w (%s)", err, out)
	}
	return nil
}

// Capture returns the full pane buffer (scrollback + visible), with
// wrapped lines joined (-J) and each line right-stripped of spaces, tabs
// and carriage returns before being rejoined with newlines.
func (p *Pane) Capture() (string, error) {
	out, err := exec.Command("tmux", "capture-pane", "-J", "-t", p.SessionName, "-p", "-S", "-").Output()
	if err != nil {
		return "", fmt.Errorf("pane: capture-pane: %w", err)
	}
	lines := strings.Split(string(out), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n"), nil
}

// ClearScreen sends Ctrl-L then clears tmux's own history buffer, so the
// next capture starts from a blank pane.
func (p *Pane) ClearScreen() error {
	if err := p.SendKeys("C-l"); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if out, err := tmux("clear-history", "-t", p.SessionName); err != nil {
		return fmt.Errorf("pane: clear-history: %w (%s)", err, out)
	}
	return nil
}

// Pid returns the shell's PID, read directly from tmux's pane_pid format
// variable.
func (p *Pane) Pid() (int, error) {
	out, err := exec.Command("tmux", "display-message", "-t", p.SessionName, "-p", "#{pane_pid}").Output()
	if err != nil {
		return 0, fmt.Errorf("pane: display-message pane_pid: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("pane: parse pane_pid: %w", err)
	}
	return pid, nil
}

// KillSession terminates the tmux session, if it still exists.
func (p *Pane) KillSession() error {
	if !p.IsAlive() {
		return nil
	}
	if out, err := tmux("kill-session", "-t", p.SessionName); err != nil {
		return fmt.Errorf("pane: kill-session: %w (%s)", err, out)
	}
	return nil
}

// IsAlive reports whether the tmux session still exists.
func (p *Pane) IsAlive() bool {
	return exec.Command("tmux", "has-session", "-t", p.SessionName).Run() == nil
}

func tmux(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
