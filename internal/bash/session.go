// Package bash implements the execution engine (C5): the state machine
// that turns a CommandAction/StopAction into an Observation by driving a
// pane through the PS1 sentinel protocol.
package bash

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openhands-sh/sandboxsh/internal/action"
	"github.com/openhands-sh/sandboxsh/internal/pane"
	"github.com/openhands-sh/sandboxsh/internal/proctree"
	"github.com/openhands-sh/sandboxsh/internal/ps1"
	"github.com/openhands-sh/sandboxsh/internal/shellescape"
	"github.com/openhands-sh/sandboxsh/internal/shellsplit"
)

// DefaultPollInterval is how often the polling loop re-captures the pane
// when SessionConfig.PollIntervalMillis is left at 0.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultNoChangeTimeoutSeconds matches the original engine's default.
const DefaultNoChangeTimeoutSeconds = 30

// FatalError marks a contract violation the engine cannot recover from on
// its own: a missing PS1 fence where the protocol guarantees one, a call
// against an uninitialized session, or a session torn down mid-poll. The
// caller (the per-session worker goroutine) is expected to recover these
// at its boundary, the same way the original treated them as bare
// assertion failures that would simply crash the session.
type FatalError struct {
	Msg string
}

func (e FatalError) Error() string { return e.Msg }

func fatalf(format string, args ...any) {
	panic(FatalError{Msg: fmt.Sprintf(format, args...)})
}

// SessionConfig holds the per-session tunables config.Config surfaces to
// the daemon (see SPEC_FULL.md §9): how long to wait for output before
// declaring no-change, the pane's scrollback/geometry, and how often the
// polling loop re-captures the pane. Zero values fall back to the same
// defaults config.Defaults() returns.
type SessionConfig struct {
	NoChangeTimeoutSeconds int
	MaxMemoryMB            int // accepted for interface parity; not enforced, see SPEC_FULL.md §11
	HistoryLimit           int
	PaneCols               int
	PaneRows               int
	PollIntervalMillis     int
}

// Session is one live shell, backed by one tmux pane.
type Session struct {
	mu sync.Mutex

	pane                   *pane.Pane
	username               string
	workDir                string
	noChangeTimeoutSeconds int
	maxMemoryMB            int
	historyLimit           int
	paneCols               int
	paneRows               int
	pollInterval           time.Duration

	initialized bool
	closed      atomic.Bool
	running     atomic.Bool // set true once Initialize succeeds; false once torn down

	prevStatus action.BashCommandStatus
	prevOutput string
	cwd        string
}

// NewSession builds a session in its pre-Initialize state from cfg.
// MaxMemoryMB is accepted but not enforced: applying a memory limit is a
// container runtime concern (cgroups/sysbox-runc), out of reach of a
// tmux pane driver.
func NewSession(workDir, username string, cfg SessionConfig) *Session {
	noChangeTimeoutSeconds := cfg.NoChangeTimeoutSeconds
	if noChangeTimeoutSeconds <= 0 {
		noChangeTimeoutSeconds = DefaultNoChangeTimeoutSeconds
	}
	pollInterval := DefaultPollInterval
	if cfg.PollIntervalMillis > 0 {
		pollInterval = time.Duration(cfg.PollIntervalMillis) * time.Millisecond
	}
	return &Session{
		workDir:                workDir,
		username:               username,
		noChangeTimeoutSeconds: noChangeTimeoutSeconds,
		maxMemoryMB:            cfg.MaxMemoryMB,
		historyLimit:           cfg.HistoryLimit,
		paneCols:               cfg.PaneCols,
		paneRows:               cfg.PaneRows,
		pollInterval:           pollInterval,
	}
}

// Initialize opens the pane and installs the PS1 protocol. It must
// complete before any call to Execute.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pane = pane.New(s.username, s.workDir, s.paneCols, s.paneRows, s.historyLimit)
	if err := s.pane.Open(s.username); err != nil {
		return fmt.Errorf("bash: initialize: %w", err)
	}

	abs, err := filepath.Abs(s.workDir)
	if err != nil {
		abs = s.workDir
	}
	s.cwd = abs
	s.initialized = true
	s.running.Store(true)

	// Belt-and-suspenders close, mirroring the original's __del__: if the
	// caller forgets to Close the session explicitly (e.g. the daemon
	// crashes mid-request), the tmux session and its children are still
	// reclaimed once the garbage collector gets to it.
	runtime.SetFinalizer(s, func(s *Session) { s.Close() })
	return nil
}

// Cwd returns the last working directory observed at a completed command
// boundary.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Close kills every process still running under the shell and tears down
// the pane. It is safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.running.Store(false)
	if s.pane == nil {
		return nil
	}
	if pid, err := s.pane.Pid(); err == nil {
		tree := proctree.Discover(pid)
		proctree.KillAll(tree)
	}
	return s.pane.KillSession()
}

// Execute dispatches action, which must be an action.CommandAction or
// action.StopAction. Any other type yields an error Observation. Panics
// with a FatalError if the session is not initialized, if a completion is
// claimed without a PS1 fence to back it, or if ctx is canceled while a
// poll is in flight.
func (s *Session) Execute(ctx context.Context, act any) action.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		fatalf("bash session is not initialized")
	}

	switch a := act.(type) {
	case action.StopAction:
		pid, err := s.pane.Pid()
		success := false
		if err == nil {
			tree := proctree.Discover(pid)
			success = proctree.KillAll(tree)
		}
		content := "No processes were terminated"
		if success {
			content = "All running processes have been terminated"
		}
		return action.Observation{Content: content, Metadata: action.NewMetadata()}

	case action.CommandAction:
		command := strings.TrimSpace(a.Command)
		switch {
		case command == "":
			return s.handleEmptyCommand(ctx, a)
		case a.IsInput:
			return s.handleInputCommand(ctx, a, command)
		default:
			return s.handleNormalCommand(ctx, a, command)
		}

	default:
		return action.Errorf("Unsupported action type: %T", act)
	}
}

func (s *Session) handleEmptyCommand(ctx context.Context, a action.CommandAction) action.Observation {
	if !s.prevStatus.Running() {
		return action.Observation{
			Content:  "ERROR: No previous running command to retrieve logs from.",
			Metadata: action.NewMetadata(),
		}
	}
	return s.pollForCompletion(ctx, "", a)
}

func (s *Session) handleInputCommand(ctx context.Context, a action.CommandAction, command string) action.Observation {
	if !s.prevStatus.Running() {
		return action.Observation{
			Content:  "ERROR: No previous running command to interact with.",
			Metadata: action.NewMetadata(),
		}
	}
	if err := s.pane.SendKeys(command); err != nil {
		fatalf("bash: send input keys: %v", err)
	}
	return s.pollForCompletion(ctx, command, a)
}

func (s *Session) handleNormalCommand(ctx context.Context, a action.CommandAction, command string) action.Observation {
	lastPane, err := s.pane.Capture()
	if err != nil {
		fatalf("bash: capture pane: %v", err)
	}

	if (s.prevStatus == action.StatusHardTimeout || s.prevStatus == action.StatusNoChangeTimeout) &&
		!strings.HasSuffix(strings.TrimRight(lastPane, " \t\r\n"), ps1.EndMarker) {
		return s.handleInterruptedCommand(command, lastPane)
	}

	commands := shellsplit.Split(command)
	if len(commands) > 1 {
		var b strings.Builder
		b.WriteString("ERROR: Cannot execute multiple commands at once.\n")
		b.WriteString("Please run each command separately OR chain them into a single command via && or ;\n")
		b.WriteString("Provided commands:\n")
		for i, c := range commands {
			fmt.Fprintf(&b, "(%d) %s\n", i+1, c)
		}
		return action.Errorf("%s", strings.TrimRight(b.String(), "\n"))
	}

	escaped := shellescape.Escape(command)
	if err := s.pane.SendKeys(escaped); err != nil {
		fatalf("bash: send command keys: %v", err)
	}
	return s.pollForCompletion(ctx, escaped, a)
}

func (s *Session) handleInterruptedCommand(command, lastPane string) action.Observation {
	matches := ps1.Parse(lastPane)
	raw := ps1.Output(lastPane, matches, false)

	meta := action.NewMetadata()
	meta.Suffix = fmt.Sprintf(
		"\n[Your command %q is NOT executed. "+
			"The previous command is still running - You CANNOT send new commands until the previous command is completed. "+
			"By setting `is_input` to `true`, you can interact with the current process: "+
			"You may wait longer to see additional output of the previous command by sending empty command '', "+
			"send other commands to interact with the current process, "+
			`or send keys ("C-c", "C-z", "C-d") to interrupt/kill the previous command before sending your new command.]`,
		command,
	)

	content := s.commandOutput(command, raw, &meta, "[Below is the output of the previous command.]\n")
	return action.Observation{Content: content, Command: command, Metadata: meta}
}

// pollForCompletion is the state machine of spec section 4.5.6: capture,
// check for completion, check no-change/hard timeouts, sleep, repeat.
func (s *Session) pollForCompletion(ctx context.Context, command string, a action.CommandAction) action.Observation {
	startTime := time.Now()
	lastChangeTime := startTime

	lastPane, err := s.pane.Capture()
	if err != nil {
		fatalf("bash: capture pane: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			fatalf("bash: session interrupted while polling: %v", ctx.Err())
		default:
		}
		if !s.running.Load() {
			fatalf("bash: session interrupted while polling")
		}

		cur, err := s.pane.Capture()
		if err != nil {
			fatalf("bash: capture pane: %v", err)
		}
		matches := ps1.Parse(cur)

		if cur != lastPane {
			lastPane = cur
			lastChangeTime = time.Now()
		}

		if ps1.EndsWithFence(cur) {
			return s.handleCompleted(command, cur, matches)
		}

		if !a.Blocking && time.Since(lastChangeTime) >= time.Duration(s.noChangeTimeoutSeconds)*time.Second {
			return s.handleNoChangeTimeout(command, cur, matches)
		}

		if a.Timeout != nil && time.Since(startTime) >= time.Duration(*a.Timeout*float64(time.Second)) {
			return s.handleHardTimeout(command, cur, matches, *a.Timeout)
		}

		time.Sleep(s.pollInterval)
	}
}

func (s *Session) handleCompleted(command, paneContent string, matches []ps1.Match) action.Observation {
	if len(matches) < 1 {
		fatalf("expected at least one PS1 metadata block, but got 0.\n---FULL OUTPUT---\n%s\n---END OF OUTPUT---", paneContent)
	}

	isSpecialKey := isSpecialKeyToken(command)
	meta := matches[len(matches)-1].Metadata

	getContentBeforeLastMatch := len(matches) == 1

	if meta.WorkingDir != "" && meta.WorkingDir != s.cwd {
		s.cwd = meta.WorkingDir
	}

	raw := ps1.Output(paneContent, matches, getContentBeforeLastMatch)

	if getContentBeforeLastMatch {
		lines := strings.Count(raw, "\n") + 1
		if raw == "" {
			lines = 0
		}
		meta.Prefix = fmt.Sprintf("[Previous command outputs are truncated. Showing the last %d lines of the output below.]\n", lines)
	}

	if isSpecialKey {
		key := strings.ToUpper(command[len(command)-1:])
		meta.Suffix = fmt.Sprintf("\n[The command completed with exit code %d. CTRL+%s was sent.]", meta.ExitCode, key)
	} else {
		meta.Suffix = fmt.Sprintf("\n[The command completed with exit code %d.]", meta.ExitCode)
	}

	content := s.commandOutput(command, raw, &meta, "")

	s.prevStatus = action.StatusCompleted
	s.prevOutput = ""
	if err := s.pane.ClearScreen(); err != nil {
		fatalf("bash: clear screen after completion: %v", err)
	}

	return action.Observation{Content: content, Command: command, Metadata: meta}
}

func (s *Session) handleNoChangeTimeout(command, paneContent string, matches []ps1.Match) action.Observation {
	s.prevStatus = action.StatusNoChangeTimeout

	raw := ps1.Output(paneContent, matches, false)
	meta := action.NewMetadata()
	meta.Suffix = fmt.Sprintf(
		"\n[The command has no new output after %d seconds. "+
			"You may wait longer to see additional output by sending empty command '', "+
			"send other commands to interact with the current process, "+
			"or send keys to interrupt/kill the command.]",
		s.noChangeTimeoutSeconds,
	)

	content := s.commandOutput(command, raw, &meta, "[Below is the output of the previous command.]\n")
	return action.Observation{Content: content, Command: command, Metadata: meta}
}

func (s *Session) handleHardTimeout(command, paneContent string, matches []ps1.Match, timeout float64) action.Observation {
	s.prevStatus = action.StatusHardTimeout

	raw := ps1.Output(paneContent, matches, false)
	meta := action.NewMetadata()
	meta.Suffix = fmt.Sprintf(
		"\n[The command timed out after %g seconds. "+
			"You may wait longer to see additional output by sending empty command '', "+
			"send other commands to interact with the current process, "+
			"or send keys to interrupt/kill the command.]",
		timeout,
	)

	content := s.commandOutput(command, raw, &meta, "[Below is the output of the previous command.]\n")
	return action.Observation{Content: content, Command: command, Metadata: meta}
}

// commandOutput strips the previously-seen output prefix and the echoed
// command from rawOutput, the way the original's _get_command_output did,
// and sets meta.Prefix to continuePrefix whenever there was a previous
// output to diff against.
func (s *Session) commandOutput(command, rawOutput string, meta *action.Metadata, continuePrefix string) string {
	var out string
	if s.prevOutput != "" {
		out = strings.TrimPrefix(rawOutput, s.prevOutput)
		meta.Prefix = continuePrefix
	} else {
		out = rawOutput
	}
	s.prevOutput = rawOutput

	out = removeCommandPrefix(out, command)
	return strings.TrimRight(out, " \t\r\n")
}

func removeCommandPrefix(commandOutput, command string) string {
	trimmed := strings.TrimLeft(commandOutput, " \t\r\n")
	trimmed = strings.TrimPrefix(trimmed, strings.TrimLeft(command, " \t\r\n"))
	return strings.TrimLeft(trimmed, " \t\r\n")
}

func isSpecialKeyToken(command string) bool {
	c := strings.TrimSpace(command)
	return strings.HasPrefix(c, "C-") && len(c) == 3
}
