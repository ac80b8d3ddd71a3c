// Package action defines the typed request/response pair the execution
// engine speaks: a CommandAction or StopAction goes in, an Observation
// comes out.
package action

import "fmt"

// BashCommandStatus is the closed set of states a session can be left in
// after a command is sent.
type BashCommandStatus string

const (
	StatusNone            BashCommandStatus = ""
	StatusContinue        BashCommandStatus = "continue"
	StatusCompleted       BashCommandStatus = "completed"
	StatusNoChangeTimeout BashCommandStatus = "no_change_timeout"
	StatusHardTimeout     BashCommandStatus = "hard_timeout"
)

// Running reports whether status leaves a command in flight, i.e. whether
// an empty/input action may legally follow it.
func (s BashCommandStatus) Running() bool {
	switch s {
	case StatusContinue, StatusNoChangeTimeout, StatusHardTimeout:
		return true
	default:
		return false
	}
}

// CommandAction asks the session to run (or poll, or feed input to) a
// command.
type CommandAction struct {
	Command  string   `json:"command"`
	IsInput  bool     `json:"is_input"`
	Timeout  *float64 `json:"timeout,omitempty"` // seconds; nil = no hard deadline
	Blocking bool     `json:"blocking"`
}

// StopAction asks the session to kill every descendant of its shell.
type StopAction struct{}

// Metadata is the per-command information recovered from a PS1 fence, plus
// the human-readable prefix/suffix banners the engine attaches.
type Metadata struct {
	ExitCode      int    `json:"exit_code"`
	PID           *int   `json:"pid,omitempty"`
	Username      string `json:"username,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	WorkingDir    string `json:"working_dir,omitempty"`
	PyInterpreter string `json:"py_interpreter_path,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Suffix        string `json:"suffix,omitempty"`
}

// NewMetadata returns a metadata value with the spec's "unknown" exit code.
func NewMetadata() Metadata {
	return Metadata{ExitCode: -1}
}

// Observation is what every execute() call returns: either a command
// observation or an error observation, distinguished by IsError.
type Observation struct {
	Content  string   `json:"content"`
	Command  string   `json:"command"`
	Metadata Metadata `json:"metadata"`
	IsError  bool     `json:"is_error,omitempty"`
}

// Errorf builds an error Observation the way the engine returns
// unsupported-action / multi-command-rejection failures.
func Errorf(format string, args ...any) Observation {
	return Observation{
		Content:  fmt.Sprintf(format, args...),
		IsError:  true,
		Metadata: NewMetadata(),
	}
}
