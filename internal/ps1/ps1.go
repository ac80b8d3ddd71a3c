// Package ps1 implements the PS1 sentinel protocol: the fenced JSON block
// a shell is made to emit on every prompt, and the scanning/framing logic
// that recovers command output and metadata from a captured pane buffer.
package ps1

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/openhands-sh/sandboxsh/internal/action"
)

// StartMarker and EndMarker delimit the fenced JSON block. They are a wire
// compatibility contract: changing either invalidates every in-flight
// session and any stored output that still contains a raw fence.
const (
	StartMarker = "###PS1JSON###"
	EndMarker   = "###PS1END###"
)

var fenceRE = regexp.MustCompile(`(?s)(?:\r?\n)?` + regexp.QuoteMeta(StartMarker) + `\r?\n(\{.*?\})\r?\n` + regexp.QuoteMeta(EndMarker) + `(?:\r?\n)?`)

// rawFence is the wire shape: every field is a bash-interpolated string,
// including the two that are logically numeric.
type rawFence struct {
	PID               string `json:"pid"`
	ExitCode          string `json:"exit_code"`
	Username          string `json:"username"`
	Hostname          string `json:"hostname"`
	WorkingDir        string `json:"working_dir"`
	PyInterpreterPath string `json:"py_interpreter_path"`
	Timestamp         string `json:"timestamp"`
}

// Match is one fenced block found in a captured pane buffer, with its byte
// offsets into that buffer and its decoded metadata.
type Match struct {
	Start    int
	End      int
	Metadata action.Metadata
}

// Parse scans capture for every occurrence of the fenced JSON block. It
// tolerates trailing CR/LF inside the fence and multiple fences in one
// capture. exit_code defaults to -1 when missing or non-numeric; every
// other field defaults to empty on decode failure.
func Parse(capture string) []Match {
	idxs := fenceRE.FindAllStringSubmatchIndex(capture, -1)
	if idxs == nil {
		return nil
	}

	matches := make([]Match, 0, len(idxs))
	for _, idx := range idxs {
		start, end := idx[0], idx[1]
		body := capture[idx[2]:idx[3]]

		var raw rawFence
		_ = json.Unmarshal([]byte(body), &raw)

		meta := action.NewMetadata()
		if code, err := strconv.Atoi(strings.TrimSpace(raw.ExitCode)); err == nil {
			meta.ExitCode = code
		}
		if raw.PID != "" {
			if pid, err := strconv.Atoi(strings.TrimSpace(raw.PID)); err == nil {
				meta.PID = &pid
			}
		}
		meta.Username = raw.Username
		meta.Hostname = raw.Hostname
		meta.WorkingDir = raw.WorkingDir
		meta.PyInterpreter = raw.PyInterpreterPath
		meta.Timestamp = raw.Timestamp

		matches = append(matches, Match{Start: start, End: end, Metadata: meta})
	}
	return matches
}

// EndsWithFence reports whether capture, right-stripped of trailing
// whitespace, ends with the PS1 end marker: the completion check the
// polling loop runs on every iteration.
func EndsWithFence(capture string) bool {
	trimmed := strings.TrimRight(capture, " \t\r\n")
	return strings.HasSuffix(trimmed, EndMarker)
}

// Output applies the framing rule of the PS1 protocol to recover the
// command output from a captured pane buffer and its fence matches.
//
//   - 0 matches: the whole capture is raw command output with no metadata.
//   - 1 match, completed == false: everything after the match (the
//     command is still running, the match is the pre-command prompt).
//   - 1 match, completed == true: everything before the match (the
//     scrollback-eviction / truncation case).
//   - 2+ matches: the spans between consecutive matches, each terminated
//     by a newline; the final match carries the post-completion metadata.
func Output(capture string, matches []Match, completed bool) string {
	switch len(matches) {
	case 0:
		return capture
	case 1:
		if completed {
			return capture[:matches[0].Start]
		}
		return capture[matches[0].End:]
	default:
		var b strings.Builder
		for i := 0; i < len(matches)-1; i++ {
			b.WriteString(capture[matches[i].End:matches[i+1].Start])
			b.WriteString("\n")
		}
		return b.String()
	}
}

// FunctionScript returns the shell snippet that installs the PS1 fence
// function and wires it into PROMPT_COMMAND, disabling PS2 so line
// continuations cannot corrupt the stream. userFile and hostFile must
// already contain the session's username/hostname (see UserHostCommand)
// so the function only cats them instead of running whoami/hostname
// inline on every prompt.
func FunctionScript(userFile, hostFile string) string {
	return "" +
		"function _sandboxsh_ps1() {\n" +
		"  local exit_code=\"$?\"\n" +
		"  local pid=\"$!\"\n" +
		"  local username=\"$(cat " + userFile + ")\"\n" +
		"  local hostname=\"$(cat " + hostFile + ")\"\n" +
		"  local working_dir=\"$(pwd)\"\n" +
		"  local py_interpreter_path=\"$(which python 2>/dev/null || true)\"\n" +
		"  local timestamp=\"$(date +%s)\"\n" +
		"  printf \"\\n" + StartMarker + "\\n{\\n\"\n" +
		"  printf \"  \\\"pid\\\": \\\"%s\\\",\\n\" \"$pid\"\n" +
		"  printf \"  \\\"exit_code\\\": \\\"%s\\\",\\n\" \"$exit_code\"\n" +
		"  printf \"  \\\"username\\\": \\\"%s\\\",\\n\" \"$username\"\n" +
		"  printf \"  \\\"hostname\\\": \\\"%s\\\",\\n\" \"$hostname\"\n" +
		"  printf \"  \\\"working_dir\\\": \\\"%s\\\",\\n\" \"$working_dir\"\n" +
		"  printf \"  \\\"py_interpreter_path\\\": \\\"%s\\\",\\n\" \"$py_interpreter_path\"\n" +
		"  printf \"  \\\"timestamp\\\": \\\"%s\\\"\\n\" \"$timestamp\"\n" +
		"  printf \"}\\n" + EndMarker + "\\n\"\n" +
		"}\n" +
		"export PROMPT_COMMAND='export PS1=\"$(_sandboxsh_ps1)\"'; export PS2=\"\""
}

// UserHostCommand returns the command that snapshots whoami/hostname into
// userFile/hostFile once, so the PS1 function can read them back instead of
// running whoami/hostname on every prompt.
func UserHostCommand(userFile, hostFile string) string {
	return "whoami > " + userFile + " && hostname > " + hostFile
}
