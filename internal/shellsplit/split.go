// Package shellsplit parses a user-supplied command string into discrete
// top-level shell commands using a real POSIX shell grammar, so the engine
// can reject multi-command inputs instead of silently running several
// commands in a row and losing track of which exit code belongs to which.
package shellsplit

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Split parses commands with a POSIX-shell grammar and returns the
// top-level commands found in it, each right-stripped of trailing
// whitespace. Text between two parsed nodes (comment tails, trailing
// connectors) is folded into the previous node's substring; trailing text
// after the last node is folded the same way.
//
// An empty or whitespace-only input returns [""], not an empty slice. If
// parsing fails or hits an unsupported construct, the whole input is
// returned as a single element (fail-open: let the shell itself reject
// malformed input).
func Split(commands string) []string {
	if strings.TrimSpace(commands) == "" {
		return []string{""}
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(commands), "")
	if err != nil {
		return []string{commands}
	}

	if len(file.Stmts) == 0 {
		return []string{commands}
	}

	var result []string
	lastEnd := 0

	for _, stmt := range file.Stmts {
		start := int(stmt.Pos().Offset())
		end := int(stmt.End().Offset())

		if start > lastEnd {
			between := commands[lastEnd:start]
			if len(result) > 0 {
				result[len(result)-1] += strings.TrimRight(between, " \t\r\n")
			} else if strings.TrimSpace(between) != "" {
				result = append(result, strings.TrimRight(between, " \t\r\n"))
			}
		}

		cmd := strings.TrimRight(commands[start:end], " \t\r\n")
		result = append(result, cmd)
		lastEnd = end
	}

	if lastEnd < len(commands) {
		remaining := strings.TrimRight(commands[lastEnd:], " \t\r\n")
		if len(result) > 0 {
			result[len(result)-1] += remaining
		} else if remaining != "" {
			result = append(result, remaining)
		}
	}

	if len(result) == 0 {
		return []string{""}
	}

	return result
}
