// Package shellescape doubles backslashes in front of a handful of shell
// metacharacters that Go's process-launching code would otherwise interpret
// differently than an interactive bash would, while leaving quoted strings,
// command substitutions, and heredoc bodies untouched.
package shellescape

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// specialCharsRE matches a backslash in front of one of the characters
// whose preceding backslash bash treats as an escape but a raw pass-through
// would not: ; & | > <
var specialCharsRE = regexp.MustCompile(`\\([;&|><])`)

func doubleBackslashes(s string) string {
	return specialCharsRE.ReplaceAllString(s, `\\$1`)
}

// Escape walks command with a POSIX-shell grammar and doubles the
// backslash in front of each of ; & | > < that appears outside of a
// quoted string, command substitution, or heredoc body. Quoted strings
// ("...", '...', $(...), `...`) and heredoc bodies are copied through
// unchanged, mirroring the original's preserve-as-is behavior.
//
// A blank command returns "". If parsing fails, the command is returned
// unchanged (fail-open): the shell itself will reject whatever malformed
// input caused the parse error.
func Escape(command string) string {
	if strings.TrimSpace(command) == "" {
		return ""
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return command
	}

	var b strings.Builder
	lastPos := 0

	flushGap := func(end int) {
		if end > lastPos {
			b.WriteString(doubleBackslashes(command[lastPos:end]))
		}
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		if node == nil {
			return true
		}

		if redirect, ok := node.(*syntax.Redirect); ok && redirect.Hdoc != nil {
			start := int(redirect.Pos().Offset())
			end := int(redirect.Hdoc.End().Offset())
			flushGap(start)
			b.WriteString(command[start:end])
			lastPos = end
			return false
		}

		word, ok := node.(*syntax.Word)
		if !ok {
			return true
		}

		start := int(word.Pos().Offset())
		end := int(word.End().Offset())
		if start < lastPos {
			// Nested inside an already-consumed heredoc or word; skip.
			return false
		}

		flushGap(start)

		text := command[start:end]
		if isQuotedOrSubstitution(text) {
			b.WriteString(text)
		} else {
			b.WriteString(doubleBackslashes(text))
		}
		lastPos = end
		return false
	})

	flushGap(len(command))

	return b.String()
}

func isQuotedOrSubstitution(text string) bool {
	switch {
	case strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`):
		return true
	case strings.HasPrefix(text, "'") && strings.HasSuffix(text, "'"):
		return true
	case strings.HasPrefix(text, "$(") && strings.HasSuffix(text, ")"):
		return true
	case strings.HasPrefix(text, "`") && strings.HasSuffix(text, "`"):
		return true
	default:
		return false
	}
}
