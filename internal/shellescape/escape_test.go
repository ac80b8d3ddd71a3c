package shellescape

import (
	"strings"
	"testing"
)

func TestEscapeBlank(t *testing.T) {
	if got := Escape(""); got != "" {
		t.Errorf("Escape(\"\") = %q, want \"\"", got)
	}
	if got := Escape("   "); got != "" {
		t.Errorf("Escape(whitespace) = %q, want \"\"", got)
	}
}

func TestEscapePreservesPlainCommand(t *testing.T) {
	in := "ls -la /tmp"
	if got := Escape(in); got != in {
		t.Errorf("Escape(%q) = %q, want unchanged", in, got)
	}
}

func TestEscapeDoublesBackslashBeforeSpecialChars(t *testing.T) {
	in := `echo foo\;bar`
	got := Escape(in)
	if !strings.Contains(got, `\\;`) {
		t.Errorf("Escape(%q) = %q, want doubled backslash before ;", in, got)
	}
}

func TestEscapePreservesSingleQuotedString(t *testing.T) {
	in := `echo 'a\;b'`
	got := Escape(in)
	if !strings.Contains(got, `'a\;b'`) {
		t.Errorf("Escape(%q) = %q, want single-quoted body untouched", in, got)
	}
}

func TestEscapePreservesDoubleQuotedString(t *testing.T) {
	in := `echo "a\;b"`
	got := Escape(in)
	if !strings.Contains(got, `"a\;b"`) {
		t.Errorf("Escape(%q) = %q, want double-quoted body untouched", in, got)
	}
}

func TestEscapeFailOpen(t *testing.T) {
	in := `echo 'unterminated`
	if got := Escape(in); got != in {
		t.Errorf("Escape(%q) = %q, want unchanged on parse failure", in, got)
	}
}
