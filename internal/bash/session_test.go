package bash

import (
	"testing"

	"github.com/openhands-sh/sandboxsh/internal/action"
)

func TestRemoveCommandPrefix(t *testing.T) {
	cases := []struct {
		output, command, want string
	}{
		{"ls -la\nfile1\nfile2", "ls -la", "file1\nfile2"},
		{"  ls -la\nfile1", "  ls -la", "file1"},
		{"no echo here", "ls", "no echo here"},
	}
	for _, tc := range cases {
		if got := removeCommandPrefix(tc.output, tc.command); got != tc.want {
			t.Errorf("removeCommandPrefix(%q, %q) = %q, want %q", tc.output, tc.command, got, tc.want)
		}
	}
}

func TestIsSpecialKeyToken(t *testing.T) {
	cases := map[string]bool{
		"C-c":    true,
		"C-d":    true,
		"ls":     false,
		"":       false,
		"C-cccc": false,
	}
	for in, want := range cases {
		if got := isSpecialKeyToken(in); got != want {
			t.Errorf("isSpecialKeyToken(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCommandOutputStripsEchoAndPriorOutput(t *testing.T) {
	s := &Session{}
	meta := action.NewMetadata()

	first := s.commandOutput("echo hi", "echo hi\nhi\n"+"\n###PS1JSON###\n{}\n###PS1END###\n", &meta, "")
	if first == "" {
		t.Fatalf("first commandOutput() returned empty")
	}

	// A second call with the same raw output (simulating no new bytes
	// since the previous capture) should strip down to nothing once the
	// previously-seen prefix is removed.
	meta2 := action.NewMetadata()
	second := s.commandOutput("echo hi", "echo hi\nhi\n"+"\n###PS1JSON###\n{}\n###PS1END###\n", &meta2, "[Below is the output of the previous command.]\n")
	if second != "" {
		t.Errorf("second commandOutput() = %q, want empty (identical raw output)", second)
	}
	if meta2.Prefix != "[Below is the output of the previous command.]\n" {
		t.Errorf("meta2.Prefix = %q, want continue prefix", meta2.Prefix)
	}
}
