package proctree

import "testing"

func TestBuildTreeNoChildren(t *testing.T) {
	all := []Process{
		{PID: 1, PPID: 0, Cmdline: "/bin/bash"},
	}
	tree := buildTree(all, 1)
	if tree.IsCommandRunning {
		t.Errorf("IsCommandRunning = true, want false when shell has no children")
	}
	if tree.CurrentCommand != nil {
		t.Errorf("CurrentCommand = %v, want nil", tree.CurrentCommand)
	}
	if len(tree.CommandProcesses) != 0 {
		t.Errorf("CommandProcesses = %v, want empty", tree.CommandProcesses)
	}
}

func TestBuildTreeDirectChild(t *testing.T) {
	all := []Process{
		{PID: 1, PPID: 0, Cmdline: "/bin/bash"},
		{PID: 2, PPID: 1, Cmdline: "sleep 100"},
	}
	tree := buildTree(all, 1)
	if !tree.IsCommandRunning {
		t.Fatalf("IsCommandRunning = false, want true")
	}
	if tree.CurrentCommand == nil || tree.CurrentCommand.PID != 2 {
		t.Errorf("CurrentCommand = %v, want PID 2", tree.CurrentCommand)
	}
	if len(tree.CommandProcesses) != 1 {
		t.Errorf("CommandProcesses = %v, want 1 entry", tree.CommandProcesses)
	}
}

func TestBuildTreeTransitiveDescendant(t *testing.T) {
	all := []Process{
		{PID: 1, PPID: 0, Cmdline: "/bin/bash"},
		{PID: 2, PPID: 1, Cmdline: "make"},
		{PID: 3, PPID: 2, Cmdline: "cc -o out main.c"},
	}
	tree := buildTree(all, 1)
	if len(tree.CommandProcesses) != 2 {
		t.Fatalf("CommandProcesses = %v, want 2 entries", tree.CommandProcesses)
	}
	pids := map[int]bool{}
	for _, p := range tree.CommandProcesses {
		pids[p.PID] = true
	}
	if !pids[2] || !pids[3] {
		t.Errorf("CommandProcesses = %v, want PIDs 2 and 3", tree.CommandProcesses)
	}
}

func TestBuildTreeUnrelatedProcessExcluded(t *testing.T) {
	all := []Process{
		{PID: 1, PPID: 0, Cmdline: "/bin/bash"},
		{PID: 2, PPID: 1, Cmdline: "sleep 100"},
		{PID: 99, PPID: 50, Cmdline: "unrelated"},
	}
	tree := buildTree(all, 1)
	for _, p := range tree.CommandProcesses {
		if p.PID == 99 {
			t.Errorf("CommandProcesses includes unrelated PID 99")
		}
	}
}

func TestKillAllSkipsShellPID(t *testing.T) {
	tree := Tree{
		ShellPID: 1,
		CommandProcesses: []Process{
			{PID: 1, PPID: 0, Cmdline: "/bin/bash"},
		},
	}
	// PID 1 as a stand-in command process should be skipped; with nothing
	// else to kill, KillAll must report no success rather than attempting
	// to signal the shell itself.
	if got := KillAll(tree); got {
		t.Errorf("KillAll() = true, want false when the only entry is the shell PID")
	}
}
