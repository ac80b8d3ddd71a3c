// sandboxd-attach lets a human operator watch and drive a live session's
// tmux pane directly, the same way `tmux attach` would, without going
// through the orchestrator's typed action protocol.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/openhands-sh/sandboxsh/internal/pty"
)

func main() {
	sessionName := flag.String("session", "", "tmux session name to attach to (sandboxsh-<user>-<uuid>, as listed by 'tmux ls'; sandboxd's spawn log shows only the orchestrator's session ID)")
	flag.Parse()

	if *sessionName == "" {
		fmt.Fprintln(os.Stderr, "usage: sandboxd-attach -session <name>")
		os.Exit(2)
	}

	cols, rows := 80, 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		cols, rows = w, h
	}

	proc, err := pty.Spawn("tmux", []string{"attach-session", "-t", *sessionName}, "", nil, cols, rows)
	if err != nil {
		log.Fatalf("attach: spawn tmux: %v", err)
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		proc.Kill()
	}()

	proc.StartReadLoop(func(data []byte) {
		os.Stdout.Write(data)
	})
	go proc.Wait()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, werr := proc.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					log.Printf("attach: stdin read: %v", err)
				}
				return
			}
		}
	}()

	<-proc.Done()
}
