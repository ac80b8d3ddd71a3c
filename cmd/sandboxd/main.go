// sandboxd is the daemon that owns one tmux-backed shell per session and
// drives it on behalf of a remote orchestrator over a WebSocket.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openhands-sh/sandboxsh/internal/action"
	"github.com/openhands-sh/sandboxsh/internal/bash"
	"github.com/openhands-sh/sandboxsh/internal/client"
	"github.com/openhands-sh/sandboxsh/internal/config"
	"github.com/openhands-sh/sandboxsh/internal/protocol"
)

var version = "dev"

// workRequest is the sync-from-async bridge: the WebSocket read loop
// enqueues a request and blocks on reply, while the session's own worker
// goroutine runs Execute serially against its single tmux pane.
type workRequest struct {
	ctx    context.Context
	action any
	reply  chan action.Observation
}

type sessionWorker struct {
	session *bash.Session
	work    chan workRequest
}

func newSessionWorker(s *bash.Session) *sessionWorker {
	w := &sessionWorker{session: s, work: make(chan workRequest)}
	go w.run()
	return w
}

func (w *sessionWorker) run() {
	for req := range w.work {
		obs := w.safeExecute(req.ctx, req.action)
		req.reply <- obs
	}
}

// safeExecute recovers the FatalError panics bash.Session.Execute raises
// on a contract violation, turning them into an error Observation instead
// of crashing the whole daemon: the Go analogue of the original's bare
// assertions, which would tear down only the one session's thread.
func (w *sessionWorker) safeExecute(ctx context.Context, act any) (obs action.Observation) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(bash.FatalError); ok {
				obs = action.Errorf("FATAL: %s", fe.Error())
				return
			}
			obs = action.Errorf("FATAL: %v", r)
		}
	}()
	return w.session.Execute(ctx, act)
}

type daemon struct {
	cfg     config.Config
	client  *client.Client
	mu      sync.Mutex
	workers map[string]*sessionWorker
}

func newDaemon(cfg config.Config) *daemon {
	return &daemon{cfg: cfg, workers: make(map[string]*sessionWorker)}
}

func (d *daemon) handleServerMessage(msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.MsgTypeSpawnSession:
		d.spawnSession(msg.SessionID, msg.Username, msg.Workspace)

	case protocol.MsgTypeExecute:
		d.execute(msg.SessionID, msg.Command, msg.Stop)

	case protocol.MsgTypeKillSession:
		d.killSession(msg.SessionID)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}
}

func (d *daemon) spawnSession(sessionID, username, workspace string) {
	if workspace == "" {
		workspace = d.cfg.Workspace
	}
	s := bash.NewSession(workspace, username, bash.SessionConfig{
		NoChangeTimeoutSeconds: d.cfg.NoChangeTimeoutSeconds,
		MaxMemoryMB:            d.cfg.MaxMemoryMB,
		HistoryLimit:           d.cfg.HistoryLimit,
		PaneCols:               d.cfg.PaneCols,
		PaneRows:               d.cfg.PaneRows,
		PollIntervalMillis:     d.cfg.PollIntervalMillis,
	})
	if err := s.Initialize(); err != nil {
		log.Printf("session %s: initialize failed: %v", sessionID, err)
		d.client.Send(protocol.DaemonMessage{
			Type:      protocol.MsgTypeSessionDown,
			SessionID: sessionID,
			Error:     err.Error(),
		})
		return
	}

	d.mu.Lock()
	d.workers[sessionID] = newSessionWorker(s)
	d.mu.Unlock()

	log.Printf("session %s: spawned (user=%s workspace=%s)", sessionID, username, workspace)
}

func (d *daemon) execute(sessionID string, cmd *action.CommandAction, stop *action.StopAction) {
	d.mu.Lock()
	w, ok := d.workers[sessionID]
	d.mu.Unlock()
	if !ok {
		d.client.Send(protocol.DaemonMessage{
			Type:      protocol.MsgTypeObservation,
			SessionID: sessionID,
			Error:     fmt.Sprintf("no session %s", sessionID),
		})
		return
	}

	var act any
	switch {
	case stop != nil:
		act = *stop
	case cmd != nil:
		act = *cmd
	default:
		act = action.Errorf("no action payload")
	}

	reply := make(chan action.Observation, 1)
	w.work <- workRequest{ctx: context.Background(), action: act, reply: reply}
	obs := <-reply

	d.client.Send(protocol.DaemonMessage{
		Type:        protocol.MsgTypeObservation,
		SessionID:   sessionID,
		Observation: &obs,
	})
}

func (d *daemon) killSession(sessionID string) {
	d.mu.Lock()
	w, ok := d.workers[sessionID]
	delete(d.workers, sessionID)
	d.mu.Unlock()

	if !ok {
		return
	}
	if err := w.session.Close(); err != nil {
		log.Printf("session %s: close failed: %v", sessionID, err)
	}
}

func (d *daemon) killAll() {
	d.mu.Lock()
	workers := make([]*sessionWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.workers = make(map[string]*sessionWorker)
	d.mu.Unlock()

	for _, w := range workers {
		w.session.Close()
	}
}

func main() {
	cfg, err := config.ParseFlags(config.Defaults(), os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = "ws://localhost:3000/ws/daemon"
	}

	hostname, _ := os.Hostname()
	envID := os.Getenv("SANDBOXSH_ENV_ID")
	if envID == "" {
		envID = fmt.Sprintf("sandboxd-%s-%d", hostname, time.Now().Unix())
	}

	log.Printf("sandboxd %s", version)
	log.Printf("environment: %s", envID)
	log.Printf("connecting to: %s", serverURL)

	d := newDaemon(cfg)

	reconnectChan := make(chan struct{}, 1)
	wsClient := client.New(serverURL, cfg.AuthToken, envID, cfg.Workspace,
		d.handleServerMessage,
		func() {
			select {
			case reconnectChan <- struct{}{}:
			default:
			}
		},
	)
	d.client = wsClient

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			for {
				if err := wsClient.Connect(); err != nil {
					log.Printf("failed to connect: %v, retrying in 5s", err)
					time.Sleep(5 * time.Second)
					continue
				}
				log.Printf("connected to orchestrator")
				break
			}

			select {
			case <-reconnectChan:
				// Reconnect() on the same Client, not a new one: any
				// observation queued while the connection was down (see
				// internal/client's pending-message queue) is replayed
				// once the socket is back up instead of being discarded
				// along with a freshly constructed client.
				log.Printf("disconnected, reconnecting in 2s")
				time.Sleep(2 * time.Second)
				if err := wsClient.Reconnect(); err != nil {
					log.Printf("failed to reconnect: %v", err)
				}
			case <-sigChan:
				return
			}
		}
	}()

	<-sigChan
	log.Println("shutting down")

	// Mirrors the original's two independent close-on-exit paths
	// (a finalizer plus a signal-driven atexit hook) by making sure every
	// session is torn down here regardless of how main() was entered.
	d.killAll()
	wsClient.Close()
}
