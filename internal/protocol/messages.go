// Package protocol defines the WebSocket message types exchanged between
// sandboxd and the orchestrator it registers with.
package protocol

import "github.com/openhands-sh/sandboxsh/internal/action"

// DaemonMessage is sent from the daemon up to the orchestrator.
type DaemonMessage struct {
	Type        string              `json:"type"`
	EnvID       string              `json:"envId,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`
	Workspace   string              `json:"workspace,omitempty"`
	Observation *action.Observation `json:"observation,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// ServerMessage is received by the daemon from the orchestrator.
type ServerMessage struct {
	Type      string                `json:"type"`
	SessionID string                `json:"sessionId,omitempty"`
	Username  string                `json:"username,omitempty"`
	Workspace string                `json:"workspace,omitempty"`
	Command   *action.CommandAction `json:"command,omitempty"`
	Stop      *action.StopAction    `json:"stop,omitempty"`
}

// Message types from daemon to orchestrator.
const (
	MsgTypeRegister    = "register"
	MsgTypeHeartbeat   = "heartbeat"
	MsgTypeObservation = "observation"
	MsgTypeSessionDown = "session-down"
)

// Message types from orchestrator to daemon.
const (
	MsgTypeSpawnSession = "spawn-session"
	MsgTypeExecute      = "execute"
	MsgTypeKillSession  = "kill-session"
)
