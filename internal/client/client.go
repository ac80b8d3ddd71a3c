// Package client provides the WebSocket client sandboxd uses to register
// with and take commands from its orchestrator.
package client

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openhands-sh/sandboxsh/internal/protocol"
)

// maxPendingMessages bounds the outbound queue a Client holds while
// disconnected. A command's Observation can be produced well after the
// orchestrator connection drops, since the execution engine's polling
// loop keeps running locally up to the no-change timeout regardless of
// transport state; queueing here means a transient reconnect doesn't
// silently drop a command's result the way writing straight to a nil
// conn would. Heartbeats are never queued: a stale heartbeat delivered
// late is meaningless, so Send drops them outright instead.
const maxPendingMessages = 256

// Client manages the WebSocket connection to the orchestrator.
type Client struct {
	url          string
	authToken    string
	envID        string
	workspace    string
	conn         *websocket.Conn
	mu           sync.Mutex
	done         chan struct{}
	onMessage    func(protocol.ServerMessage)
	onDisconnect func()

	pending [][]byte
}

// New creates a new client.
func New(url, authToken, envID, workspace string, onMessage func(protocol.ServerMessage), onDisconnect func()) *Client {
	return &Client{
		url:          url,
		authToken:    authToken,
		envID:        envID,
		workspace:    workspace,
		done:         make(chan struct{}),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
	}
}

// Connect establishes connection to the orchestrator, sends the
// registration message, and replays any observations queued up while
// disconnected.
func (c *Client) Connect() error {
	url := c.url
	if c.authToken != "" {
		if strings.Contains(url, "?") {
			url += "&token=" + c.authToken
		} else {
			url += "?token=" + c.authToken
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.Send(protocol.DaemonMessage{
		Type:      protocol.MsgTypeRegister,
		EnvID:     c.envID,
		Workspace: c.workspace,
	})

	c.mu.Lock()
	c.flushPendingLocked()
	c.mu.Unlock()

	go c.readLoop()
	go c.heartbeatLoop()

	return nil
}

// Send sends a message to the orchestrator. If the connection is down or
// the write fails, the message is queued (see maxPendingMessages) rather
// than dropped, except for heartbeats.
func (c *Client) Send(msg protocol.DaemonMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.enqueueLocked(msg.Type, data)
		return nil
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.enqueueLocked(msg.Type, data)
		return err
	}
	return nil
}

func (c *Client) enqueueLocked(msgType string, data []byte) {
	if msgType == protocol.MsgTypeHeartbeat {
		return
	}
	if len(c.pending) >= maxPendingMessages {
		log.Printf("outbound queue full, dropping oldest queued %s message", msgType)
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, data)
}

// flushPendingLocked writes every queued message in order, stopping at
// the first failure so the remainder stays queued for the next attempt.
// Callers must hold c.mu and have already confirmed c.conn is non-nil.
func (c *Client) flushPendingLocked() {
	for len(c.pending) > 0 {
		if err := c.conn.WriteMessage(websocket.TextMessage, c.pending[0]); err != nil {
			return
		}
		c.pending = c.pending[1:]
	}
}

// Close closes the connection.
func (c *Client) Close() {
	close(c.done)

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		if c.onDisconnect != nil {
			c.onDisconnect()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("read error: %v", err)
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("failed to parse message: %v", err)
			continue
		}

		c.onMessage(msg)
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Send(protocol.DaemonMessage{Type: protocol.MsgTypeHeartbeat})
		}
	}
}

// Reconnect attempts to reconnect to the orchestrator.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	return c.Connect()
}
