package network

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/mementos/server/internal/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
	// Minimum spacing between two commands of one client.
	minCommandInterval = 50 * time.Millisecond
)

// Command types accepted from the desktop.
const (
	CommandStart           = "START"
	CommandPause           = "PAUSE"
	CommandResume          = "RESUME"
	CommandMarkRead        = "MARK_READ"
	CommandDismissMessage  = "DISMISS_MESSAGE"
	CommandAckNotification = "ACK_NOTIFICATION"
	CommandEnqueueDownload = "ENQUEUE_DOWNLOAD"
	CommandPauseDownload   = "PAUSE_DOWNLOAD"
	CommandResumeDownload  = "RESUME_DOWNLOAD"
)

// ClientCommand represents an incoming command from the desktop.
type ClientCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type idPayload struct {
	ID string `json:"id"`
}

// Client is one WebSocket connection.
type Client struct {
	hub             *Hub
	conn            *websocket.Conn
	send            chan []byte
	remote          string
	lastCommandTime time.Time
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.sendBuffer),
		remote: remote,
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ReadPump pumps commands from the websocket connection to the game.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.metrics.RecordWSError()
				c.hub.logger.Warn("websocket read failed", "remote", c.remote, "error", err)
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var cmd ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.logger.Warn("failed to parse client command", "remote", c.remote, "error", err)
			continue
		}

		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd ClientCommand) {
	if time.Since(c.lastCommandTime) < minCommandInterval {
		c.hub.logger.Warn("rate limit exceeded", "remote", c.remote, "type", cmd.Type)
		return
	}
	c.lastCommandTime = time.Now()

	game := c.hub.game
	var ok bool
	switch cmd.Type {
	case CommandStart:
		ok = game.Start()
	case CommandPause:
		ok = game.Pause()
	case CommandResume:
		ok = game.Resume()
	case CommandMarkRead:
		ok = c.withID(cmd, game.MarkEmailRead)
	case CommandDismissMessage:
		ok = c.withID(cmd, game.DismissMessage)
	case CommandAckNotification:
		ok = c.withID(cmd, game.AckNotification)
	case CommandPauseDownload:
		ok = c.withID(cmd, game.PauseDownload)
	case CommandResumeDownload:
		ok = c.withID(cmd, game.ResumeDownload)
	case CommandEnqueueDownload:
		ok = c.withID(cmd, func(id string) bool {
			_, added, err := game.EnqueueItem(id)
			if errors.Is(err, engine.ErrUnknownItem) {
				c.hub.logger.Warn("enqueue of unknown item", "remote", c.remote, "item", id)
			}
			return added
		})
	default:
		c.hub.logger.Warn("unknown client command", "remote", c.remote, "type", cmd.Type)
		return
	}

	if !ok {
		c.hub.logger.Debug("client command had no effect", "remote", c.remote, "type", cmd.Type)
	}
}

func (c *Client) withID(cmd ClientCommand, fn func(string) bool) bool {
	var p idPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.ID == "" {
		c.hub.logger.Warn("command without id", "remote", c.remote, "type", cmd.Type)
		return false
	}
	return fn(p.ID)
}

// WritePump pumps messages from the hub to the websocket connection.
// Each message goes out as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
			c.hub.metrics.RecordWSMessage(false)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
