package live

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"StepFM/logger"

	"github.com/gorilla/websocket"
)

// ConnState is the per-connection lifecycle state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	readLimit      = 64 * 1024
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 256
)

// Client is one WebSocket connection to one live session.
type Client struct {
	actor *SessionActor
	Conn  *websocket.Conn
	Send  chan []byte

	done      chan struct{}
	closeOnce sync.Once

	SessionID string
	PlayerID  string
	Name      string
	Color     string

	state atomic.Int32
}

// NewClient wires a connection to a session actor. The client starts in
// CONNECTING; the actor moves it to OPEN once presence registration and the
// initial snapshot are done.
func NewClient(actor *SessionActor, conn *websocket.Conn, playerID, name, color string) *Client {
	c := &Client{
		actor:     actor,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		SessionID: actor.SessionID(),
		PlayerID:  playerID,
		Name:      name,
		Color:     color,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
}

// close signals both pumps to stop. The Send channel itself is never closed,
// so the actor can keep queueing to a client that is already on its way out.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads inbound frames and hands them to the session actor. It owns
// the connection teardown: on exit the actor is told whether the close was
// clean (presence removed immediately) or not (left to the prune sweep).
func (c *Client) ReadPump() {
	clean := false
	defer func() {
		c.setState(StateClosing)
		c.actor.Leave(c, clean)
		c.Conn.Close()
		c.setState(StateClosed)
	}()

	c.Conn.SetReadLimit(readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				clean = true
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("session", c.SessionID),
					logger.String("player", c.PlayerID))
			}
			return
		}

		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format",
				logger.ErrorField(err),
				logger.String("session", c.SessionID),
				logger.String("player", c.PlayerID))
			continue
		}

		c.actor.Deliver(c, &msg)
	}
}

// WritePump writes outbound frames and keeps the transport-level ping going.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// drain queued messages into the same frame, newline-delimited
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send queues an envelope without blocking; a full buffer drops the message
// and the slow client is dealt with by the actor's broadcast path.
func (c *Client) send(msg *WSMessage) bool {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}
