package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/crashlog"
	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/logic/ask"
	"github.com/neboloop/nexus/internal/svc"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Asks carry base64 attachments.
	maxMessageSize = 32 << 20
)

var (
	ErrClientSendBufferFull = errors.New("client send buffer full")
	ErrClientClosed         = errors.New("client connection closed")
)

// Client is one websocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	svcCtx *svc.ServiceContext

	ID string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for conn. Asks run under ctx.
func NewClient(ctx context.Context, conn *websocket.Conn, svcCtx *svc.ServiceContext, id string) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		svcCtx: svcCtx,
		ID:     id,
		ctx:    ctx,
		cancel: cancel,
	}
}

// readPump reads frames until the connection fails. Closing the
// connection cancels any ask the client started.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Errorf("[Web] WebSocket read error: %v", err)
			}
			return
		}
		c.handleTextMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) handleTextMessage(msg []byte) {
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		c.Send(&Notice{Action: ActionError, Message: "malformed frame: " + err.Error()}, false)
		return
	}

	switch frame.Type {
	case FrameAsk:
		if frame.Ask == nil {
			c.Send(&Notice{Action: ActionError, ID: frame.ID, Message: "ask frame without payload"}, false)
			return
		}
		// Runs apart from the read loop so a cancel frame can reach it.
		go c.handleAsk(frame)
	case FrameCancel:
		c.svcCtx.Dispatcher.CancelCurrentRequest()
	case FrameResetContext:
		if err := c.svcCtx.Dispatcher.ResetContext(c.ctx); err != nil {
			c.Send(&Notice{Action: ActionError, ID: frame.ID, Message: err.Error()}, false)
		}
	default:
		c.Send(&Notice{Action: ActionError, ID: frame.ID, Message: "unknown frame type: " + frame.Type}, false)
	}
}

func (c *Client) handleAsk(frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("websocket", r, map[string]string{"client": c.ID, "request": frame.ID})
			c.Send(&Notice{Action: ActionError, ID: frame.ID, Message: "internal error"}, true)
		}
	}()

	onUpdate := func(u ai.Update) {
		c.Send(&StreamUpdate{Action: ActionStreamUpdate, ID: frame.ID, Text: u.Text, Thoughts: u.Thoughts}, false)
	}

	reply, err := ask.NewAskLogic(c.ctx, c.svcCtx).Ask(frame.Ask, onUpdate)
	switch {
	case errors.Is(err, dispatch.ErrCanceled):
		c.Send(&Notice{Action: ActionCanceled, ID: frame.ID}, true)
	case err != nil:
		c.Send(&Notice{Action: ActionError, ID: frame.ID, Message: err.Error()}, true)
	default:
		c.Send(&ReplyFrame{ID: frame.ID, Reply: reply}, true)
	}
}

// Send queues v for the peer. Stream updates are dropped when the buffer is
// full; with wait set the call blocks until queued or the client closes.
func (c *Client) Send(v any, wait bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if wait {
		select {
		case c.send <- data:
			return nil
		case <-c.ctx.Done():
			return ErrClientClosed
		}
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
		return ErrClientSendBufferFull
	}
}
