package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wricardo/relaychat/chat/config"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/service"
	"github.com/wricardo/relaychat/validate"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one WebSocket connection. It implements session.Conn.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu     sync.Mutex
	closed bool
}

// Hub maintains the set of live connections and feeds their events into the
// chat service.
type Hub struct {
	chat     service.ChatService
	settings config.Settings
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// Live clients, owned by Run
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed once Run returns
	done chan struct{}

	count  atomic.Int64
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new WebSocket hub.
func NewHub(chat service.ChatService, settings config.Settings, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		chat:       chat,
		settings:   settings,
		logger:     logger.With("component", "websocket"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return settings.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return h
}

// Run starts the hub's event loop and blocks until ctx is cancelled. Every
// remaining connection is closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.cancel()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Count returns the number of open connections, joined or not.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// ServeWS handles WebSocket requests from clients.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.settings.SendBuffer),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// registerClient adds a client to the live set.
func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.count.Add(1)

	h.logger.Debug("client registered", "conn", client.id, "connections", len(h.clients))
}

// unregisterClient removes a client and releases its display name.
func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.count.Add(-1)
	client.close()

	if name, ok := h.chat.Leave(h.ctx, client); ok {
		h.logger.Debug("client released name", "conn", client.id, "name", name)
	}
	h.logger.Debug("client unregistered", "conn", client.id, "connections", len(h.clients))
}

// shutdown releases every name while all queues are still open, so each
// remaining client receives the others' leaves before its socket closes.
func (h *Hub) shutdown() {
	for client := range h.clients {
		h.chat.Leave(context.Background(), client)
	}
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.count.Store(0)
	h.logger.Info("websocket hub stopped")
}

// ID implements session.Conn.
func (c *Client) ID() string {
	return c.id
}

// Deliver queues env without blocking. A client that cannot keep up is
// closed; its disconnect then releases its name.
func (c *Client) Deliver(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// closeLocked ends the write pump, which closes the socket.
func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) sendError(code, message string) {
	env := protocol.MustNew(protocol.EventError, protocol.ErrorPayload{Code: code, Message: message})
	if err := c.Deliver(env); err != nil {
		c.hub.logger.Debug("error frame dropped", "conn", c.id, "error", err)
	}
}

// readPump pumps frames from the WebSocket connection into the chat service.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	settings := c.hub.settings
	c.conn.SetReadLimit(settings.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError(protocol.CodeInvalidArgument, "malformed frame")
			continue
		}
		c.handle(c.hub.ctx, env)
	}
}

// handle dispatches one client event. Rejections go to this client only.
func (c *Client) handle(ctx context.Context, env protocol.Envelope) {
	chat := c.hub.chat
	settings := c.hub.settings

	switch env.Event {
	case protocol.EventJoin:
		var p protocol.JoinPayload
		if err := env.Decode(&p); err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		name, err := validate.DisplayName(p.DisplayName)
		if err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		if err := chat.Join(ctx, c, name); err != nil {
			c.hub.logger.Error("join failed", "conn", c.id, "error", err)
			c.sendError(protocol.CodeInternal, "join failed")
		}

	case protocol.EventMessage:
		var p protocol.MessagePayload
		if err := env.Decode(&p); err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		body, ok, err := validate.Body(p.Body, settings.MaxBodyRunes)
		if err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		if !ok {
			return
		}
		if _, err := chat.SubmitText(ctx, chat.AuthorOf(c), body); err != nil {
			c.hub.logger.Error("message failed", "conn", c.id, "error", err)
			c.sendError(protocol.CodeInternal, "message failed")
		}

	case protocol.EventImage:
		var p protocol.ImagePayload
		if err := env.Decode(&p); err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		if err := validate.Attachment(p.AttachmentRef, settings.MaxImageBytes); err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		caption, _, err := validate.Body(p.Caption, settings.MaxBodyRunes)
		if err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		if _, err := chat.SubmitImage(ctx, chat.AuthorOf(c), p.AttachmentRef, caption); err != nil {
			c.hub.logger.Error("image failed", "conn", c.id, "error", err)
			c.sendError(protocol.CodeInternal, "image failed")
		}

	case protocol.EventTyping:
		var p protocol.TypingPayload
		if err := env.Decode(&p); err != nil {
			c.sendError(protocol.CodeInvalidArgument, err.Error())
			return
		}
		if err := chat.Typing(ctx, c, p.IsTyping); err != nil {
			c.hub.logger.Debug("typing relay failed", "conn", c.id, "error", err)
		}

	default:
		c.sendError(protocol.CodeUnsupported, "unsupported event "+env.Event)
	}
}

// writePump pumps queued frames to the WebSocket connection, one JSON
// envelope per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.settings.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := c.hub.settings.WriteWait
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The channel was closed by the hub or by a full buffer
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
