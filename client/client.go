package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/typing"
	"github.com/wricardo/relaychat/validate"
)

// Client is a relaychat participant: it owns the socket, the local typing
// producer and the remote typing consumer, and keeps the roster current.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	conn     *conn
	writeCh  chan protocol.Envelope
	producer *typing.Producer
	consumer *typing.Consumer

	mu        sync.Mutex
	connected bool
	closed    bool
	dialed    bool
	name      string
	roster    []string
	cancel    context.CancelFunc
	done      chan struct{}

	onMessage func(protocol.ChatMessage)
	onRoster  func([]string)
	onTyping  func(indicator string, names []string)
	onError   func(error)
}

// New constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  slog.Default(),
		writeCh: make(chan protocol.Envelope, 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.producer = typing.NewProducer(cfg.TypingIdle, c.emitTyping)
	c.consumer = typing.NewConsumer(cfg.TypingDisplay, c.typingChanged)
	return c
}

// OnMessage registers a callback for chat messages, system notices included.
func (c *Client) OnMessage(fn func(protocol.ChatMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnRoster registers a callback invoked with the full roster after every change.
func (c *Client) OnRoster(fn func([]string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoster = fn
}

// OnTyping registers a callback invoked whenever the set of remote typists
// changes, with the rendered indicator line.
func (c *Client) OnTyping(fn func(indicator string, names []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTyping = fn
}

// OnError registers a callback for server error frames and connection errors.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Connect dials the server and starts the read and write loops. After the
// server drops the connection Connect may be called again; the new session
// starts unjoined, so Join must be repeated.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if c.cfg.URL == "" {
		return ErrEmptyURL
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return err
	}

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return err
	}
	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cn := &conn{ws: ws, readTimeout: c.cfg.ReadTimeout, writeTimeout: c.cfg.WriteTimeout}

	c.mu.Lock()
	if closed := c.closed; closed || c.connected {
		c.mu.Unlock()
		cancel()
		ws.Close(websocket.StatusNormalClosure, "client close")
		if closed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}
	// The first connection closes the channel handed out by New.
	if c.dialed {
		c.done = make(chan struct{})
	}
	c.dialed = true
	done := c.done
	c.conn = cn
	c.cancel = cancel
	c.connected = true
	c.name = ""
	c.roster = nil
	c.mu.Unlock()

	go c.readLoop(runCtx, cancel, cn, done)
	go c.writeLoop(runCtx, cn)
	return nil
}

// Done is closed once the read loop of the current connection has stopped.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Join claims displayName for this connection.
func (c *Client) Join(ctx context.Context, displayName string) error {
	name, err := validate.DisplayName(displayName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.name = name
	c.mu.Unlock()

	return c.send(ctx, protocol.MustNew(protocol.EventJoin, protocol.JoinPayload{DisplayName: name}))
}

// Send submits a text message. A blank body sends nothing. Either way the
// local typing state ends.
func (c *Client) Send(ctx context.Context, body string) error {
	defer c.producer.Submitted()

	body, ok, err := validate.Body(body, 0)
	if err != nil || !ok {
		return err
	}
	name, err := c.joinedName()
	if err != nil {
		return err
	}
	return c.send(ctx, protocol.MustNew(protocol.EventMessage, protocol.MessagePayload{
		Body:        body,
		DisplayName: name,
	}))
}

// SendImage submits an image reference with an optional caption.
func (c *Client) SendImage(ctx context.Context, attachmentRef, caption string) error {
	defer c.producer.Submitted()

	if err := validate.Attachment(attachmentRef, 0); err != nil {
		return err
	}
	name, err := c.joinedName()
	if err != nil {
		return err
	}
	return c.send(ctx, protocol.MustNew(protocol.EventImage, protocol.ImagePayload{
		AttachmentRef: attachmentRef,
		DisplayName:   name,
		Caption:       caption,
	}))
}

// InputChanged reports the current content of the compose box.
func (c *Client) InputChanged(content string) {
	c.producer.InputChanged(content)
}

// DisplayName returns the name passed to the last Join.
func (c *Client) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Roster returns the participants known to this client in join order.
func (c *Client) Roster() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.roster...)
}

// TypingNames returns the remote participants currently shown as typing.
func (c *Client) TypingNames() []string {
	return c.consumer.Names()
}

// Indicator renders the typing line for TypingNames.
func (c *Client) Indicator() string {
	return c.consumer.Indicator()
}

// Close stops the typing timers, shuts down the loops and closes the socket.
func (c *Client) Close() error {
	c.producer.Close()
	c.consumer.Close()

	c.mu.Lock()
	c.connected = false
	c.closed = true
	cn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	var err error
	if cn != nil {
		err = cn.close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	return err
}

func (c *Client) joinedName() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return "", ErrNotJoined
	}
	return c.name, nil
}

func (c *Client) send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case c.writeCh <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitTyping runs under the producer's lock and therefore never blocks.
func (c *Client) emitTyping(isTyping bool) {
	c.mu.Lock()
	connected, name := c.connected, c.name
	c.mu.Unlock()
	if !connected || name == "" {
		return
	}

	env := protocol.MustNew(protocol.EventTyping, protocol.TypingPayload{DisplayName: name, IsTyping: isTyping})
	select {
	case c.writeCh <- env:
	default:
		c.logger.Debug("typing signal dropped", "isTyping", isTyping)
	}
}

func (c *Client) typingChanged(names []string) {
	c.mu.Lock()
	fn := c.onTyping
	c.mu.Unlock()
	if fn != nil {
		fn(typing.Render(names), names)
	}
}

// readLoop owns one connection. On exit it stops that connection's write
// loop and marks the client disconnected unless a newer connection exists.
func (c *Client) readLoop(ctx context.Context, cancel context.CancelFunc, cn *conn, done chan struct{}) {
	defer close(done)
	defer func() {
		cancel()
		c.mu.Lock()
		if c.conn == cn {
			c.connected = false
		}
		c.mu.Unlock()
	}()

	for {
		var env protocol.Envelope
		if err := cn.read(ctx, &env); err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.fireError(err)
			c.logger.Warn("read loop exit", "error", err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) writeLoop(ctx context.Context, cn *conn) {
	for {
		select {
		case env := <-c.writeCh:
			if err := cn.write(ctx, env); err != nil {
				if !isExpectedDisconnect(ctx, err) {
					c.fireError(err)
					c.logger.Warn("write loop exit", "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) fireError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}

func (c *Client) setRoster(update func([]string) []string) {
	c.mu.Lock()
	c.roster = update(c.roster)
	roster := append([]string(nil), c.roster...)
	fn := c.onRoster
	c.mu.Unlock()
	if fn != nil {
		fn(roster)
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
