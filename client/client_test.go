package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"github.com/wricardo/relaychat/chat/config"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/service"
	"github.com/wricardo/relaychat/chat/session"
	relayws "github.com/wricardo/relaychat/transport/websocket"
	"github.com/wricardo/relaychat/validate"
)

// recorder collects everything a client reports through its callbacks
type recorder struct {
	mu         sync.Mutex
	messages   []protocol.ChatMessage
	rosters    [][]string
	indicators []string
	errors     []error
}

func attach(c *Client) *recorder {
	r := &recorder{}
	c.OnMessage(func(m protocol.ChatMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, m)
	})
	c.OnRoster(func(names []string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rosters = append(r.rosters, names)
	})
	c.OnTyping(func(indicator string, _ []string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.indicators = append(r.indicators, indicator)
	})
	c.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errors = append(r.errors, err)
	})
	return r
}

func (r *recorder) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Body)
	}
	return out
}

func (r *recorder) lastIndicator() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.indicators) == 0 {
		return "", false
	}
	return r.indicators[len(r.indicators)-1], true
}

func (r *recorder) errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

func frame(t *testing.T, event string, data any) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(event, data)
	require.NoError(t, err)
	return env
}

func offline(t *testing.T, name string) (*Client, *recorder) {
	t.Helper()
	c := New(DefaultConfig())
	t.Cleanup(func() { c.Close() })
	r := attach(c)
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return c, r
}

func TestDispatch_SuppressesOwnJoin(t *testing.T) {
	req := require.New(t)
	c, r := offline(t, "alice")
	now := time.Now()

	// Given the roster arrives first
	c.dispatch(frame(t, protocol.EventConnectedUsers, protocol.RosterPayload{Names: []string{"bob", "alice"}}))

	// When the server echoes our own join
	c.dispatch(frame(t, protocol.EventUserJoined, protocol.PresencePayload{DisplayName: "alice"}))
	c.dispatch(frame(t, protocol.EventMessage, protocol.JoinedNotice("1", "alice", now)))

	// Then neither shows up
	req.Equal([]string{"bob", "alice"}, c.Roster())
	req.Empty(r.bodies())

	// And other people's joins do
	c.dispatch(frame(t, protocol.EventUserJoined, protocol.PresencePayload{DisplayName: "carol"}))
	c.dispatch(frame(t, protocol.EventMessage, protocol.JoinedNotice("2", "carol", now)))
	req.Equal([]string{"bob", "alice", "carol"}, c.Roster())
	req.Equal([]string{"carol joined the chat"}, r.bodies())
}

func TestDispatch_RosterDeltas(t *testing.T) {
	req := require.New(t)
	c, r := offline(t, "alice")

	c.dispatch(frame(t, protocol.EventConnectedUsers, protocol.RosterPayload{Names: []string{"alice"}}))
	c.dispatch(frame(t, protocol.EventUserJoined, protocol.PresencePayload{DisplayName: "bob"}))
	c.dispatch(frame(t, protocol.EventUserJoined, protocol.PresencePayload{DisplayName: "bob"}))
	c.dispatch(frame(t, protocol.EventUserLeft, protocol.PresencePayload{DisplayName: "bob"}))
	c.dispatch(frame(t, protocol.EventUserLeft, protocol.PresencePayload{DisplayName: "nobody"}))

	req.Equal([]string{"alice"}, c.Roster())
	r.mu.Lock()
	defer r.mu.Unlock()
	req.Equal([][]string{
		{"alice"},
		{"alice", "bob"},
		{"alice", "bob"},
		{"alice"},
		{"alice"},
	}, r.rosters)
}

func TestDispatch_TypingIgnoresSelfAndClearsOnLeave(t *testing.T) {
	req := require.New(t)
	c, _ := offline(t, "alice")

	c.dispatch(frame(t, protocol.EventTyping, protocol.TypingPayload{DisplayName: "alice", IsTyping: true}))
	req.Empty(c.TypingNames())

	c.dispatch(frame(t, protocol.EventTyping, protocol.TypingPayload{DisplayName: "bob", IsTyping: true}))
	c.dispatch(frame(t, protocol.EventTyping, protocol.TypingPayload{DisplayName: "carol", IsTyping: true}))
	req.Equal([]string{"bob", "carol"}, c.TypingNames())
	req.Equal("bob and carol are typing...", c.Indicator())

	c.dispatch(frame(t, protocol.EventUserLeft, protocol.PresencePayload{DisplayName: "bob"}))
	req.Equal([]string{"carol"}, c.TypingNames())

	c.dispatch(frame(t, protocol.EventTyping, protocol.TypingPayload{DisplayName: "carol", IsTyping: false}))
	req.Empty(c.TypingNames())
}

func TestDispatch_RosterAppliesServerTypingDelays(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		req := require.New(t)
		c, _ := offline(t, "alice")

		// Given the server announces a 500ms display delay on join
		c.dispatch(frame(t, protocol.EventConnectedUsers, protocol.RosterPayload{
			Names:           []string{"alice", "bob"},
			TypingIdleMs:    250,
			TypingDisplayMs: 500,
		}))

		// When bob starts typing and never stops
		c.dispatch(frame(t, protocol.EventTyping, protocol.TypingPayload{DisplayName: "bob", IsTyping: true}))
		req.Equal([]string{"bob"}, c.TypingNames())

		// Then the indicator clears after the announced delay, not the local default
		time.Sleep(500*time.Millisecond + time.Millisecond)
		synctest.Wait()
		req.Empty(c.TypingNames())
	})
}

func TestDispatch_FixedTypingDelaysIgnoreServer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		req := require.New(t)
		cfg := DefaultConfig()
		cfg.FixedTypingDelays = true
		c := New(cfg)
		defer c.Close()
		c.mu.Lock()
		c.name = "alice"
		c.mu.Unlock()

		c.dispatch(frame(t, protocol.EventConnectedUsers, protocol.RosterPayload{
			Names:           []string{"alice", "bob"},
			TypingDisplayMs: 500,
		}))
		c.dispatch(frame(t, protocol.EventTyping, protocol.TypingPayload{DisplayName: "bob", IsTyping: true}))

		time.Sleep(time.Second)
		synctest.Wait()
		req.Equal([]string{"bob"}, c.TypingNames())

		time.Sleep(cfg.TypingDisplay)
		synctest.Wait()
		req.Empty(c.TypingNames())
	})
}

func TestDispatch_ServerError(t *testing.T) {
	req := require.New(t)
	c, r := offline(t, "alice")

	c.dispatch(frame(t, protocol.EventError, protocol.ErrorPayload{Code: protocol.CodeInvalidArgument, Message: "body too long"}))

	errs := r.errs()
	req.Len(errs, 1)
	var serverErr *ServerError
	req.ErrorAs(errs[0], &serverErr)
	req.Equal(protocol.CodeInvalidArgument, serverErr.Code)
	req.Equal("INVALID_ARGUMENT: body too long", serverErr.Error())
}

func TestClient_NotConnected(t *testing.T) {
	req := require.New(t)
	c := New(DefaultConfig())
	defer c.Close()

	req.ErrorIs(c.Join(context.Background(), "alice"), ErrNotConnected)
	req.ErrorIs(c.Send(context.Background(), "hi"), ErrNotConnected)
	req.ErrorIs(c.Connect(context.Background()), ErrEmptyURL)
}

func TestClient_LocalValidation(t *testing.T) {
	req := require.New(t)
	c := New(DefaultConfig())
	defer c.Close()

	req.ErrorIs(c.Join(context.Background(), "a"), validate.ErrInvalidInput)
	req.NoError(c.Send(context.Background(), "   "))
	req.ErrorIs(c.SendImage(context.Background(), "not a url", ""), validate.ErrInvalidInput)
}

// runHub starts a real hub that lives until the test ends.
func runHub(t *testing.T) *relayws.Hub {
	t.Helper()
	settings, err := config.Load()
	require.NoError(t, err)
	settings.MaxBodyRunes = 50
	settings.TypingIdle = 200 * time.Millisecond
	settings.TypingDisplay = 300 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chat := service.NewChatService(session.NewRegistry(),
		service.WithLogger(logger),
		service.WithTypingDelays(settings.TypingIdle, settings.TypingDisplay),
	)
	hub := relayws.NewHub(chat, settings, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// relay starts a real hub behind an httptest server.
func relay(t *testing.T) string {
	t.Helper()
	hub := runHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)
	return wsURL(server)
}

func connect(t *testing.T, url, name string) (*Client, *recorder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.TypingIdle = 200 * time.Millisecond
	cfg.TypingDisplay = 300 * time.Millisecond
	c := New(cfg)
	r := attach(c)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Join(context.Background(), name))
	require.Eventually(t, func() bool {
		return len(c.Roster()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	return c, r
}

func TestClient_EndToEnd(t *testing.T) {
	req := require.New(t)
	url := relay(t)

	alice, aliceRec := connect(t, url, "alice")
	bob, bobRec := connect(t, url, "bob")

	// Both see the same roster; alice is told about bob, bob is not told about himself
	req.Eventually(func() bool {
		return len(alice.Roster()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal([]string{"alice", "bob"}, alice.Roster())
	req.Equal([]string{"alice", "bob"}, bob.Roster())
	req.Eventually(func() bool {
		return len(aliceRec.bodies()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal([]string{"bob joined the chat"}, aliceRec.bodies())
	req.Empty(bobRec.bodies())

	// When bob types, alice's indicator shows it
	bob.InputChanged("hel")
	req.Eventually(func() bool {
		got, _ := aliceRec.lastIndicator()
		return got == "bob is typing..."
	}, 2*time.Second, 10*time.Millisecond)

	// When bob sends, the message reaches both and the indicator clears
	req.NoError(bob.Send(context.Background(), "hello"))
	req.Eventually(func() bool {
		got, ok := aliceRec.lastIndicator()
		return ok && got == ""
	}, 2*time.Second, 10*time.Millisecond)
	for _, r := range []*recorder{aliceRec, bobRec} {
		req.Eventually(func() bool {
			bodies := r.bodies()
			return len(bodies) > 0 && bodies[len(bodies)-1] == "hello"
		}, 2*time.Second, 10*time.Millisecond)
	}
	// Bob never saw himself typing
	_, sawTyping := bobRec.lastIndicator()
	req.False(sawTyping)

	// When bob leaves, alice's roster drops him
	req.NoError(bob.Close())
	req.Eventually(func() bool {
		return len(alice.Roster()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal([]string{"alice"}, alice.Roster())
}

func TestClient_TypingDecaysWithoutStop(t *testing.T) {
	req := require.New(t)
	url := relay(t)

	alice, aliceRec := connect(t, url, "alice")
	bob, _ := connect(t, url, "bob")
	req.Eventually(func() bool { return len(alice.Roster()) == 2 }, 2*time.Second, 10*time.Millisecond)

	bob.InputChanged("x")
	req.Eventually(func() bool { return len(alice.TypingNames()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// bob's idle stop (200ms) or alice's display decay (300ms) clears it
	req.Eventually(func() bool { return len(alice.TypingNames()) == 0 }, 2*time.Second, 10*time.Millisecond)
	got, _ := aliceRec.lastIndicator()
	req.Equal("", got)
}

func TestClient_ServerErrorReachesOnlySender(t *testing.T) {
	req := require.New(t)
	url := relay(t)

	alice, aliceRec := connect(t, url, "alice")
	bob, bobRec := connect(t, url, "bob")
	req.Eventually(func() bool { return len(alice.Roster()) == 2 }, 2*time.Second, 10*time.Millisecond)

	req.NoError(bob.Send(context.Background(), strings.Repeat("x", 51)))

	req.Eventually(func() bool { return len(bobRec.errs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	var serverErr *ServerError
	req.ErrorAs(bobRec.errs()[0], &serverErr)
	req.Equal(protocol.CodeInvalidArgument, serverErr.Code)

	req.NoError(bob.Send(context.Background(), "short"))
	req.Eventually(func() bool {
		bodies := aliceRec.bodies()
		return len(bodies) > 0 && bodies[len(bodies)-1] == "short"
	}, 2*time.Second, 10*time.Millisecond)
	req.Empty(aliceRec.errs())
}

func TestClient_ImageRoundTrip(t *testing.T) {
	req := require.New(t)
	url := relay(t)

	alice, aliceRec := connect(t, url, "alice")

	req.NoError(alice.SendImage(context.Background(), "https://example.com/cat.png", ""))

	req.Eventually(func() bool {
		aliceRec.mu.Lock()
		defer aliceRec.mu.Unlock()
		for _, m := range aliceRec.messages {
			if m.Kind == protocol.KindImage {
				return m.Body == protocol.ImagePlaceholder && m.Attachment == "https://example.com/cat.png"
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ReconnectAfterServerDrop(t *testing.T) {
	req := require.New(t)
	hub := runHub(t)

	// Given a server that drops the first connection straight away
	var mu sync.Mutex
	accepted := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		accepted++
		first := accepted == 1
		mu.Unlock()
		if !first {
			hub.ServeWS(w, r)
			return
		}
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ws.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	c := New(cfg)
	r := attach(c)
	defer c.Close()

	req.NoError(c.Connect(context.Background()))
	firstDone := c.Done()
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection never ended")
	}
	req.ErrorIs(c.Send(context.Background(), "lost"), ErrNotJoined)

	// When the client connects again
	req.NoError(c.Connect(context.Background()))
	req.NotEqual(firstDone, c.Done())
	req.ErrorIs(c.Connect(context.Background()), ErrAlreadyConnected)

	// Then the new session works end to end
	req.NoError(c.Join(context.Background(), "alice"))
	req.Eventually(func() bool {
		return len(c.Roster()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	req.NoError(c.Send(context.Background(), "back again"))
	req.Eventually(func() bool {
		bodies := r.bodies()
		return len(bodies) > 0 && bodies[len(bodies)-1] == "back again"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ConnectAfterClose(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	cfg.URL = relay(t)
	c := New(cfg)

	req.NoError(c.Connect(context.Background()))
	done := c.Done()
	req.NoError(c.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop on Close")
	}
	req.ErrorIs(c.Connect(context.Background()), ErrClosed)
}
