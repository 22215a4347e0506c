package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"github.com/wricardo/relaychat/api"
	"github.com/wricardo/relaychat/chat/config"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/service"
	"github.com/wricardo/relaychat/chat/session"
)

// recordingConn is a joined participant that collects broadcasts
type recordingConn struct {
	id     string
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (c *recordingConn) ID() string {
	return c.id
}

func (c *recordingConn) Deliver(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, env)
	return nil
}

func (c *recordingConn) last() protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1]
}

type stubHub struct{}

func (stubHub) ServeWS(w http.ResponseWriter, r *http.Request) {}

func (stubHub) Count() int {
	return 1
}

func newRelay(t *testing.T) (*Client, service.ChatService) {
	t.Helper()
	settings, err := config.Load()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	chat := service.NewChatService(session.NewRegistry(), service.WithLogger(logger))
	apiServer := api.NewServer(chat, stubHub{}, settings, logger)
	server := httptest.NewServer(apiServer)
	t.Cleanup(server.Close)

	return NewClient(server.URL), chat
}

func callTool(t *testing.T, c *Client, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) (string, bool) {
	t.Helper()
	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
	result, err := handler(context.Background(), request)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text, result.IsError
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080/")

	require.Equal(t, "http://localhost:8080", client.baseURL)
	require.NotNil(t, client.httpClient)
	require.NotNil(t, client.GetMCPServer())
}

func TestListParticipants(t *testing.T) {
	req := require.New(t)
	client, chat := newRelay(t)

	text, isErr := callTool(t, client, client.handleListParticipants, nil)
	req.False(isErr)
	req.Equal("Nobody is in the chat.\n", text)

	req.NoError(chat.Join(context.Background(), &recordingConn{id: "c1"}, "alice"))
	req.NoError(chat.Join(context.Background(), &recordingConn{id: "c2"}, "bob"))

	text, isErr = callTool(t, client, client.handleListParticipants, nil)
	req.False(isErr)
	req.Equal("Participants (2):\n\n- alice\n- bob\n", text)
}

func TestSendMessage_ReachesParticipants(t *testing.T) {
	req := require.New(t)
	client, chat := newRelay(t)
	alice := &recordingConn{id: "c1"}
	req.NoError(chat.Join(context.Background(), alice, "alice"))

	text, isErr := callTool(t, client, client.handleSendMessage, map[string]interface{}{
		"body":         "build is green",
		"display_name": "ci-bot",
	})

	req.False(isErr, text)
	req.Contains(text, "Author: ci-bot")
	req.Contains(text, "Body: build is green")

	last := alice.last()
	req.Equal(protocol.EventMessage, last.Event)
	var msg protocol.ChatMessage
	req.NoError(last.Decode(&msg))
	req.Equal("ci-bot", msg.AuthorName)
}

func TestSendMessage_BlankAndInvalid(t *testing.T) {
	client, _ := newRelay(t)

	text, isErr := callTool(t, client, client.handleSendMessage, map[string]interface{}{"body": "   "})
	require.False(t, isErr)
	require.Equal(t, "Nothing sent: message body was blank", text)

	text, isErr = callTool(t, client, client.handleSendMessage, map[string]interface{}{
		"body":         "hi",
		"display_name": "x",
	})
	require.True(t, isErr)
	require.Equal(t, "displayName must be at least 2 characters", text)
}

func TestSendImage(t *testing.T) {
	client, _ := newRelay(t)

	text, isErr := callTool(t, client, client.handleSendImage, map[string]interface{}{
		"attachment_ref": "https://example.com/cat.png",
	})
	require.False(t, isErr, text)
	require.Contains(t, text, "Sent image message")
	require.Contains(t, text, "Body: "+protocol.ImagePlaceholder)
	require.Contains(t, text, "Attachment: https://example.com/cat.png")

	text, isErr = callTool(t, client, client.handleSendImage, map[string]interface{}{
		"attachment_ref": "not a url",
	})
	require.True(t, isErr)
	require.Contains(t, text, "attachmentRef")
}

func TestHealth(t *testing.T) {
	client, _ := newRelay(t)

	text, isErr := callTool(t, client, client.handleHealth, nil)

	require.False(t, isErr)
	require.Equal(t, "Status: healthy\nConnections: 1\nParticipants: 0\n", text)
}

func TestAPIUnavailable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	text, isErr := callTool(t, client, client.handleHealth, nil)

	require.True(t, isErr)
	require.NotEmpty(t, text)
}

func TestHTTPHandler_ListsTools(t *testing.T) {
	req := require.New(t)
	client := NewClient("http://localhost:8080")
	handler := client.HTTPHandler()

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("POST", "/mcp", strings.NewReader(body)))
		return rr
	}

	rr := post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0.0.1"}}}`)
	req.Equal(http.StatusOK, rr.Code)

	rr = post(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	req.Equal(http.StatusOK, rr.Code)
	req.Equal("application/json", rr.Header().Get("Content-Type"))

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	req.NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	req.ElementsMatch([]string{"list_participants", "send_message", "send_image", "health"}, names)
}

func TestHTTPHandler_RejectsGet(t *testing.T) {
	rr := httptest.NewRecorder()
	NewClient("http://localhost:8080").HTTPHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/mcp", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
