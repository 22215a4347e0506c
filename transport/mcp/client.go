package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/relaychat/api"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"relaychat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`relaychat - MCP Interface

This is a thin client that proxies all requests to the relay's REST API.
Messages you send are delivered live to everyone connected over WebSocket.

AVAILABLE TOOLS:
- list_participants: Who is in the room right now
- send_message: Post a text message (display_name optional, defaults to Anonymous)
- send_image: Post an image by URL or base64 data URL with an optional caption
- health: Server status and connection counts`),
	)

	// Register all tools
	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_participants",
		Description: "List the display names of everyone currently in the chat, in join order",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListParticipants)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Send a text message to every participant",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"body": map[string]interface{}{
					"type":        "string",
					"description": "Message text",
				},
				"display_name": map[string]interface{}{
					"type":        "string",
					"description": "Author name, 2-20 characters (optional)",
				},
			},
			Required: []string{"body"},
		},
	}, c.handleSendMessage)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_image",
		Description: "Send an image to every participant",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"attachment_ref": map[string]interface{}{
					"type":        "string",
					"description": "http(s) URL or base64 image data URL",
				},
				"caption": map[string]interface{}{
					"type":        "string",
					"description": "Optional caption",
				},
				"display_name": map[string]interface{}{
					"type":        "string",
					"description": "Author name, 2-20 characters (optional)",
				},
			},
			Required: []string{"attachment_ref"},
		},
	}, c.handleSendImage)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "health",
		Description: "Report server health, open connections and joined participants",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleHealth)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves single JSON-RPC messages posted to it.
func (c *Client) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// Helper methods for API calls

// apiCall performs a JSON request against the REST API. It reports whether
// the response carried content.
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) (bool, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return false, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return false, fmt.Errorf("%s", msg)
		}
		return false, fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if result != nil {
		return true, json.NewDecoder(resp.Body).Decode(result)
	}

	return true, nil
}

func stringArg(request mcp.CallToolRequest, name string) string {
	value, _ := request.GetArguments()[name].(string)
	return value
}

// Tool handlers

func (c *Client) handleListParticipants(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var info service.ParticipantsInfo
	if _, err := c.apiCall(ctx, "GET", "/api/participants", nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatParticipants(&info)), nil
}

func (c *Client) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body := api.PostMessageRequest{
		DisplayName: stringArg(request, "display_name"),
		Body:        stringArg(request, "body"),
	}

	var msg protocol.ChatMessage
	sent, err := c.apiCall(ctx, "POST", "/api/messages", body, &msg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !sent {
		return mcp.NewToolResultText("Nothing sent: message body was blank"), nil
	}

	return mcp.NewToolResultText(formatMessage(&msg)), nil
}

func (c *Client) handleSendImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body := api.PostImageRequest{
		DisplayName:   stringArg(request, "display_name"),
		AttachmentRef: stringArg(request, "attachment_ref"),
		Caption:       stringArg(request, "caption"),
	}

	var msg protocol.ChatMessage
	if _, err := c.apiCall(ctx, "POST", "/api/images", body, &msg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatMessage(&msg)), nil
}

func (c *Client) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var health api.HealthResponse
	if _, err := c.apiCall(ctx, "GET", "/health", nil, &health); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Status: %s\nConnections: %d\nParticipants: %d\n",
		health.Status, health.Connections, health.Participants)
	return mcp.NewToolResultText(result), nil
}

func formatParticipants(info *service.ParticipantsInfo) string {
	if info.Count == 0 {
		return "Nobody is in the chat.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Participants (%d):\n\n", info.Count)
	for _, name := range info.Names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return b.String()
}

func formatMessage(msg *protocol.ChatMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sent %s message %s\n", msg.Kind, msg.ID)
	fmt.Fprintf(&b, "Author: %s\n", msg.AuthorName)
	fmt.Fprintf(&b, "Body: %s\n", msg.Body)
	if msg.Attachment != "" {
		ref := msg.Attachment
		if strings.HasPrefix(ref, "data:") && len(ref) > 48 {
			ref = ref[:48] + "..."
		}
		fmt.Fprintf(&b, "Attachment: %s\n", ref)
	}
	fmt.Fprintf(&b, "Time: %s\n", msg.Timestamp.Format("15:04:05"))
	return b.String()
}
