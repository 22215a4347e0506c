// Package mcp exposes the relay to AI agents over the Model Context Protocol.
//
// The mcp package implements:
//   - An MCP server whose tools proxy the REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
//   - list_participants: Current roster in join order
//   - send_message: Post a text message, broadcast to every participant
//   - send_image: Post an image reference with an optional caption
//   - health: Server status and counts
//
// Every tool goes through the REST API, so validation and fan-out behave
// exactly as they do for HTTP callers.
//
// Usage:
//
//	// Stdio mode
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	apiServer.Handle("/mcp", client.HTTPHandler())
package mcp
