// Package api provides HTTP handlers for the relay server.
//
// The api package implements:
//   - Roster listing
//   - Message and image submission for callers without a WebSocket
//   - Health reporting
//   - WebSocket upgrade handling
//
// Endpoints:
//
//   - GET /api/participants - Current roster {count, names}
//   - POST /api/messages - Post a text message {displayName, body}
//   - POST /api/images - Post an image {displayName, attachmentRef, caption}
//   - GET /health - {status, connections, participants}
//   - GET /ws - Upgrade to the WebSocket protocol
//
// Messages posted over HTTP are broadcast to every WebSocket participant
// exactly like messages sent over a socket. An empty displayName posts as
// Anonymous; a blank body returns 204 and broadcasts nothing.
//
// Usage:
//
//	apiServer := api.NewServer(chat, hub, settings, logger)
//	apiServer.Handle("/mcp", mcpHandler)
//	http.ListenAndServe(settings.Addr(), apiServer)
//
// Error Handling:
//
// Errors are returned as JSON with an appropriate HTTP status code:
//
//	{
//	  "error": "body must be at most 2000 characters"
//	}
package api
