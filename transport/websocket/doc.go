// Package websocket provides the WebSocket transport for relaychat.
//
// The websocket package implements:
//   - Connection upgrade with an origin allow list
//   - Per-connection read and write pumps with ping/pong keepalive
//   - Dispatch of join, message, image and typing events into the chat service
//   - Error frames returned to the offending connection only
//
// Architecture:
//
// A central Hub owns every live Client. Register and unregister requests flow
// through channels into Hub.Run, so the live set is only touched by one
// goroutine. Each Client has a buffered outbound queue; the chat service
// delivers into it without blocking, and a Client whose queue overflows is
// closed.
//
// Message Protocol:
//
// Every frame is a single JSON envelope {"event": ..., "data": ...}; see
// package protocol for the payloads.
//
// Usage:
//
//	hub := websocket.NewHub(chat, settings, logger)
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects and is assigned a UUID
// 2. Client sends join with a display name and receives the roster
// 3. Client sends messages, images and typing edges
// 4. Disconnection unregisters the client and releases its name
package websocket
