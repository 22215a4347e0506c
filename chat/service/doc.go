// Package service provides the chat core that every transport drives.
//
// The service package implements:
//   - Presence notification on join and leave
//   - Message stamping and fan-out for text and image submissions
//   - Relaying of typing edges between participants
//
// Core Interfaces:
//
// ChatService is the main service interface used by the WebSocket hub, the
// REST API and the MCP tools. Registry is the presence storage it mutates;
// session.Registry satisfies it.
//
// Ordering:
//
// Registry mutation and fan-out happen under one mutex, so all connections
// observe presence changes and messages in the same order. Fan-out hands each
// envelope to session.Conn.Deliver, which must not block; a slow connection
// is the transport's problem, not the broadcaster's.
//
// Self Suppression:
//
// A joining connection receives the current roster but never its own
// userJoined event or join notice. Typing edges are never echoed back to the
// participant that produced them.
//
// Usage:
//
//	registry := session.NewRegistry()
//	chat := service.NewChatService(registry, service.WithLogger(logger))
//
//	if err := chat.Join(ctx, conn, "alice"); err != nil {
//		return err
//	}
//	msg, err := chat.SubmitText(ctx, chat.AuthorOf(conn), "hello")
package service
