// Package session tracks who is online in the relay.
//
// Registry is the single source of truth for the mapping between display
// names and live connections. It keeps the mapping in both directions so a
// disconnect, which only knows its connection, resolves the freed name in
// constant time.
//
// Core Types:
//
// Conn is the transport-owned connection handle. The registry holds
// references to connections but never closes them.
// Participant is a display name bound to exactly one connection.
//
// Name Ownership:
//
// At most one participant exists per display name. A second join under the
// same name silently takes the name over; the earlier connection stays open
// but is no longer registered, so its later disconnect produces no leave.
//
// Concurrency:
//
// All methods are safe for concurrent use. Snapshots returned by ListNames
// and Participants are copies ordered by join time.
//
// Usage:
//
//	registry := session.NewRegistry()
//	if _, err := registry.Join("alice", conn); err != nil {
//		return err
//	}
//	names := registry.ListNames()
//	name, ok := registry.Leave(conn)
package session
