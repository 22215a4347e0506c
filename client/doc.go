// Package client is the participant side of relaychat.
//
// A Client holds one WebSocket connection and everything a front end needs
// to render the room: the roster, incoming messages, and a typing indicator
// fed by a debounced typing.Consumer. Local keystrokes go through a
// typing.Producer, so the server sees one start and one stop per burst of
// typing rather than one frame per key.
//
// The client never shows its own arrival: userJoined events and join notices
// about its own display name are dropped, as are typing events about itself.
//
// Typing delays follow the server: the roster sent on join carries the idle
// and display delays, and they replace Config.TypingIdle and TypingDisplay
// unless Config.FixedTypingDelays is set.
//
// When the server drops the connection, Done closes and Connect may be called
// again. The new session starts unjoined.
//
// Usage:
//
//	c := client.New(client.Config{URL: "ws://localhost:8080/ws"})
//	c.OnMessage(func(m protocol.ChatMessage) { fmt.Println(m.AuthorName, m.Body) })
//	c.OnTyping(func(indicator string, _ []string) { fmt.Println(indicator) })
//
//	if err := c.Connect(ctx); err != nil {
//		return err
//	}
//	defer c.Close()
//	if err := c.Join(ctx, "alice"); err != nil {
//		return err
//	}
//	c.InputChanged("hel")
//	c.Send(ctx, "hello")
package client
