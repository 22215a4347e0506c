package client

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/wricardo/relaychat/chat/protocol"
)

// dispatch routes one server frame. Events about this client's own join and
// typing are dropped so they never show up in its own view.
func (c *Client) dispatch(env protocol.Envelope) {
	self := c.DisplayName()

	switch env.Event {
	case protocol.EventMessage:
		var msg protocol.ChatMessage
		if !c.decode(env, &msg) {
			return
		}
		if self != "" && msg.IsJoinNotice(self) {
			return
		}
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}

	case protocol.EventConnectedUsers:
		var p protocol.RosterPayload
		if !c.decode(env, &p) {
			return
		}
		if !c.cfg.FixedTypingDelays {
			c.producer.SetDelay(time.Duration(p.TypingIdleMs) * time.Millisecond)
			c.consumer.SetDelay(time.Duration(p.TypingDisplayMs) * time.Millisecond)
		}
		c.setRoster(func([]string) []string {
			return lo.Uniq(p.Names)
		})

	case protocol.EventUserJoined:
		var p protocol.PresencePayload
		if !c.decode(env, &p) || p.DisplayName == self {
			return
		}
		c.setRoster(func(roster []string) []string {
			if lo.Contains(roster, p.DisplayName) {
				return roster
			}
			return append(roster, p.DisplayName)
		})

	case protocol.EventUserLeft:
		var p protocol.PresencePayload
		if !c.decode(env, &p) {
			return
		}
		c.consumer.Forget(p.DisplayName)
		c.setRoster(func(roster []string) []string {
			return lo.Without(roster, p.DisplayName)
		})

	case protocol.EventTyping:
		var p protocol.TypingPayload
		if !c.decode(env, &p) || p.DisplayName == "" || p.DisplayName == self {
			return
		}
		c.consumer.Observe(p.DisplayName, p.IsTyping)

	case protocol.EventError:
		var p protocol.ErrorPayload
		if !c.decode(env, &p) {
			return
		}
		c.fireError(&ServerError{Code: p.Code, Message: p.Message})

	default:
		c.logger.Debug("ignoring unknown event", "event", env.Event)
	}
}

func (c *Client) decode(env protocol.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		c.fireError(fmt.Errorf("server sent bad frame: %w", err))
		return false
	}
	return true
}
