package client

import (
	"log/slog"
	"time"

	"github.com/wricardo/relaychat/chat/typing"
)

// Config controls how the client connects.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	// ReadTimeout is zero by default: a quiet room is not a dead one, and the
	// server's pings keep the socket alive.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64

	// TypingIdle and TypingDisplay apply until the server announces its own
	// delays on join, unless FixedTypingDelays is set.
	TypingIdle        time.Duration
	TypingDisplay     time.Duration
	FixedTypingDelays bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        8 << 20,
		TypingIdle:       typing.DefaultIdleDelay,
		TypingDisplay:    typing.DefaultDisplayDelay,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the logger (optional).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}
