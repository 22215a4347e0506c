package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings holds every runtime knob of the relay server.
type Settings struct {
	Host string `env:"HOST" envDefault:"localhost"`
	Port int    `env:"PORT" envDefault:"8080"`

	// Transport limits
	MaxFrameBytes int64         `env:"MAX_FRAME_BYTES" envDefault:"8388608"`
	SendBuffer    int           `env:"SEND_BUFFER" envDefault:"256"`
	WriteWait     time.Duration `env:"WRITE_WAIT" envDefault:"10s"`
	PongWait      time.Duration `env:"PONG_WAIT" envDefault:"60s"`

	// Content limits
	MaxBodyRunes  int   `env:"MAX_BODY_RUNES" envDefault:"2000"`
	MaxImageBytes int64 `env:"MAX_IMAGE_BYTES" envDefault:"5242880"`

	// Typing delays announced to clients in the connectedUsers roster
	TypingIdle    time.Duration `env:"TYPING_IDLE" envDefault:"2s"`
	TypingDisplay time.Duration `env:"TYPING_DISPLAY" envDefault:"3s"`

	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	NgrokEnabled   bool   `env:"NGROK_ENABLED"`
	NgrokAuthToken string `env:"NGROK_AUTHTOKEN"`
	NgrokDomain    string `env:"NGROK_DOMAIN"`
}

// EnvPrefix is prepended to every variable name Load reads.
const EnvPrefix = "RELAYCHAT_"

// Load parses Settings from RELAYCHAT_* environment variables.
func Load() (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// Addr is the listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PingPeriod must stay below PongWait so peers answer before the deadline.
func (s Settings) PingPeriod() time.Duration {
	return s.PongWait * 9 / 10
}

// Level maps LogLevel onto slog.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// OriginAllowed reports whether a browser origin may open a WebSocket.
// An empty allow list accepts any origin.
func (s Settings) OriginAllowed(origin string) bool {
	if len(s.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Validate checks ranges and the relationship between the typing delays.
func (s Settings) Validate() error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	for _, f := range []struct {
		name  string
		value int64
	}{
		{"max frame bytes", s.MaxFrameBytes},
		{"send buffer", int64(s.SendBuffer)},
		{"write wait", int64(s.WriteWait)},
		{"pong wait", int64(s.PongWait)},
		{"max body runes", int64(s.MaxBodyRunes)},
		{"max image bytes", s.MaxImageBytes},
		{"typing idle", int64(s.TypingIdle)},
		{"typing display", int64(s.TypingDisplay)},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.name))
		}
	}
	if s.TypingIdle > 0 && s.TypingDisplay <= s.TypingIdle {
		errs = append(errs, fmt.Errorf("typing display %s must exceed typing idle %s", s.TypingDisplay, s.TypingIdle))
	}
	if s.MaxImageBytes > 0 && s.MaxFrameBytes > 0 && s.MaxImageBytes > s.MaxFrameBytes {
		errs = append(errs, fmt.Errorf("max image bytes %d exceeds max frame bytes %d", s.MaxImageBytes, s.MaxFrameBytes))
	}
	if s.NgrokEnabled && s.NgrokAuthToken == "" {
		errs = append(errs, errors.New("ngrok enabled without an auth token"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}
