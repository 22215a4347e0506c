package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/session"
)

// Option configures a chat service
type Option func(*chatServiceImpl)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *chatServiceImpl) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *chatServiceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides message ID generation.
func WithIDGenerator(newID func(time.Time) string) Option {
	return func(s *chatServiceImpl) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithTypingDelays sets the typing delays announced to joining clients.
func WithTypingDelays(idle, display time.Duration) Option {
	return func(s *chatServiceImpl) {
		s.typingIdle = idle
		s.typingDisplay = display
	}
}

// chatServiceImpl implements the ChatService interface.
// mu serialises registry mutation together with fan-out so every connection
// observes messages and presence changes in the same order.
type chatServiceImpl struct {
	registry Registry
	logger   *slog.Logger
	now      func() time.Time
	newID    func(time.Time) string
	mu       sync.Mutex

	typingIdle    time.Duration
	typingDisplay time.Duration
}

// NewChatService creates a new chat service backed by registry
func NewChatService(registry Registry, opts ...Option) ChatService {
	s := &chatServiceImpl{
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    messageID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// messageID combines a millisecond timestamp with a random UUID.
func messageID(at time.Time) string {
	return fmt.Sprintf("%d-%s", at.UnixMilli(), uuid.NewString())
}

// Join registers conn under displayName and announces it to everyone else
func (s *chatServiceImpl) Join(ctx context.Context, conn session.Conn, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, registered := s.registry.NameOf(conn)
	previous, err := s.registry.Join(displayName, conn)
	if err != nil {
		return fmt.Errorf("join %q: %w", displayName, err)
	}

	s.deliver(conn, protocol.MustNew(protocol.EventConnectedUsers, protocol.RosterPayload{
		Names:           s.registry.ListNames(),
		TypingIdleMs:    s.typingIdle.Milliseconds(),
		TypingDisplayMs: s.typingDisplay.Milliseconds(),
	}))

	// Re-joining under the same name only refreshes the roster.
	if registered && current == displayName {
		return nil
	}

	if previous != "" {
		s.logger.Info("participant renamed", "from", previous, "to", displayName, "conn", conn.ID())
		s.broadcast(protocol.MustNew(protocol.EventUserLeft, protocol.PresencePayload{DisplayName: previous}), conn)
		s.broadcast(protocol.MustNew(protocol.EventTyping, protocol.TypingPayload{DisplayName: previous}), conn)
	}

	at := s.now()
	s.broadcast(protocol.MustNew(protocol.EventUserJoined, protocol.PresencePayload{DisplayName: displayName}), conn)
	s.broadcast(protocol.MustNew(protocol.EventMessage, protocol.JoinedNotice(s.newID(at), displayName, at)), conn)

	s.logger.Info("participant joined", "name", displayName, "conn", conn.ID(), "participants", s.registry.Count())
	return nil
}

// Leave frees the name held by conn and tells the remaining participants
func (s *chatServiceImpl) Leave(ctx context.Context, conn session.Conn) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.registry.Leave(conn)
	if !ok {
		return "", false
	}

	at := s.now()
	s.broadcast(protocol.MustNew(protocol.EventUserLeft, protocol.PresencePayload{DisplayName: name}), nil)
	s.broadcast(protocol.MustNew(protocol.EventMessage, protocol.LeftNotice(s.newID(at), name, at)), nil)
	s.broadcast(protocol.MustNew(protocol.EventTyping, protocol.TypingPayload{DisplayName: name}), nil)

	s.logger.Info("participant left", "name", name, "conn", conn.ID(), "participants", s.registry.Count())
	return name, true
}

// SubmitText stamps a text message and delivers it to every participant.
// A whitespace-only body is dropped and yields a nil message.
func (s *chatServiceImpl) SubmitText(ctx context.Context, author, body string) (*protocol.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	msg := &protocol.ChatMessage{
		ID:         s.newID(at),
		AuthorName: authorOrAnonymous(author),
		Body:       body,
		Timestamp:  at,
		Kind:       protocol.KindText,
	}
	s.broadcast(protocol.MustNew(protocol.EventMessage, msg), nil)
	return msg, nil
}

// SubmitImage stamps an image message and delivers it to every participant
func (s *chatServiceImpl) SubmitImage(ctx context.Context, author, attachmentRef, caption string) (*protocol.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attachmentRef = strings.TrimSpace(attachmentRef)
	if attachmentRef == "" {
		return nil, ErrEmptyAttachment
	}
	body := strings.TrimSpace(caption)
	if body == "" {
		body = protocol.ImagePlaceholder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	msg := &protocol.ChatMessage{
		ID:         s.newID(at),
		AuthorName: authorOrAnonymous(author),
		Body:       body,
		Timestamp:  at,
		Attachment: attachmentRef,
		Kind:       protocol.KindImage,
	}
	s.broadcast(protocol.MustNew(protocol.EventMessage, msg), nil)
	return msg, nil
}

// AuthorOf returns the name conn joined under, or Anonymous
func (s *chatServiceImpl) AuthorOf(conn session.Conn) string {
	name, ok := s.registry.NameOf(conn)
	if !ok {
		return protocol.AnonymousAuthor
	}
	return name
}

// Typing relays a typing edge from conn to every other participant.
// Connections that never joined are ignored.
func (s *chatServiceImpl) Typing(ctx context.Context, conn session.Conn, isTyping bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.registry.NameOf(conn)
	if !ok {
		return nil
	}
	s.broadcast(protocol.MustNew(protocol.EventTyping, protocol.TypingPayload{
		DisplayName: name,
		IsTyping:    isTyping,
	}), conn)
	return nil
}

// Participants returns the current roster
func (s *chatServiceImpl) Participants(ctx context.Context) (*ParticipantsInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := s.registry.ListNames()
	return &ParticipantsInfo{
		Count: len(names),
		Names: names,
	}, nil
}

// broadcast delivers env to every registered connection except exclude.
// Callers must hold s.mu.
func (s *chatServiceImpl) broadcast(env protocol.Envelope, exclude session.Conn) {
	for _, p := range s.registry.Participants() {
		if exclude != nil && p.Conn.ID() == exclude.ID() {
			continue
		}
		s.deliver(p.Conn, env)
	}
}

func (s *chatServiceImpl) deliver(conn session.Conn, env protocol.Envelope) {
	if err := conn.Deliver(env); err != nil {
		s.logger.Debug("delivery failed", "conn", conn.ID(), "event", env.Event, "error", err)
	}
}

func authorOrAnonymous(author string) string {
	if author = strings.TrimSpace(author); author == "" {
		return protocol.AnonymousAuthor
	}
	return author
}
