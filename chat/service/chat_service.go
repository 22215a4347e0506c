package service

import (
	"context"
	"errors"

	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/session"
)

var ErrEmptyAttachment = errors.New("attachment is empty")

// ChatService defines every operation the transports drive
type ChatService interface {
	// Presence
	Join(ctx context.Context, conn session.Conn, displayName string) error
	Leave(ctx context.Context, conn session.Conn) (string, bool)

	// Messages
	SubmitText(ctx context.Context, author, body string) (*protocol.ChatMessage, error)
	SubmitImage(ctx context.Context, author, attachmentRef, caption string) (*protocol.ChatMessage, error)
	AuthorOf(conn session.Conn) string

	// Typing
	Typing(ctx context.Context, conn session.Conn, isTyping bool) error

	// Roster
	Participants(ctx context.Context) (*ParticipantsInfo, error)
}

// Registry defines the presence storage the service mutates
type Registry interface {
	Join(displayName string, conn session.Conn) (string, error)
	Leave(conn session.Conn) (string, bool)
	NameOf(conn session.Conn) (string, bool)
	ListNames() []string
	Participants() []session.Participant
	Count() int
}
