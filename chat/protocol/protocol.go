// Package protocol defines the JSON envelopes exchanged between relaychat
// clients and the server.
//
// Every frame is an Envelope carrying an event name and an event-specific
// payload:
//
//	{"event": "message", "data": {"body": "hi", "displayName": "alice"}}
//
// Client to server events: join, message, image, typing.
// Server to client events: message, userJoined, userLeft, connectedUsers,
// typing, error.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names.
const (
	EventJoin           = "join"
	EventMessage        = "message"
	EventImage          = "image"
	EventTyping         = "typing"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventConnectedUsers = "connectedUsers"
	EventError          = "error"
)

// Author sentinels and fixed labels.
const (
	SystemAuthor     = "System"
	AnonymousAuthor  = "Anonymous"
	ImagePlaceholder = "📷 Image"
	joinedNoticeFmt  = "%s joined the chat"
	leftNoticeFmt    = "%s left the chat"
	systemJoinIDFmt  = "system-join-%s"
	systemLeftIDFmt  = "system-left-%s"
)

// Error codes carried by ErrorPayload.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeUnsupported     = "UNSUPPORTED_EVENT"
	CodeInternal        = "INTERNAL"
)

// Kind classifies a ChatMessage.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

// Envelope is the frame sent in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is an immutable message delivered to every participant.
type ChatMessage struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	Attachment string    `json:"attachment,omitempty"`
	Kind       Kind      `json:"kind"`
	// Subject names the participant a system notice is about.
	Subject string `json:"subject,omitempty"`
}

// IsJoinNotice reports whether m is the system notice announcing name.
func (m ChatMessage) IsJoinNotice(name string) bool {
	return m.Kind == KindSystem && m.Subject == name && m.Body == fmt.Sprintf(joinedNoticeFmt, name)
}

// JoinPayload registers a display name for the sending connection.
type JoinPayload struct {
	DisplayName string `json:"displayName"`
}

// MessagePayload submits a text message.
type MessagePayload struct {
	Body        string `json:"body"`
	DisplayName string `json:"displayName,omitempty"`
}

// ImagePayload submits an image reference with an optional caption.
type ImagePayload struct {
	AttachmentRef string `json:"attachmentRef"`
	DisplayName   string `json:"displayName,omitempty"`
	Caption       string `json:"caption,omitempty"`
}

// TypingPayload carries a typing edge in either direction.
type TypingPayload struct {
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

// PresencePayload is sent with userJoined and userLeft.
type PresencePayload struct {
	DisplayName string `json:"displayName"`
}

// RosterPayload is sent with connectedUsers to a joining client only. The
// typing delays, when present, are the server's settings for the producer idle
// decay and the consumer display decay, in milliseconds.
type RosterPayload struct {
	Names           []string `json:"names"`
	TypingIdleMs    int64    `json:"typingIdleMs,omitempty"`
	TypingDisplayMs int64    `json:"typingDisplayMs,omitempty"`
}

// ErrorPayload reports a rejected submission to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New builds an envelope for event with data marshalled as its payload.
func New(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(event string, data any) Envelope {
	env, err := New(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// JoinedNotice builds the system message announcing name's arrival.
func JoinedNotice(id, name string, at time.Time) ChatMessage {
	return systemNotice(fmt.Sprintf(systemJoinIDFmt, id), fmt.Sprintf(joinedNoticeFmt, name), name, at)
}

// LeftNotice builds the system message announcing name's departure.
func LeftNotice(id, name string, at time.Time) ChatMessage {
	return systemNotice(fmt.Sprintf(systemLeftIDFmt, id), fmt.Sprintf(leftNoticeFmt, name), name, at)
}

func systemNotice(id, body, subject string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:         id,
		AuthorName: SystemAuthor,
		Body:       body,
		Timestamp:  at,
		Kind:       KindSystem,
		Subject:    subject,
	}
}
