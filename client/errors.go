package client

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotJoined        = errors.New("join before sending")
	ErrEmptyURL         = errors.New("empty URL")
	ErrClosed           = errors.New("client closed")
)

// ServerError is an error frame the server sent in reply to this client.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
