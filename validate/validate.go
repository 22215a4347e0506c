// Package validate checks user input at the point where it enters the relay:
// display names on join, message bodies and image attachments. Failures are
// reported to the submitting user only and never reach the chat core.
//
// It checks:
//   - display names are 2 to 20 characters once trimmed
//   - message bodies are non-blank and within the configured rune limit
//   - attachments are base64 image data URLs within the size limit, or
//     http(s) URLs that are passed through unchanged
package validate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	MinDisplayNameRunes = 2
	MaxDisplayNameRunes = 20

	// DefaultMaxImageBytes bounds decoded image attachments.
	DefaultMaxImageBytes = 5 * 1024 * 1024
)

// ErrInvalidInput is wrapped by every *Error.
var ErrInvalidInput = errors.New("invalid input")

// Error describes why a single field was rejected.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalidInput
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type joinInput struct {
	DisplayName string `validate:"required,min=2,max=20"`
}

// DisplayName trims name and checks its length.
func DisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := validate.Struct(joinInput{DisplayName: trimmed}); err != nil {
		return "", fieldError("displayName", err)
	}
	return trimmed, nil
}

// Body trims body and checks it against maxRunes. A blank body is not an
// error: ok is false and the submission should be dropped silently.
func Body(body string, maxRunes int) (trimmed string, ok bool, err error) {
	trimmed = strings.TrimSpace(body)
	if trimmed == "" {
		return "", false, nil
	}
	if maxRunes > 0 {
		if err := validate.Var(trimmed, fmt.Sprintf("max=%d", maxRunes)); err != nil {
			return "", false, fieldError("body", err)
		}
	}
	return trimmed, true, nil
}

// Attachment checks an image reference. Data URLs must carry base64 image
// content of at most maxBytes; http(s) URLs are accepted as opaque references.
func Attachment(ref string, maxBytes int64) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return &Error{Field: "attachmentRef", Reason: "is required"}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	if strings.HasPrefix(ref, "data:") {
		return dataURL(ref, maxBytes)
	}

	if err := validate.Var(ref, "http_url"); err != nil {
		return &Error{Field: "attachmentRef", Reason: "must be an image data URL or an http(s) URL"}
	}
	return nil
}

func dataURL(ref string, maxBytes int64) error {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return &Error{Field: "attachmentRef", Reason: "is a malformed data URL"}
	}
	header, payload := ref[len("data:"):comma], ref[comma+1:]

	declared, _, _ := strings.Cut(header, ";")
	if !strings.HasSuffix(header, ";base64") {
		return &Error{Field: "attachmentRef", Reason: "must be base64 encoded"}
	}
	if !strings.HasPrefix(declared, "image/") {
		return &Error{Field: "attachmentRef", Reason: "must be an image"}
	}

	// Reject before decoding anything obviously too large.
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return &Error{Field: "attachmentRef", Reason: fmt.Sprintf("must be at most %d bytes", maxBytes)}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return &Error{Field: "attachmentRef", Reason: "has invalid base64 content"}
	}
	if int64(len(data)) > maxBytes {
		return &Error{Field: "attachmentRef", Reason: fmt.Sprintf("must be at most %d bytes", maxBytes)}
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return &Error{Field: "attachmentRef", Reason: fmt.Sprintf("must be an image, got %s", detected.String())}
	}
	return nil
}

// fieldError converts validator output into a single *Error for field.
func fieldError(field string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Field: field, Reason: err.Error()}
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return &Error{Field: field, Reason: "is required"}
	case "min":
		return &Error{Field: field, Reason: fmt.Sprintf("must be at least %s characters", fe.Param())}
	case "max":
		return &Error{Field: field, Reason: fmt.Sprintf("must be at most %s characters", fe.Param())}
	default:
		return &Error{Field: field, Reason: fmt.Sprintf("failed %s validation", fe.Tag())}
	}
}
