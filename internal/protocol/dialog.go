package protocol

import (
	"errors"
	"strings"
)

// Field limits for an AI dialogue request.
const (
	MaxPersonality  = 511
	MaxLanguage     = 7
	MaxConversation = MaxMessageSize - 1
)

// ErrMissingFields is returned when a dialogue request lacks a field.
var ErrMissingFields = errors.New("protocol: missing required fields")

// DialogRequest is the payload of an AIDialogRequest.
type DialogRequest struct {
	Personality  string
	Language     string
	Conversation string
}

// ParseDialogRequest splits "<personality>|<language>|<conversation>".
// Only the first two separators are significant, so the conversation may
// itself contain pipes. Every field must be non-empty after trimming.
func ParseDialogRequest(payload string) (DialogRequest, error) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return DialogRequest{}, ErrMissingFields
	}

	req := DialogRequest{
		Personality:  clip(strings.TrimSpace(parts[0]), MaxPersonality),
		Language:     clip(strings.TrimSpace(parts[1]), MaxLanguage),
		Conversation: clip(strings.TrimSpace(parts[2]), MaxConversation),
	}
	if req.Personality == "" || req.Language == "" || req.Conversation == "" {
		return DialogRequest{}, ErrMissingFields
	}
	return req, nil
}

// Encode renders the request payload.
func (r DialogRequest) Encode() string {
	return r.Personality + "|" + r.Language + "|" + r.Conversation
}

// TestLanguage extracts the language code of a test dialogue payload. It
// accepts the full three-field layout as well as a bare language code.
func TestLanguage(payload string) string {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) >= 2 {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(payload)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
