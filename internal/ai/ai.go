// Package ai defines the dialogue backend consumed by the request handler
// and its Gemini implementation.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxResponseSize bounds the reply text; replies keep at most
	// MaxResponseSize-1 bytes.
	MaxResponseSize = 1024

	// DefaultBehavior is used when the model gives no behaviour hint.
	DefaultBehavior = "neutral expression"
)

var (
	ErrEmptyResponse = errors.New("ai: empty response")
	ErrBlocked       = errors.New("ai: response blocked by safety filters")
	ErrMissingKey    = errors.New("ai: api key is required")
)

// Reply is one generated dialogue turn.
type Reply struct {
	Text     string
	Behavior string
}

// Backend generates the robot's next line for a conversation.
type Backend interface {
	Generate(ctx context.Context, personality, language, conversation string) (Reply, error)
}

// BackendFunc adapts a function to a Backend.
type BackendFunc func(ctx context.Context, personality, language, conversation string) (Reply, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, personality, language, conversation string) (Reply, error) {
	return f(ctx, personality, language, conversation)
}

// Premise is the instruction given to the model ahead of the conversation.
func Premise(language, personality string) string {
	return fmt.Sprintf("You are a robot assistant (Furhat robot) designed to adapt to human personality. "+
		"Respond in %s language. Here is your personality profile: %s\n\n"+
		"Keep responses concise (1-3 sentences) and naturally conversational.", language, personality)
}

// ParseReply splits model output of the form "text | behavior". Without a
// separator the whole output is the text and the behaviour defaults to
// DefaultBehavior.
func ParseReply(raw string) Reply {
	raw = strings.TrimSpace(raw)

	text, behavior, found := strings.Cut(raw, "|")
	text = strings.TrimSpace(text)
	behavior = strings.TrimSpace(behavior)
	if !found || behavior == "" {
		behavior = DefaultBehavior
	}
	if !found {
		text = raw
	}

	return Reply{
		Text:     truncate(text, MaxResponseSize-1),
		Behavior: behavior,
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
