package ai

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// ParseConversation turns the wire conversation into model contents.
//
// Clients send a JSON list of {"role", "parts":[{"text"}]} objects, with or
// without the enclosing brackets. Anything that does not decode to at least
// one non-empty turn is sent as a single user message.
func ParseConversation(conv string) []*genai.Content {
	conv = strings.TrimSpace(conv)

	for _, candidate := range []string{conv, "[" + conv + "]"} {
		if contents, ok := decodeContents(candidate); ok {
			return contents
		}
	}
	return []*genai.Content{genai.NewContentFromText(conv, genai.RoleUser)}
}

func decodeContents(s string) ([]*genai.Content, bool) {
	if !strings.HasPrefix(s, "[") {
		return nil, false
	}

	var raw []*genai.Content
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}

	out := make([]*genai.Content, 0, len(raw))
	for _, c := range raw {
		if c == nil || !hasText(c) {
			continue
		}
		if c.Role != genai.RoleModel {
			c.Role = genai.RoleUser
		}
		out = append(out, c)
	}
	return out, len(out) > 0
}

func hasText(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p != nil && strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
