package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Reply
	}{
		{"text only", "Ciao!", Reply{Text: "Ciao!", Behavior: DefaultBehavior}},
		{"text and behavior", "Nice to meet you! | smile and nod", Reply{Text: "Nice to meet you!", Behavior: "smile and nod"}},
		{"empty behavior", "Hello |  ", Reply{Text: "Hello", Behavior: DefaultBehavior}},
		{"extra pipes stay in behavior", "Hi | wave | blink", Reply{Text: "Hi", Behavior: "wave | blink"}},
		{"surrounding whitespace", "  Hey there \n", Reply{Text: "Hey there", Behavior: DefaultBehavior}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseReply(tt.raw))
		})
	}
}

func TestParseReply_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", MaxResponseSize) // 2 bytes each
	got := ParseReply(long)

	assert.LessOrEqual(t, len(got.Text), MaxResponseSize-1)
	assert.True(t, strings.HasPrefix(long, got.Text))
	assert.Equal(t, 0, len(got.Text)%2, "cut must not split a rune")
}

func TestPremise(t *testing.T) {
	p := Premise("it", "ext:5")
	assert.Contains(t, p, "Respond in it language.")
	assert.Contains(t, p, "personality profile: ext:5")
	assert.Contains(t, p, "Keep responses concise (1-3 sentences)")
}

func TestParseConversation(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		got := ParseConversation(`[{"role":"user","parts":[{"text":"Hello"}]},{"role":"model","parts":[{"text":"Hi!"}]}]`)
		if assert.Len(t, got, 2) {
			assert.Equal(t, genai.RoleUser, got[0].Role)
			assert.Equal(t, "Hello", got[0].Parts[0].Text)
			assert.Equal(t, genai.RoleModel, got[1].Role)
		}
	})

	t.Run("bracketless list", func(t *testing.T) {
		got := ParseConversation(`{"role":"user","parts":[{"text":"one"}]},{"role":"user","parts":[{"text":"two"}]}`)
		if assert.Len(t, got, 2) {
			assert.Equal(t, "two", got[1].Parts[0].Text)
		}
	})

	t.Run("unknown roles become user and empty turns drop", func(t *testing.T) {
		got := ParseConversation(`[{"role":"assistant","parts":[{"text":"x"}]},{"role":"user","parts":[{"text":"  "}]}]`)
		if assert.Len(t, got, 1) {
			assert.Equal(t, genai.RoleUser, got[0].Role)
		}
	})

	t.Run("plain text falls back to one user turn", func(t *testing.T) {
		got := ParseConversation("[...]Hello")
		if assert.Len(t, got, 1) {
			assert.Equal(t, genai.RoleUser, got[0].Role)
			assert.Equal(t, "[...]Hello", got[0].Parts[0].Text)
		}
	})

	t.Run("empty json list falls back", func(t *testing.T) {
		got := ParseConversation("[]")
		assert.Len(t, got, 1)
	})
}
