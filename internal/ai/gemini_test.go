package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utkarsh5026/dialogrelay/internal/algorithms"
	"github.com/utkarsh5026/dialogrelay/internal/logging"
)

// fakeGemini serves generateContent requests from a handler func.
func fakeGemini(t *testing.T, handle func(w http.ResponseWriter, body map[string]any)) (*Gemini, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		handle(w, body)
	}))
	t.Cleanup(srv.Close)

	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: srv.URL + "/",
	}, logging.NopLogger())
	require.NoError(t, err)
	return g, &calls
}

func candidate(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			"finishReason": "STOP",
		}},
	})
	return string(b)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{APIKey: "  "}, logging.NopLogger())
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestGemini_Generate(t *testing.T) {
	g, calls := fakeGemini(t, func(w http.ResponseWriter, body map[string]any) {
		contents, _ := body["contents"].([]any)
		assert.Len(t, contents, 1)

		assert.NotNil(t, body["systemInstruction"])
		safety, _ := body["safetySettings"].([]any)
		assert.Len(t, safety, 4)

		gen, _ := body["generationConfig"].(map[string]any)
		assert.EqualValues(t, 800, gen["maxOutputTokens"])
		assert.InDelta(t, 0.9, gen["temperature"], 0.001)

		_, _ = io.WriteString(w, candidate("Ciao! | smile"))
	})

	reply, err := g.Generate(context.Background(), "ext:5", "it", `[{"role":"user","parts":[{"text":"Hello"}]}]`)
	require.NoError(t, err)
	assert.Equal(t, Reply{Text: "Ciao!", Behavior: "smile"}, reply)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGemini_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		retryable bool
	}{
		{
			name:    "blocked prompt",
			status:  http.StatusOK,
			body:    `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantErr: ErrBlocked,
		},
		{
			name:    "safety finish without text",
			status:  http.StatusOK,
			body:    `{"candidates":[{"finishReason":"SAFETY"}]}`,
			wantErr: ErrBlocked,
		},
		{
			name:    "no candidates",
			status:  http.StatusOK,
			body:    `{"candidates":[]}`,
			wantErr: ErrEmptyResponse,
		},
		{
			name:      "server unavailable",
			status:    http.StatusServiceUnavailable,
			body:      `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`,
			retryable: true,
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := fakeGemini(t, func(w http.ResponseWriter, _ map[string]any) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := g.Generate(context.Background(), "p", "en", "hi")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}
}

func TestGemini_RespectsDeadline(t *testing.T) {
	release := make(chan struct{})
	g, _ := fakeGemini(t, func(w http.ResponseWriter, _ map[string]any) {
		<-release
	})
	// Registered after the server so it runs first and unblocks the handler.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Generate(ctx, "p", "en", "hi")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(ErrEmptyResponse))
	assert.True(t, Retryable(&resetErr{}))
}

// resetErr is a transient net.Error.
type resetErr struct{}

func (*resetErr) Error() string   { return "connection reset" }
func (*resetErr) Timeout() bool   { return false }
func (*resetErr) Temporary() bool { return true }

func TestRetrying_RetriesTransientFailures(t *testing.T) {
	var n atomic.Int64
	flaky := BackendFunc(func(context.Context, string, string, string) (Reply, error) {
		if n.Add(1) < 3 {
			return Reply{}, &resetErr{}
		}
		return Reply{Text: "ok", Behavior: DefaultBehavior}, nil
	})

	b := NewRetrying(flaky, 3, func() algorithms.Strategy {
		return algorithms.New(algorithms.Exponential, time.Millisecond, 2*time.Millisecond, 0)
	}, logging.NopLogger())

	reply, err := b.Generate(context.Background(), "p", "en", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.EqualValues(t, 3, n.Load())
}

func TestRetrying_StopsOnPermanentError(t *testing.T) {
	var n atomic.Int64
	b := NewRetrying(BackendFunc(func(context.Context, string, string, string) (Reply, error) {
		n.Add(1)
		return Reply{}, ErrBlocked
	}), 5, nil, logging.NopLogger())

	_, err := b.Generate(context.Background(), "p", "en", "hi")
	assert.ErrorIs(t, err, ErrBlocked)
	assert.EqualValues(t, 1, n.Load())
}

func TestNewRetrying_SingleAttemptIsPassthrough(t *testing.T) {
	base := BackendFunc(func(context.Context, string, string, string) (Reply, error) { return Reply{}, nil })
	b := NewRetrying(base, 1, nil, logging.NopLogger())
	_, isRetrying := b.(*Retrying)
	assert.False(t, isRetrying)
}

func TestRateLimited(t *testing.T) {
	var n atomic.Int64
	base := BackendFunc(func(context.Context, string, string, string) (Reply, error) {
		n.Add(1)
		return Reply{Text: "ok"}, nil
	})

	t.Run("passthrough when disabled", func(t *testing.T) {
		_, isLimited := NewRateLimited(base, 0, 1).(*RateLimited)
		assert.False(t, isLimited)
	})

	t.Run("burst then deadline", func(t *testing.T) {
		b := NewRateLimited(base, 0.001, 2)

		for range 2 {
			_, err := b.Generate(context.Background(), "p", "en", "hi")
			require.NoError(t, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := b.Generate(ctx, "p", "en", "hi")
		require.Error(t, err)
		assert.EqualValues(t, 2, n.Load(), "throttled call must not reach the backend")
	})
}

func TestBackendFunc(t *testing.T) {
	want := errors.New("nope")
	_, err := BackendFunc(func(context.Context, string, string, string) (Reply, error) {
		return Reply{}, want
	}).Generate(context.Background(), "", "", "")
	assert.ErrorIs(t, err, want)
}
