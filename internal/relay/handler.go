// Package relay implements the per-connection request handler: read one
// frame, answer it, close.
package relay

import (
	"context"
	"net"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/utkarsh5026/dialogrelay/internal/ai"
	"github.com/utkarsh5026/dialogrelay/internal/canned"
	"github.com/utkarsh5026/dialogrelay/internal/logging"
	"github.com/utkarsh5026/dialogrelay/internal/protocol"
)

const (
	DefaultConnTimeout = 30 * time.Second
	DefaultAITimeout   = 15 * time.Second
)

// Error payloads sent to clients.
const (
	MsgMissingFields = "Missing required fields"
	MsgAIFailed      = "Failed to generate AI response"
	MsgUnknownType   = "Unknown message type"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithConnTimeout sets the per-operation socket deadline.
func WithConnTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.connTimeout = d
		}
	}
}

// WithAITimeout bounds each backend call.
func WithAITimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.aiTimeout = d
		}
	}
}

// WithMaxMessageSize sets the frame payload limit.
func WithMaxMessageSize(n int) Option {
	return func(h *Handler) {
		if n > 1 {
			h.maxMessage = n
		}
	}
}

// WithBehaviorSuffix appends " | [Robot behavior: ...]" to AI replies.
func WithBehaviorSuffix(enabled bool) Option {
	return func(h *Handler) {
		h.behaviorSuffix = enabled
	}
}

// Handler answers exactly one request per connection. It is stateless
// apart from the canned reply rotation and safe for concurrent use.
type Handler struct {
	backend ai.Backend
	replies *canned.Service
	log     *logging.Logger

	connTimeout    time.Duration
	aiTimeout      time.Duration
	maxMessage     int
	behaviorSuffix bool
}

// NewHandler builds a Handler over an AI backend and a canned reply
// service.
func NewHandler(backend ai.Backend, replies *canned.Service, opts ...Option) *Handler {
	h := &Handler{
		backend:     backend,
		replies:     replies,
		log:         logging.NopLogger(),
		connTimeout: DefaultConnTimeout,
		aiTimeout:   DefaultAITimeout,
		maxMessage:  protocol.MaxMessageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.replies == nil {
		h.replies = canned.New()
	}
	h.log = h.log.With("component", "relay")
	return h
}

// Serve handles one connection and always closes it. A frame that cannot be
// read gets no response; anything else gets exactly one.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := h.log.With("request_id", uuid.NewString(), "remote", conn.RemoteAddr().String())

	if err := conn.SetReadDeadline(time.Now().Add(h.connTimeout)); err != nil {
		log.Warn("failed to set receive timeout", "error", err)
	}

	msg, err := protocol.ReadMessage(conn, h.maxMessage)
	if err != nil {
		log.Warn("failed to receive message", "error", err)
		return
	}
	if msg.Truncated {
		log.Warn("payload truncated", "limit", h.maxMessage-1)
	}
	log.Info("received message", "type", msg.Type)

	typ, payload := h.dispatch(ctx, log, msg)

	if err := conn.SetWriteDeadline(time.Now().Add(h.connTimeout)); err != nil {
		log.Warn("failed to set send timeout", "error", err)
	}
	if _, err := conn.Write(protocol.Encode(typ, payload, h.maxMessage)); err != nil {
		log.Warn("failed to send response", "type", typ, "error", err)
		return
	}
	log.Debug("response sent", "type", typ, "bytes", len(payload))
}

func (h *Handler) dispatch(ctx context.Context, log *logging.Logger, msg protocol.Message) (protocol.Type, string) {
	switch msg.Type {
	case protocol.AIDialogRequest:
		return h.dialog(ctx, log, msg.Payload)

	case protocol.TestDialogRequest:
		lang := protocol.TestLanguage(msg.Payload)
		return protocol.TestDialogResponse, h.replies.Reply(lang)

	default:
		log.Warn("unknown message type", "type", msg.Type)
		return protocol.Error, MsgUnknownType
	}
}

func (h *Handler) dialog(ctx context.Context, log *logging.Logger, payload string) (protocol.Type, string) {
	req, err := protocol.ParseDialogRequest(payload)
	if err != nil {
		log.Warn("invalid dialogue request", "error", err)
		return protocol.Error, MsgMissingFields
	}

	log.Info("ai request", "personality", preview(req.Personality, 30), "language", req.Language)

	ctx, cancel := context.WithTimeout(ctx, h.aiTimeout)
	defer cancel()

	start := time.Now()
	reply, err := h.backend.Generate(ctx, req.Personality, req.Language, req.Conversation)
	if err != nil {
		log.Error("ai response failed", "error", err, "elapsed", time.Since(start))
		return protocol.Error, MsgAIFailed
	}
	log.Info("ai response", "elapsed", time.Since(start), "behavior", reply.Behavior)

	text := reply.Text
	if h.behaviorSuffix {
		behavior := reply.Behavior
		if behavior == "" {
			behavior = ai.DefaultBehavior
		}
		text += " | [Robot behavior: " + behavior + "]"
	}
	return protocol.AIDialogResponse, text
}

// preview cuts s to at most n bytes on a rune boundary.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
