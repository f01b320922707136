// Package client performs one-shot exchanges with a relay server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/utkarsh5026/dialogrelay/internal/protocol"
)

// DefaultTimeout bounds a whole exchange when ctx has no deadline.
const DefaultTimeout = 35 * time.Second

// ErrServerError is returned when the relay answers with an ERROR frame.
var ErrServerError = errors.New("client: server returned an error")

// Exchange dials addr, sends one frame and returns the single response.
// The connection is closed before returning.
func Exchange(ctx context.Context, addr string, t protocol.Type, payload string) (protocol.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := protocol.WriteMessage(conn, t, payload); err != nil {
		return protocol.Message{}, fmt.Errorf("client: send: %w", err)
	}

	msg, err := protocol.ReadMessage(conn, protocol.MaxMessageSize)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("client: receive: %w", err)
	}
	return msg, nil
}

// Dialog sends an AI_DIALOG_REQUEST and returns the reply text.
func Dialog(ctx context.Context, addr string, req protocol.DialogRequest) (string, error) {
	msg, err := Exchange(ctx, addr, protocol.AIDialogRequest, req.Encode())
	if err != nil {
		return "", err
	}
	return expect(msg, protocol.AIDialogResponse)
}

// Test sends a TEST_DIALOG_REQUEST for language and returns the canned reply.
func Test(ctx context.Context, addr, language string) (string, error) {
	msg, err := Exchange(ctx, addr, protocol.TestDialogRequest, language)
	if err != nil {
		return "", err
	}
	return expect(msg, protocol.TestDialogResponse)
}

func expect(msg protocol.Message, want protocol.Type) (string, error) {
	switch msg.Type {
	case want:
		return msg.Payload, nil
	case protocol.Error:
		return "", fmt.Errorf("%w: %s", ErrServerError, msg.Payload)
	default:
		return "", fmt.Errorf("client: unexpected response type %s", msg.Type)
	}
}
