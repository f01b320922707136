// Package protocol implements the line-oriented relay wire format.
//
// Every frame is a single line "<type>|<payload>\n". A connection carries
// exactly one request frame and receives exactly one response frame.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Type identifies the kind of a frame.
type Type int

// Message types understood by the relay.
const (
	AIDialogRequest    Type = 1
	TestDialogRequest  Type = 2
	AIDialogResponse   Type = 3
	TestDialogResponse Type = 4
	Error              Type = 5
)

const (
	// MaxMessageSize bounds a payload; payloads keep at most MaxMessageSize-1 bytes.
	MaxMessageSize = 2048

	// headerSlack is the room left for the type prefix on top of the payload.
	headerSlack = 64

	maxType = 1000
)

var (
	ErrMalformed = errors.New("protocol: malformed frame")
	ErrBadType   = errors.New("protocol: message type out of range")
	ErrEmpty     = errors.New("protocol: connection closed before a frame")
)

func (t Type) String() string {
	switch t {
	case AIDialogRequest:
		return "AI_DIALOG_REQUEST"
	case TestDialogRequest:
		return "TEST_DIALOG_REQUEST"
	case AIDialogResponse:
		return "AI_DIALOG_RESPONSE"
	case TestDialogResponse:
		return "TEST_DIALOG_RESPONSE"
	case Error:
		return "ERROR"
	default:
		return "TYPE_" + strconv.Itoa(int(t))
	}
}

// Message is one decoded frame.
type Message struct {
	Type    Type
	Payload string

	// Truncated reports that the payload was cut to fit the size limit.
	Truncated bool
}

// ReadMessage reads one frame from r.
//
// maxSize is the payload limit (MaxMessageSize when <= 0). Carriage returns are
// dropped and reading stops at the first newline. Bytes past
// maxSize+headerSlack-1 are consumed and discarded. Oversized payloads are
// truncated to maxSize-1 bytes and flagged on the returned Message rather than
// rejected.
func ReadMessage(r io.Reader, maxSize int) (Message, error) {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}

	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	line, err := readLine(br, maxSize+headerSlack-1)
	if err != nil {
		return Message{}, err
	}
	return Decode(line, maxSize)
}

func readLine(br io.ByteReader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if sb.Len() == 0 {
					return "", ErrEmpty
				}
				return sb.String(), nil
			}
			return "", err
		}

		switch b {
		case '\n':
			return sb.String(), nil
		case '\r':
			continue
		}

		// Past the limit the rest of the line is drained so the next frame
		// starts clean.
		if sb.Len() < limit {
			sb.WriteByte(b)
		}
	}
}

// Decode parses a single line without its terminator.
func Decode(line string, maxSize int) (Message, error) {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	if len(line) < 2 {
		return Message{}, fmt.Errorf("%w: frame too short", ErrMalformed)
	}

	head, payload, found := strings.Cut(line, "|")
	if !found {
		return Message{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	}

	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrBadType, head)
	}
	if n < 0 || n > maxType {
		return Message{}, fmt.Errorf("%w: %d", ErrBadType, n)
	}

	msg := Message{Type: Type(n), Payload: payload}
	if len(payload) > maxSize-1 {
		msg.Payload = payload[:maxSize-1]
		msg.Truncated = true
	}
	return msg, nil
}

// Encode renders a frame, newline included. Embedded line breaks are
// flattened to spaces and the payload is cut to maxSize-1 bytes.
func Encode(t Type, payload string, maxSize int) []byte {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	payload = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(payload)
	if len(payload) > maxSize-1 {
		payload = payload[:maxSize-1]
	}

	buf := make([]byte, 0, len(payload)+8)
	buf = strconv.AppendInt(buf, int64(t), 10)
	buf = append(buf, '|')
	buf = append(buf, payload...)
	return append(buf, '\n')
}

// WriteMessage encodes and writes one frame to w.
func WriteMessage(w io.Writer, t Type, payload string) error {
	_, err := w.Write(Encode(t, payload, MaxMessageSize))
	return err
}
