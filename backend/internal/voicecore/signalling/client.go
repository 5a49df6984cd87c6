package signalling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	voiceerrors "voicecore/backend/pkg/errors"
)

// Event is one decoded inbound message handed to the session task.
// Exactly one of Op/Frame/Err is meaningful, discriminated by Kind.
type Event struct {
	Kind EventKind

	Op      Opcode
	Payload json.RawMessage

	Frame DAVEFrame

	CloseCode int
	Err       error
}

// EventKind discriminates the Event union.
type EventKind int

const (
	EventText EventKind = iota
	EventBinary
	EventClosed
)

// Client owns one WebSocket connection to the voice relay's control
// endpoint. Writes are synchronous (the session task is the only
// writer); reads happen on a dedicated pump goroutine that only ever
// feeds the Events channel and never mutates session state itself.
type Client struct {
	conn *websocket.Conn

	events chan Event

	closeOnce sync.Once
	closeErr  error
}

// Dial opens the control WebSocket and starts the read pump.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "control socket dial failed", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 16),
	}
	go c.readPump()
	return c, nil
}

// Events returns the channel of decoded inbound events. Closed once
// the read pump exits.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SendJSON marshals and writes a text-frame message under the given
// opcode (e.g. Identify, Heartbeat, Resume).
func (c *Client) SendJSON(op Opcode, payload any) error {
	data, err := encode(op, payload)
	if err != nil {
		return voiceerrors.NewSignalProtocolViolation(int(op), "encode", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "control socket write failed", err)
	}
	return nil
}

// SendDAVEFrame writes a binary DAVE control frame.
func (c *Client) SendDAVEFrame(opcode uint8, payload []byte) error {
	frame := EncodeDAVEFrame(opcode, payload)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return voiceerrors.NewBaseError(voiceerrors.ErrorTypeSignal, "control socket write failed", err)
	}
	return nil
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// readPump decodes inbound frames and forwards them to events until
// the connection closes, then closes the channel.
func (c *Client) readPump() {
	defer close(c.events)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			closeCode := closeCodeFromErr(err)
			c.events <- Event{Kind: EventClosed, CloseCode: closeCode, Err: err}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			op, payload, err := decodeEnvelope(data)
			if err != nil {
				c.events <- Event{Kind: EventText, Err: voiceerrors.NewSignalProtocolViolation(-1, "decode", err)}
				continue
			}
			c.events <- Event{Kind: EventText, Op: op, Payload: payload}
		case websocket.BinaryMessage:
			frame, err := DecodeDAVEFrame(data)
			if err != nil {
				c.events <- Event{Kind: EventBinary, Err: err}
				continue
			}
			c.events <- Event{Kind: EventBinary, Frame: frame}
		}
	}
}

// closeCodeFromErr extracts the WebSocket close code from a read
// error, or 0 if the error isn't a close frame (e.g. a network reset).
func closeCodeFromErr(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return 0
}
