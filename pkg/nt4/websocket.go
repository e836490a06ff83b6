package nt4

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport-level connection the engine drives. It is the subset
// of *websocket.Conn the engine needs; message types follow the gorilla
// constants (websocket.TextMessage, websocket.BinaryMessage), and frame
// classification uses the message type exclusively.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens the transport connection to the given endpoint URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// dialWebSocket returns the default DialFunc backed by gorilla/websocket.
func dialWebSocket(handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return conn, nil
	}
}
