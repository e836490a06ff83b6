// Package testutil provides an in-memory transport for exercising the NT4
// engine without a network.
package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Conn operations after either end has closed.
var ErrClosed = errors.New("testutil: connection closed")

type message struct {
	mt   int
	data []byte
}

// Conn is one end of an in-memory connection pair. It satisfies the nt4
// transport interface; message types follow the gorilla/websocket constants.
type Conn struct {
	in     <-chan message
	out    chan<- message
	closed chan struct{}
	once   *sync.Once
}

// NewConnPair returns two connected ends. Frames written to one end are read
// from the other, in order. Closing either end closes both.
func NewConnPair() (*Conn, *Conn) {
	a2b := make(chan message, 64)
	b2a := make(chan message, 64)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &Conn{in: b2a, out: a2b, closed: closed, once: once}
	b := &Conn{in: a2b, out: b2a, closed: closed, once: once}
	return a, b
}

// ReadMessage blocks until a frame arrives or the pair is closed.
func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.in:
		return msg.mt, msg.data, nil
	case <-c.closed:
		// Drain frames that were in flight when the pair closed.
		select {
		case msg := <-c.in:
			return msg.mt, msg.data, nil
		default:
			return 0, nil, ErrClosed
		}
	}
}

// WriteMessage delivers a frame to the peer.
func (c *Conn) WriteMessage(mt int, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.out <- message{mt: mt, data: data}:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Close closes both ends of the pair. Safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// SendText delivers a text (control) frame to the peer.
func (c *Conn) SendText(data []byte) error {
	return c.WriteMessage(websocket.TextMessage, data)
}

// SendBinary delivers a binary (value) frame to the peer.
func (c *Conn) SendBinary(data []byte) error {
	return c.WriteMessage(websocket.BinaryMessage, data)
}

// ReadFrame reads one frame with a timeout, failing the test via the
// returned error instead of hanging forever.
func (c *Conn) ReadFrame(timeout time.Duration) (int, []byte, error) {
	type result struct {
		mt   int
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		mt, data, err := c.ReadMessage()
		ch <- result{mt, data, err}
	}()
	select {
	case r := <-ch:
		return r.mt, r.data, r.err
	case <-time.After(timeout):
		return 0, nil, errors.New("testutil: timed out waiting for frame")
	}
}
