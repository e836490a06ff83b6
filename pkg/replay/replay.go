// Package replay keeps publish and subscribe intent alive across
// disconnects. The core client deliberately forgets everything when a
// connection drops; a Session remembers what the application asked for and
// replays it after every reconnect, including the last value written to each
// published topic.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nab138/nt4go/pkg/nt4"
	"github.com/nab138/nt4go/pkg/protocol"
)

// DefaultRetryInterval is the pause between reconnect attempts.
const DefaultRetryInterval = 2 * time.Second

type publication struct {
	dtype      protocol.DataType
	properties map[string]any
	lastValue  *protocol.Value
}

type subscription struct {
	patterns []string
	opts     protocol.SubscriptionOptions
	subuid   int32 // current connection's identifier, zero while disconnected
}

// Handle identifies a subscription made through a Session. Handles are
// stable across reconnects, unlike the client's per-connection identifiers.
type Handle int64

// Session wraps a client with durable intent. Operations succeed even while
// disconnected; they take effect on the wire as soon as a connection exists.
type Session struct {
	client        *nt4.Client
	logger        *slog.Logger
	clk           clock.Clock
	retryInterval time.Duration

	mu         sync.Mutex
	pubs       map[string]*publication
	subs       map[Handle]*subscription
	nextHandle Handle

	closed chan error
}

// Option configures a Session.
type Option func(*Session)

// WithRetryInterval sets the pause between reconnect attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Session) { s.retryInterval = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l.With("component", "replay") }
}

// WithClock substitutes the time source used for retry pauses.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clk = c }
}

// New wraps a client. The session installs OnOpen and OnClose hooks on it;
// register any application hooks on the client as usual.
func New(client *nt4.Client, opts ...Option) *Session {
	s := &Session{
		client:        client,
		logger:        slog.Default().With("component", "replay"),
		clk:           clock.New(),
		retryInterval: DefaultRetryInterval,
		pubs:          make(map[string]*publication),
		subs:          make(map[Handle]*subscription),
		closed:        make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	client.OnOpen(s.replay)
	client.OnClose(func(err error) {
		select {
		case s.closed <- err:
		default:
		}
	})
	return s
}

// Client returns the wrapped client, for reads and hook registration.
func (s *Session) Client() *nt4.Client {
	return s.client
}

// Run connects and keeps reconnecting with a fixed pause until ctx is
// canceled. An explicit Disconnect on the client counts as a drop and is
// reconnected like any other; cancel ctx to stop for good.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.client.Connect(ctx); err != nil {
			s.logger.Warn("connect failed", "error", err)
		} else {
			select {
			case err := <-s.closed:
				if err != nil {
					s.logger.Warn("connection dropped", "error", err)
				}
			case <-ctx.Done():
				s.client.Disconnect()
				return ctx.Err()
			}
		}

		timer := s.clk.Timer(s.retryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// replay pushes all recorded intent onto a fresh connection.
func (s *Session) replay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, pub := range s.pubs {
		if err := s.client.Publish(name, pub.dtype, pub.properties); err != nil {
			s.logger.Warn("replay publish", "name", name, "error", err)
			return
		}
		if pub.lastValue != nil {
			if err := s.client.PublishValue(name, *pub.lastValue); err != nil {
				s.logger.Warn("replay value", "name", name, "error", err)
				return
			}
		}
	}
	for handle, sub := range s.subs {
		subuid, err := s.client.Subscribe(sub.patterns, sub.opts)
		if err != nil {
			s.logger.Warn("replay subscribe", "handle", int64(handle), "error", err)
			return
		}
		sub.subuid = subuid
	}
	s.logger.Info("intent replayed", "publications", len(s.pubs), "subscriptions", len(s.subs))
}

// Publish records the intent to publish and forwards it if connected.
func (s *Session) Publish(name string, dtype protocol.DataType, properties map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pubs[name]; !ok {
		s.pubs[name] = &publication{dtype: dtype, properties: properties}
	}
	if err := s.client.Publish(name, dtype, properties); err != nil && !errors.Is(err, nt4.ErrNotConnected) {
		return err
	}
	return nil
}

// Unpublish drops the recorded intent and forwards the retraction.
func (s *Session) Unpublish(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pubs, name)
	if err := s.client.Unpublish(name); err != nil && !errors.Is(err, nt4.ErrNotConnected) {
		return err
	}
	return nil
}

// PublishValue sends a value and remembers it for replay after the next
// reconnect. The topic must have been published through this session.
func (s *Session) PublishValue(name string, value protocol.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pub, ok := s.pubs[name]
	if !ok {
		return nt4.ErrNotPublished
	}
	if value.Type != pub.dtype {
		return nt4.ErrTypeMismatch
	}
	pub.lastValue = &value

	if err := s.client.PublishValue(name, value); err != nil && !errors.Is(err, nt4.ErrNotConnected) {
		return err
	}
	return nil
}

// Subscribe records the intent to subscribe and forwards it if connected.
func (s *Session) Subscribe(patterns []string, opts protocol.SubscriptionOptions) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHandle++
	handle := s.nextHandle
	sub := &subscription{patterns: patterns, opts: opts}
	s.subs[handle] = sub

	// A transport failure on the forwarded frame means the caller got an
	// error, so the intent must not linger and replay later.
	subuid, err := s.client.Subscribe(patterns, opts)
	if err != nil && !errors.Is(err, nt4.ErrNotConnected) {
		delete(s.subs, handle)
		return 0, err
	}
	if err == nil {
		sub.subuid = subuid
	}
	return handle, nil
}

// Unsubscribe drops the recorded intent and retracts the subscription on the
// wire when connected.
func (s *Session) Unsubscribe(handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[handle]
	if !ok {
		return nil
	}
	delete(s.subs, handle)
	if sub.subuid != 0 {
		if err := s.client.Unsubscribe(sub.subuid); err != nil && !errors.Is(err, nt4.ErrNotConnected) {
			return err
		}
	}
	return nil
}
