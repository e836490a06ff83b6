package nt4

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nab138/nt4go/pkg/protocol"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// ValueHandler receives every inbound value update for an announced topic,
// in frame arrival order, from the connection's read loop.
type ValueHandler func(topic *Topic, timestampUs int64, value protocol.Value)

// TopicHandler receives topic announce/unannounce notifications.
type TopicHandler func(topic *Topic)

// Client is an NT4 protocol client: it owns one WebSocket connection, the
// topic and subscription registries bound to it, and the clock-sync state.
//
// Outbound operations are safe for concurrent use; each treats its registry
// mutation and frame transmission as one atomic step. All operations are
// fire-and-forget: the only acknowledgment the server ever sends is the
// eventual announce/unannounce/value traffic. The client never retries a
// connection; see the replay package for intent that must survive
// reconnects.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	ids     IDSource
	metrics *Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	state  ConnState
	conn   Conn
	done   chan struct{}
	topics *topicRegistry
	subs   *subscriptionRegistry
	clock  *clockSync

	onOpen       []func()
	onClose      []func(error)
	onValue      []ValueHandler
	onAnnounce   []TopicHandler
	onUnannounce []TopicHandler
}

// New creates a client for the server at host, identifying itself with the
// given application name. The client starts disconnected.
func New(host, name string, opts ...Option) *Client {
	cfg := defaultConfig(host, name)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dial == nil {
		cfg.Dial = dialWebSocket(cfg.DialTimeout)
	}

	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "nt4"),
		ids:     cfg.IDs,
		metrics: cfg.Metrics,
		tracer:  newTracer(cfg.Tracing),
		topics:  newTopicRegistry(cfg.Logger),
		subs:    newSubscriptionRegistry(cfg.Logger),
		clock:   newClockSync(cfg.Clock),
	}
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string {
	return fmt.Sprintf("ws://%s:%d/nt/%s", c.cfg.Host, c.cfg.Port, c.cfg.Name)
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnOpen registers fn to run after each successful connection establishment,
// after the initial clock-sync request has been sent. Register handlers
// before Connect.
func (c *Client) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = append(c.onOpen, fn)
}

// OnClose registers fn to run on each transition to Disconnected. The error
// is nil for an explicit Disconnect.
func (c *Client) OnClose(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// OnValue registers the value sink. Handlers run synchronously on the read
// loop, so delivery order matches frame arrival order.
func (c *Client) OnValue(fn ValueHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onValue = append(c.onValue, fn)
}

// OnAnnounce registers fn to run when the server announces a topic.
func (c *Client) OnAnnounce(fn TopicHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAnnounce = append(c.onAnnounce, fn)
}

// OnUnannounce registers fn to run when the server unannounces a topic.
func (c *Client) OnUnannounce(fn TopicHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnannounce = append(c.onUnannounce, fn)
}

// Connect dials the server and starts the read loop. Connect while Open is
// a no-op returning success. On failure the client returns to Disconnected;
// it never retries on its own.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnecting
	}
	c.state = StateConnecting
	dial := c.cfg.Dial
	url := c.URL()
	c.mu.Unlock()

	end := c.startSpan("nt4.connect", attribute.String("nt4.url", url))

	conn, err := dial(ctx, url)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		err = fmt.Errorf("nt4: connect %s: %w", url, err)
		end(err)
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the dial; drop the fresh connection.
		c.mu.Unlock()
		conn.Close()
		end(ErrNotConnected)
		return ErrNotConnected
	}
	c.state = StateOpen
	c.conn = conn
	c.done = make(chan struct{})
	done := c.done
	openFns := slices.Clone(c.onOpen)
	c.mu.Unlock()

	c.logger.Info("connected", "url", url)
	c.metrics.recordConnect()
	end(nil)

	// The first clock-sync exchange goes out before anything else so value
	// publishes get a usable server timestamp as early as possible.
	if err := c.sendClockSync(); err != nil {
		return err
	}

	go c.readLoop(conn)
	go c.syncLoop(done)

	for _, fn := range openFns {
		fn()
	}
	return nil
}

// Disconnect closes the connection and discards all topic and subscription
// state. It is the only way to abort outstanding intent, and it is global.
// Disconnect while Disconnected is a no-op.
func (c *Client) Disconnect() {
	c.teardown(nil)
}

// teardown moves the client to Disconnected, clearing both registries in
// full. Reconnect logic living outside the core is expected to re-publish
// and re-subscribe after the next OnOpen. Idempotent.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.topics.clear()
	c.subs.clear()
	c.clock.reset()
	closeFns := slices.Clone(c.onClose)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cause != nil {
		c.logger.Warn("connection lost", "error", cause)
	} else {
		c.logger.Info("disconnected")
	}
	c.metrics.recordDisconnect()
	c.metrics.setAnnouncedTopics(0)

	for _, fn := range closeFns {
		fn(cause)
	}
}

// Publish declares this client a writer of the named topic. Publishing a
// name that is already published is idempotent: the existing entry keeps the
// first call's type and properties and nothing is sent.
func (c *Client) Publish(name string, dtype protocol.DataType, properties map[string]any) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if _, ok := c.topics.localByName(name); ok {
		c.mu.Unlock()
		c.logger.Debug("publish of already-published topic", "name", name)
		return nil
	}

	if properties == nil {
		properties = make(map[string]any)
	}
	pubuid := c.ids.NextPubUID()
	frame, err := encodeControl(protocol.MethodPublish, protocol.PublishParams{
		Name:       name,
		Type:       dtype.String(),
		PubUID:     pubuid,
		Properties: properties,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.topics.registerLocal(name, dtype, pubuid, properties)
	werr := c.conn.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()

	if werr != nil {
		werr = fmt.Errorf("nt4: send publish: %w", werr)
		c.teardown(werr)
		return werr
	}
	c.metrics.recordFrameSent(frameKindControl)
	c.logger.Debug("published", "name", name, "type", dtype.String(), "pubuid", pubuid)
	return nil
}

// Unpublish retracts a previous Publish. Unpublishing an unknown name is a
// logged no-op.
func (c *Client) Unpublish(name string) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	topic, ok := c.topics.unregisterLocal(name)
	if !ok {
		c.mu.Unlock()
		return nil
	}

	frame, err := encodeControl(protocol.MethodUnpublish, protocol.UnpublishParams{PubUID: topic.PubUID})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	werr := c.conn.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()

	if werr != nil {
		werr = fmt.Errorf("nt4: send unpublish: %w", werr)
		c.teardown(werr)
		return werr
	}
	c.metrics.recordFrameSent(frameKindControl)
	c.logger.Debug("unpublished", "name", name, "pubuid", topic.PubUID)
	return nil
}

// PublishValue sends a value update for a topic this client has published.
// The value is stamped with the current server time, or zero before the
// first clock-sync exchange has completed.
func (c *Client) PublishValue(name string, value protocol.Value) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	topic, ok := c.topics.localByName(name)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPublished, name)
	}
	if value.Type != topic.Type {
		c.mu.Unlock()
		return fmt.Errorf("%w: topic %s is %s, value is %s",
			ErrTypeMismatch, name, topic.Type, value.Type)
	}

	data, err := protocol.EncodeBinary(topic.PubUID, c.clock.serverTimeOrZero(), value)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	werr := c.conn.WriteMessage(websocket.BinaryMessage, data)
	c.mu.Unlock()

	if werr != nil {
		werr = fmt.Errorf("nt4: send value: %w", werr)
		c.teardown(werr)
		return werr
	}
	c.metrics.recordFrameSent(frameKindValue)
	return nil
}

// Subscribe asks the server to deliver topics matching the given name
// patterns and returns the subscription's identifier.
func (c *Client) Subscribe(patterns []string, opts protocol.SubscriptionOptions) (int32, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}

	subuid := c.ids.NextSubUID()
	frame, err := encodeControl(protocol.MethodSubscribe, protocol.SubscribeParams{
		Topics:  patterns,
		SubUID:  subuid,
		Options: opts,
	})
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	c.subs.add(subuid, patterns, opts)
	werr := c.conn.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()

	if werr != nil {
		werr = fmt.Errorf("nt4: send subscribe: %w", werr)
		c.teardown(werr)
		return 0, werr
	}
	c.metrics.recordFrameSent(frameKindControl)
	c.logger.Debug("subscribed", "topics", patterns, "subuid", subuid)
	return subuid, nil
}

// Unsubscribe retracts a previous Subscribe. An unknown identifier is a
// logged no-op.
func (c *Client) Unsubscribe(subuid int32) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if _, ok := c.subs.remove(subuid); !ok {
		c.mu.Unlock()
		return nil
	}

	frame, err := encodeControl(protocol.MethodUnsubscribe, protocol.UnsubscribeParams{SubUID: subuid})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	werr := c.conn.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()

	if werr != nil {
		werr = fmt.Errorf("nt4: send unsubscribe: %w", werr)
		c.teardown(werr)
		return werr
	}
	c.metrics.recordFrameSent(frameKindControl)
	c.logger.Debug("unsubscribed", "subuid", subuid)
	return nil
}

// ServerTimeUs returns the current time on the server's clock, false before
// the first clock-sync exchange has completed.
func (c *Client) ServerTimeUs() (int64, bool) {
	return c.clock.ServerTimeUs()
}

// AnnouncedTopics returns a snapshot of the server-announced topics. The
// returned topics are detached copies; later properties updates do not
// mutate them.
func (c *Client) AnnouncedTopics() []*Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics.remoteSnapshot()
}

// Subscriptions returns a snapshot of the active subscriptions.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs.snapshot()
}

func encodeControl(method string, params any) ([]byte, error) {
	msg, err := protocol.NewControlMessage(method, params)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeControl(msg)
}
