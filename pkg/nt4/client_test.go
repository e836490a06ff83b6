package nt4

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/nab138/nt4go/internal/testutil"
	"github.com/nab138/nt4go/pkg/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient returns a client wired to an in-memory transport and the
// server end of that transport.
func newTestClient(t *testing.T, opts ...Option) (*Client, *testutil.Conn) {
	t.Helper()

	clientEnd, serverEnd := testutil.NewConnPair()
	base := []Option{
		WithDialer(func(ctx context.Context, url string) (Conn, error) {
			return clientEnd, nil
		}),
		WithLogger(discardLogger()),
	}
	c := New("localhost", "test", append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c, serverEnd
}

// connect establishes the connection and drains the initial clock-sync
// frame, returning its send timestamp.
func connect(t *testing.T, c *Client, server *testutil.Conn) int64 {
	t.Helper()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	mt, data, err := server.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("reading initial clock-sync frame: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("initial frame message type = %d, want binary", mt)
	}
	msgs, err := protocol.DecodeBinary(data)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("decoding initial frame: %v (%d tuples)", err, len(msgs))
	}
	if msgs[0].ID != protocol.ClockSyncTopicID {
		t.Fatalf("initial frame topic id = %d, want %d", msgs[0].ID, protocol.ClockSyncTopicID)
	}
	if msgs[0].Value.Type != protocol.TypeInt {
		t.Fatalf("initial frame value type = %v, want int", msgs[0].Value.Type)
	}
	return msgs[0].Value.Int
}

// readControl reads one text frame from the server end and decodes it.
func readControl(t *testing.T, server *testutil.Conn) []protocol.ControlMessage {
	t.Helper()

	mt, data, err := server.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("reading control frame: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("control frame message type = %d, want text", mt)
	}
	msgs, err := protocol.DecodeControl(data)
	if err != nil {
		t.Fatalf("decoding control frame: %v", err)
	}
	return msgs
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectOpensAndFiresOnOpen(t *testing.T) {
	c, server := newTestClient(t)

	var mu sync.Mutex
	opened := 0
	c.OnOpen(func() {
		mu.Lock()
		opened++
		mu.Unlock()
	})

	connect(t, c, server)

	if got := c.State(); got != StateOpen {
		t.Errorf("State() = %v, want Open", got)
	}
	mu.Lock()
	if opened != 1 {
		t.Errorf("OnOpen fired %d times, want 1", opened)
	}
	mu.Unlock()

	// Connect while Open is a no-op returning success.
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("second Connect() error = %v, want nil", err)
	}
}

func TestOperationsWhileDisconnected(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.Publish("/x", protocol.TypeDouble, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unpublish("/x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unpublish() error = %v, want ErrNotConnected", err)
	}
	if _, err := c.Subscribe([]string{"/"}, protocol.SubscriptionOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe(1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishValue("/x", protocol.DoubleValue(1)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishValue() error = %v, want ErrNotConnected", err)
	}
	if _, ok := c.ServerTimeUs(); ok {
		t.Error("ServerTimeUs() ok = true while disconnected")
	}
}

func TestPublishIdempotent(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	if err := c.Publish("/test", protocol.TypeDouble, map[string]any{"retained": true}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msgs := readControl(t, server)
	if len(msgs) != 1 || msgs[0].Method != protocol.MethodPublish {
		t.Fatalf("first frame = %+v, want one publish", msgs)
	}
	params, err := protocol.DecodeParams[protocol.PublishParams](msgs[0])
	if err != nil {
		t.Fatalf("DecodeParams() error = %v", err)
	}
	if params.Name != "/test" || params.Type != "double" || params.PubUID != 1 {
		t.Errorf("publish params = %+v, want name=/test type=double pubuid=1", params)
	}

	// Publishing the same name again is a no-op: nothing on the wire, entry
	// keeps the first call's type.
	if err := c.Publish("/test", protocol.TypeInt, nil); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if _, err := c.Subscribe([]string{"/marker"}, protocol.SubscriptionOptions{}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	msgs = readControl(t, server)
	if len(msgs) != 1 || msgs[0].Method != protocol.MethodSubscribe {
		t.Fatalf("frame after duplicate publish = %+v, want the subscribe marker", msgs)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	opts := protocol.SubscriptionOptions{Periodic: 0.25, All: true, Prefix: true}
	subuid, err := c.Subscribe([]string{"/a", "/b"}, opts)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msgs := readControl(t, server)
	params, err := protocol.DecodeParams[protocol.SubscribeParams](msgs[0])
	if err != nil {
		t.Fatalf("DecodeParams() error = %v", err)
	}
	if params.SubUID != subuid {
		t.Errorf("subscribe subuid = %d, want %d", params.SubUID, subuid)
	}
	if len(params.Topics) != 2 || params.Topics[0] != "/a" {
		t.Errorf("subscribe topics = %v, want [/a /b]", params.Topics)
	}
	if params.Options != opts {
		t.Errorf("subscribe options = %+v, want %+v", params.Options, opts)
	}
	if got := len(c.Subscriptions()); got != 1 {
		t.Errorf("Subscriptions() len = %d, want 1", got)
	}

	if err := c.Unsubscribe(subuid); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	msgs = readControl(t, server)
	if msgs[0].Method != protocol.MethodUnsubscribe {
		t.Errorf("frame method = %q, want unsubscribe", msgs[0].Method)
	}
	if got := len(c.Subscriptions()); got != 0 {
		t.Errorf("Subscriptions() len = %d, want 0", got)
	}

	// Unknown subuid: logged no-op, nothing on the wire.
	if err := c.Unsubscribe(9999); err != nil {
		t.Errorf("Unsubscribe(unknown) error = %v, want nil", err)
	}
}

func announceFrame(t *testing.T, name string, id int32, dtype string, props map[string]any) []byte {
	t.Helper()
	msg, err := protocol.NewControlMessage(protocol.MethodAnnounce, protocol.AnnounceParams{
		Name: name, ID: id, Type: dtype, Properties: props,
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := protocol.EncodeControl(msg)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAnnounceRaceKeepsSecondEntry(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	announced := make(chan *Topic, 2)
	c.OnAnnounce(func(topic *Topic) { announced <- topic })

	server.SendText(announceFrame(t, "/dup", 5, "int", map[string]any{"v": 1.0}))
	server.SendText(announceFrame(t, "/dup", 8, "double", map[string]any{"v": 2.0}))

	for i := 0; i < 2; i++ {
		select {
		case <-announced:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for announce callbacks")
		}
	}

	topics := c.AnnouncedTopics()
	if len(topics) != 1 {
		t.Fatalf("AnnouncedTopics() len = %d, want 1", len(topics))
	}
	topic := topics[0]
	if topic.ID != 8 || topic.Type != protocol.TypeDouble {
		t.Errorf("surviving topic = id %d type %v, want id 8 type double", topic.ID, topic.Type)
	}
	if topic.Properties["v"] != 2.0 {
		t.Errorf("surviving properties = %v, want v=2", topic.Properties)
	}

	// The stale id no longer routes values.
	if _, ok := func() (*Topic, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.topics.lookupByRemoteID(5)
	}(); ok {
		t.Error("stale id 5 still routes, want evicted")
	}
}

func TestPropertiesMerge(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	server.SendText(announceFrame(t, "/cfg", 3, "int", map[string]any{"a": 1.0, "b": 2.0}))
	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "announce not applied")

	update, err := protocol.NewControlMessage(protocol.MethodProperties, map[string]any{
		"name":   "/cfg",
		"update": map[string]any{"a": nil, "c": 3.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := protocol.EncodeControl(update)
	if err != nil {
		t.Fatal(err)
	}
	server.SendText(frame)

	waitFor(t, func() bool {
		topics := c.AnnouncedTopics()
		if len(topics) != 1 {
			return false
		}
		props := topics[0].Properties
		_, hasA := props["a"]
		return !hasA && props["b"] == 2.0 && props["c"] == 3.0
	}, "properties update not merged to {b:2, c:3}")
}

func TestUnannounceRemovesTopic(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	removed := make(chan *Topic, 1)
	c.OnUnannounce(func(topic *Topic) { removed <- topic })

	server.SendText(announceFrame(t, "/gone", 4, "string", nil))
	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "announce not applied")

	msg, err := protocol.NewControlMessage(protocol.MethodUnannounce, protocol.UnannounceParams{Name: "/gone", ID: 4})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := protocol.EncodeControl(msg)
	if err != nil {
		t.Fatal(err)
	}
	server.SendText(frame)

	select {
	case topic := <-removed:
		if topic.Name != "/gone" {
			t.Errorf("unannounced topic = %q, want /gone", topic.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unannounce callback")
	}
	if got := len(c.AnnouncedTopics()); got != 0 {
		t.Errorf("AnnouncedTopics() len = %d, want 0", got)
	}
}

func TestValueDeliveryAndUnknownIDDrop(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	type delivery struct {
		name string
		ts   int64
		val  protocol.Value
	}
	values := make(chan delivery, 4)
	c.OnValue(func(topic *Topic, tsUs int64, v protocol.Value) {
		values <- delivery{name: topic.Name, ts: tsUs, val: v}
	})

	server.SendText(announceFrame(t, "/speed", 12, "double", nil))
	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "announce not applied")

	// A record for an id the registry does not know is dropped without
	// reaching the sink; the following known record still arrives.
	unknown, err := protocol.EncodeBinary(99, 500, protocol.DoubleValue(1.5))
	if err != nil {
		t.Fatal(err)
	}
	server.SendBinary(unknown)

	known, err := protocol.EncodeBinary(12, 1000, protocol.DoubleValue(4.25))
	if err != nil {
		t.Fatal(err)
	}
	server.SendBinary(known)

	select {
	case d := <-values:
		if d.name != "/speed" || d.ts != 1000 || !d.val.Equal(protocol.DoubleValue(4.25)) {
			t.Errorf("delivery = %+v, want /speed @1000 = 4.25", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value delivery")
	}
	select {
	case d := <-values:
		t.Errorf("unexpected extra delivery %+v, unknown id must be dropped", d)
	default:
	}
}

func TestClockSyncOverConnection(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMicro(1000))

	c, server := newTestClient(t, WithClock(mock))
	tSend := connect(t, c, server)
	if tSend != 1000 {
		t.Fatalf("initial sync t_send = %d, want 1000", tSend)
	}

	mock.Set(time.UnixMicro(1200))
	echo, err := protocol.EncodeBinary(protocol.ClockSyncTopicID, 5000, protocol.IntValue(tSend))
	if err != nil {
		t.Fatal(err)
	}
	server.SendBinary(echo)

	waitFor(t, func() bool {
		_, ok := c.ServerTimeUs()
		return ok
	}, "clock sync echo not applied")

	mock.Set(time.UnixMicro(2000))
	serverTime, ok := c.ServerTimeUs()
	if !ok || serverTime != 5900 {
		t.Errorf("ServerTimeUs() = %d, %v, want 5900, true", serverTime, ok)
	}
}

func TestPublishValueStampsServerTime(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMicro(1000))

	c, server := newTestClient(t, WithClock(mock))
	tSend := connect(t, c, server)

	if err := c.Publish("/out", protocol.TypeInt, nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	readControl(t, server) // drain the publish frame

	// Before the first sync completes, values carry timestamp zero.
	if err := c.PublishValue("/out", protocol.IntValue(7)); err != nil {
		t.Fatalf("PublishValue() error = %v", err)
	}
	_, data, err := server.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := protocol.DecodeBinary(data)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("decoding value frame: %v", err)
	}
	if msgs[0].TimestampUs != 0 {
		t.Errorf("pre-sync timestamp = %d, want 0", msgs[0].TimestampUs)
	}
	if msgs[0].ID != 1 {
		t.Errorf("value topic id = %d, want pubuid 1", msgs[0].ID)
	}

	mock.Set(time.UnixMicro(1200))
	echo, err := protocol.EncodeBinary(protocol.ClockSyncTopicID, 5000, protocol.IntValue(tSend))
	if err != nil {
		t.Fatal(err)
	}
	server.SendBinary(echo)
	waitFor(t, func() bool { _, ok := c.ServerTimeUs(); return ok }, "clock sync not applied")

	mock.Set(time.UnixMicro(2000))
	if err := c.PublishValue("/out", protocol.IntValue(8)); err != nil {
		t.Fatalf("PublishValue() error = %v", err)
	}
	_, data, err = server.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	msgs, err = protocol.DecodeBinary(data)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("decoding value frame: %v", err)
	}
	if msgs[0].TimestampUs != 5900 {
		t.Errorf("post-sync timestamp = %d, want 5900", msgs[0].TimestampUs)
	}
}

func TestPublishValueErrors(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	if err := c.PublishValue("/nope", protocol.IntValue(1)); !errors.Is(err, ErrNotPublished) {
		t.Errorf("PublishValue(unpublished) error = %v, want ErrNotPublished", err)
	}

	if err := c.Publish("/typed", protocol.TypeDouble, nil); err != nil {
		t.Fatal(err)
	}
	readControl(t, server)

	if err := c.PublishValue("/typed", protocol.StringValue("x")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("PublishValue(wrong type) error = %v, want ErrTypeMismatch", err)
	}
}

func TestDisconnectClearsAllState(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	closed := make(chan error, 1)
	c.OnClose(func(err error) { closed <- err })

	if err := c.Publish("/mine", protocol.TypeInt, nil); err != nil {
		t.Fatal(err)
	}
	readControl(t, server)
	if _, err := c.Subscribe([]string{"/"}, protocol.SubscriptionOptions{Prefix: true}); err != nil {
		t.Fatal(err)
	}
	readControl(t, server)
	server.SendText(announceFrame(t, "/theirs", 2, "string", nil))
	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "announce not applied")

	// Transport failure: the server end goes away.
	server.Close()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("OnClose error = nil for transport failure, want non-nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}

	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", got)
	}
	if got := len(c.AnnouncedTopics()); got != 0 {
		t.Errorf("AnnouncedTopics() len = %d after disconnect, want 0", got)
	}
	if got := len(c.Subscriptions()); got != 0 {
		t.Errorf("Subscriptions() len = %d after disconnect, want 0", got)
	}
	if err := c.Publish("/mine", protocol.TypeInt, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after disconnect error = %v, want ErrNotConnected", err)
	}
	if _, ok := c.ServerTimeUs(); ok {
		t.Error("ServerTimeUs() ok = true after disconnect, want false")
	}
}

func TestUnknownControlMethodIgnored(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	server.SendText([]byte(`[{"method":"setproperties2","params":{"x":1}}]`))
	server.SendText(announceFrame(t, "/after", 6, "int", nil))

	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "frame after unknown method not processed")
}

func TestConcurrentPublishes(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	// Drain the wire so writers never block on the transport buffer.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			if _, _, err := server.ReadMessage(); err != nil {
				return
			}
		}
	}()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "/concurrent/" + string(rune('a'+i))
			if err := c.Publish(name, protocol.TypeInt, nil); err != nil {
				t.Errorf("Publish(%s) error = %v", name, err)
			}
			if err := c.PublishValue(name, protocol.IntValue(int64(i))); err != nil {
				t.Errorf("PublishValue(%s) error = %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	c.Disconnect()
	<-drained
}

func TestHandedOutTopicsDetachedFromUpdates(t *testing.T) {
	c, server := newTestClient(t)
	connect(t, c, server)

	announced := make(chan *Topic, 1)
	c.OnAnnounce(func(topic *Topic) { announced <- topic })

	server.SendText(announceFrame(t, "/cfg", 3, "int", map[string]any{"a": 1.0}))

	var fromHook *Topic
	select {
	case fromHook = <-announced:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for announce callback")
	}
	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "announce not applied")
	beforeUpdate := c.AnnouncedTopics()[0]

	update, err := protocol.NewControlMessage(protocol.MethodProperties, map[string]any{
		"name":   "/cfg",
		"update": map[string]any{"a": nil, "b": 2.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := protocol.EncodeControl(update)
	if err != nil {
		t.Fatal(err)
	}
	server.SendText(frame)

	waitFor(t, func() bool {
		props := c.AnnouncedTopics()[0].Properties
		_, hasA := props["a"]
		return !hasA && props["b"] == 2.0
	}, "properties update not applied")

	// Topics handed out before the update keep the state they were handed
	// out with.
	for _, got := range []*Topic{fromHook, beforeUpdate} {
		if got.Properties["a"] != 1.0 {
			t.Errorf("earlier copy properties = %v, want a=1 preserved", got.Properties)
		}
		if _, hasB := got.Properties["b"]; hasB {
			t.Errorf("earlier copy properties = %v, later update leaked in", got.Properties)
		}
	}

	// And mutating a received copy does not reach the registry.
	fromHook.Properties["c"] = 9.0
	if _, hasC := c.AnnouncedTopics()[0].Properties["c"]; hasC {
		t.Error("mutation of a handed-out copy reached the registry")
	}
}

func TestClockSyncEchoNeverReachesValueSink(t *testing.T) {
	c, server := newTestClient(t)
	tSend := connect(t, c, server)

	values := make(chan string, 2)
	c.OnValue(func(topic *Topic, tsUs int64, v protocol.Value) { values <- topic.Name })

	echo, err := protocol.EncodeBinary(protocol.ClockSyncTopicID, 5000, protocol.IntValue(tSend))
	if err != nil {
		t.Fatal(err)
	}
	server.SendBinary(echo)
	waitFor(t, func() bool { _, ok := c.ServerTimeUs(); return ok }, "clock sync echo not applied")

	// A real value after the echo proves the read loop kept going; it must
	// be the only delivery the sink ever sees.
	server.SendText(announceFrame(t, "/real", 7, "int", nil))
	waitFor(t, func() bool { return len(c.AnnouncedTopics()) == 1 }, "announce not applied")
	known, err := protocol.EncodeBinary(7, 100, protocol.IntValue(1))
	if err != nil {
		t.Fatal(err)
	}
	server.SendBinary(known)

	select {
	case name := <-values:
		if name != "/real" {
			t.Fatalf("sink received %q, want /real", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value delivery")
	}
	select {
	case name := <-values:
		t.Errorf("sink received extra delivery for %q, reserved id must stay internal", name)
	default:
	}
}
