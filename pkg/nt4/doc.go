// Package nt4 implements the client side of the NT4 publish/subscribe
// protocol: one persistent WebSocket connection carrying JSON control
// messages and MessagePack value updates for a hierarchical key-value table.
//
// # Lifecycle
//
// A Client moves Disconnected → Connecting → Open and back to Disconnected
// on transport failure or explicit Disconnect. Disconnection discards every
// locally published topic, every server-announced topic, and every
// subscription; the engine never queues operations across a disconnect and
// never retries a connection. The replay package layers that behavior on
// top of the core.
//
// # Usage
//
//	c := nt4.New("10.0.0.2", "dashboard")
//	c.OnValue(func(t *nt4.Topic, tsUs int64, v protocol.Value) {
//	    fmt.Println(t.Name, v.Any())
//	})
//	if err := c.Connect(ctx); err != nil {
//	    // handle
//	}
//	c.Subscribe([]string{"/"}, protocol.SubscriptionOptions{Prefix: true})
//
// # Clock synchronization
//
// Immediately after the connection opens, and every SyncInterval thereafter,
// the client exchanges timestamps with the server on reserved topic id -1.
// From one round trip it derives the one-way latency (rtt/2) and the offset
// between the server clock and its own; only the most recent sample is
// kept. ServerTimeUs translates the local clock into the server's, and
// outbound value publishes are stamped with server time (zero until the
// first exchange completes).
//
// # Errors
//
// Nothing the server sends can escalate to a process-level failure: decode
// failures skip the offending record, references to unknown names or ids
// are logged no-ops, and transport errors tear the connection down and
// surface through OnClose. Operations attempted while disconnected return
// ErrNotConnected instead of queuing.
package nt4
