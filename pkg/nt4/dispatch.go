package nt4

import (
	"fmt"
	"slices"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nab138/nt4go/pkg/protocol"
)

// readLoop delivers inbound frames one at a time, in arrival order, and
// processes each to completion before reading the next. It exits when the
// transport fails or is closed, tearing the client down.
func (c *Client) readLoop(conn Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			// teardown is a no-op when an explicit Disconnect already ran.
			c.teardown(fmt.Errorf("nt4: read: %w", err))
			return
		}

		// Frames are classified by the transport message type, never by
		// content sniffing.
		switch mt {
		case websocket.TextMessage:
			c.handleControlFrame(data)
		case websocket.BinaryMessage:
			c.handleBinaryFrame(data)
		default:
			c.logger.Debug("ignoring frame with unexpected message type", "type", mt)
		}
	}
}

// syncLoop triggers a clock-sync exchange every SyncInterval while the
// connection that owns done is open.
func (c *Client) syncLoop(done <-chan struct{}) {
	ticker := c.cfg.Clock.Ticker(c.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sendClockSync(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// sendClockSync sends one timestamp exchange request on reserved topic id
// -1, making it the single outstanding exchange.
func (c *Client) sendClockSync() error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	tSend := c.clock.beginExchange()
	data, err := protocol.EncodeBinary(protocol.ClockSyncTopicID, 0, protocol.IntValue(tSend))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	werr := c.conn.WriteMessage(websocket.BinaryMessage, data)
	c.mu.Unlock()

	if werr != nil {
		werr = fmt.Errorf("nt4: send clock sync: %w", werr)
		c.teardown(werr)
		return werr
	}
	c.metrics.recordFrameSent(frameKindClockSync)
	return nil
}

func (c *Client) handleControlFrame(data []byte) {
	c.metrics.recordFrameReceived(frameKindControl)

	msgs, err := protocol.DecodeControl(data)
	if err != nil {
		// Bad records are skipped; the surviving remainder of the batch is
		// still dispatched.
		c.logger.Warn("control frame decode", "error", err)
		c.metrics.recordDecodeError(frameKindControl)
	}
	for _, msg := range msgs {
		c.dispatchControl(msg)
	}
}

func (c *Client) dispatchControl(msg protocol.ControlMessage) {
	end := c.startSpan("nt4.control."+msg.Method, attribute.String("nt4.method", msg.Method))

	switch msg.Method {
	case protocol.MethodAnnounce:
		params, err := protocol.DecodeParams[protocol.AnnounceParams](msg)
		if err != nil {
			c.logger.Warn("announce decode", "error", err)
			c.metrics.recordDecodeError(frameKindControl)
			end(err)
			return
		}
		c.mu.Lock()
		topic := c.topics.onAnnounce(params).snapshot()
		count := c.topics.remoteCount()
		fns := slices.Clone(c.onAnnounce)
		c.mu.Unlock()

		c.metrics.setAnnouncedTopics(count)
		c.logger.Debug("announced", "name", topic.Name, "id", topic.ID, "type", topic.Type.String())
		for _, fn := range fns {
			fn(topic)
		}

	case protocol.MethodUnannounce:
		params, err := protocol.DecodeParams[protocol.UnannounceParams](msg)
		if err != nil {
			c.logger.Warn("unannounce decode", "error", err)
			c.metrics.recordDecodeError(frameKindControl)
			end(err)
			return
		}
		c.mu.Lock()
		topic, ok := c.topics.onUnannounce(params.Name)
		if ok {
			topic = topic.snapshot()
		}
		count := c.topics.remoteCount()
		fns := slices.Clone(c.onUnannounce)
		c.mu.Unlock()

		if !ok {
			end(nil)
			return
		}
		c.metrics.setAnnouncedTopics(count)
		c.logger.Debug("unannounced", "name", topic.Name, "id", topic.ID)
		for _, fn := range fns {
			fn(topic)
		}

	case protocol.MethodProperties:
		params, err := protocol.DecodeParams[protocol.PropertiesParams](msg)
		if err != nil {
			c.logger.Warn("properties decode", "error", err)
			c.metrics.recordDecodeError(frameKindControl)
			end(err)
			return
		}
		c.mu.Lock()
		c.topics.onPropertiesUpdate(params.Name, params.Update)
		c.mu.Unlock()

	default:
		// Unknown methods are a protocol extension point, not an error.
		c.logger.Debug("ignoring control method", "method", msg.Method)
	}
	end(nil)
}

func (c *Client) handleBinaryFrame(data []byte) {
	c.metrics.recordFrameReceived(frameKindValue)

	msgs, err := protocol.DecodeBinary(data)
	if err != nil {
		c.logger.Warn("binary frame decode", "error", err)
		c.metrics.recordDecodeError(frameKindValue)
	}

	for _, msg := range msgs {
		// Reserved id -1 is clock sync in both directions and is never
		// delivered to the value sink.
		if msg.ID == protocol.ClockSyncTopicID {
			if c.clock.completeExchange(msg) {
				offset, _ := c.clock.OffsetUs()
				latency := c.clock.LatencyUs()
				c.metrics.setClockEstimate(offset, latency)
				c.logger.Debug("clock sync", "offset_us", offset, "latency_us", latency)
			} else {
				c.logger.Debug("discarding unmatched clock sync echo")
			}
			continue
		}

		c.mu.Lock()
		topic, ok := c.topics.lookupByRemoteID(msg.ID)
		if ok {
			topic = topic.snapshot()
		}
		fns := slices.Clone(c.onValue)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("dropping value for unknown topic id", "id", msg.ID)
			c.metrics.recordValueDropped()
			continue
		}
		c.metrics.recordValueReceived()
		for _, fn := range fns {
			fn(topic, msg.TimestampUs, msg.Value)
		}
	}
}
