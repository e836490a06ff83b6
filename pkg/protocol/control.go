package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control message methods. The server may introduce methods beyond this set;
// unknown methods are ignored by the engine, not treated as errors.
const (
	MethodPublish     = "publish"
	MethodUnpublish   = "unpublish"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
	MethodAnnounce    = "announce"
	MethodUnannounce  = "unannounce"
	MethodProperties  = "properties"
)

// Control encoding errors.
var (
	ErrNotArray = errors.New("protocol: control frame is not a JSON array")
)

// ControlMessage is one {method, params} record of a control frame.
// Params stays raw until the dispatcher knows which shape to decode.
type ControlMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// PublishParams announces this client's intent to write a topic.
type PublishParams struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	PubUID     int32          `json:"pubuid"`
	Properties map[string]any `json:"properties"`
}

// UnpublishParams retracts a previous publish.
type UnpublishParams struct {
	PubUID int32 `json:"pubuid"`
}

// SubscriptionOptions control how the server delivers matching topics.
type SubscriptionOptions struct {
	// Periodic is the requested update period in seconds.
	Periodic float64 `json:"periodic"`
	// All requests every value change rather than only the latest.
	All bool `json:"all"`
	// TopicsOnly requests announcements without value updates.
	TopicsOnly bool `json:"topicsonly"`
	// Prefix treats the patterns as name prefixes rather than exact names.
	Prefix bool `json:"prefix"`
}

// SubscribeParams requests delivery of topics matching the given patterns.
type SubscribeParams struct {
	Topics  []string            `json:"topics"`
	SubUID  int32               `json:"subuid"`
	Options SubscriptionOptions `json:"options"`
}

// UnsubscribeParams retracts a previous subscribe.
type UnsubscribeParams struct {
	SubUID int32 `json:"subuid"`
}

// AnnounceParams is the server's notification that a topic exists.
// PubUID is present only when the announce answers this client's own publish.
type AnnounceParams struct {
	Name       string         `json:"name"`
	ID         int32          `json:"id"`
	Type       string         `json:"type"`
	PubUID     *int32         `json:"pubuid,omitempty"`
	Properties map[string]any `json:"properties"`
}

// UnannounceParams is the server's notification that a topic no longer exists.
type UnannounceParams struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

// PropertiesParams carries a property merge for a topic: keys with a non-null
// value are set, keys with a null value are removed.
type PropertiesParams struct {
	Name   string         `json:"name"`
	Ack    bool           `json:"ack,omitempty"`
	Update map[string]any `json:"update"`
}

// NewControlMessage builds a ControlMessage from typed params.
func NewControlMessage(method string, params any) (ControlMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return ControlMessage{}, fmt.Errorf("protocol: encode %s params: %w", method, err)
	}
	return ControlMessage{Method: method, Params: raw}, nil
}

// EncodeControl serializes a single control record as a one-element JSON
// array, the framing the protocol uses for client-originated text frames.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	data, err := json.Marshal([]ControlMessage{msg})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode control frame: %w", err)
	}
	return data, nil
}

// DecodeControl parses a text frame into its control records. A frame may
// batch any number of records; a record that fails to decode is skipped and
// reported through the joined error while the rest of the batch is still
// returned.
func DecodeControl(data []byte) ([]ControlMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArray, err)
	}

	msgs := make([]ControlMessage, 0, len(elems))
	var errs []error
	for i, elem := range elems {
		var msg ControlMessage
		if err := json.Unmarshal(elem, &msg); err != nil {
			errs = append(errs, fmt.Errorf("protocol: control record %d: %w", i, err))
			continue
		}
		if msg.Method == "" {
			errs = append(errs, fmt.Errorf("protocol: control record %d: missing method", i))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errors.Join(errs...)
}

// DecodeParams decodes a message's params into the given typed shape.
func DecodeParams[T any](msg ControlMessage) (T, error) {
	var params T
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return params, fmt.Errorf("protocol: decode %s params: %w", msg.Method, err)
	}
	return params, nil
}
