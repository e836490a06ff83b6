package nt4

import "errors"

// Sentinel errors for client operations.
var (
	// ErrNotConnected is returned by publish/subscribe operations attempted
	// while the connection is not open. Nothing is queued; callers that want
	// intent to survive a reconnect should use the replay package.
	ErrNotConnected = errors.New("nt4: not connected")

	// ErrConnecting is returned by Connect while another Connect is already
	// dialing.
	ErrConnecting = errors.New("nt4: connect already in progress")

	// ErrNotPublished is returned by PublishValue for a topic name this
	// client has not published.
	ErrNotPublished = errors.New("nt4: topic not published")

	// ErrTypeMismatch is returned by PublishValue when the value's type code
	// differs from the topic's declared type.
	ErrTypeMismatch = errors.New("nt4: value type does not match topic type")
)
