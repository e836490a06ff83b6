package nt4

import "sync/atomic"

// IDSource generates the client-chosen numeric identifiers used on the wire.
// The default is a monotonic counter; tests may inject a fixed sequence to
// make identifier-dependent behavior deterministic.
type IDSource interface {
	// NextPubUID returns a fresh publisher identifier.
	NextPubUID() int32

	// NextSubUID returns a fresh subscription identifier.
	NextSubUID() int32
}

type counterIDSource struct {
	pub atomic.Int32
	sub atomic.Int32
}

// NewCounterIDSource returns an IDSource backed by atomic counters starting
// at 1.
func NewCounterIDSource() IDSource {
	return &counterIDSource{}
}

func (s *counterIDSource) NextPubUID() int32 { return s.pub.Add(1) }

func (s *counterIDSource) NextSubUID() int32 { return s.sub.Add(1) }
