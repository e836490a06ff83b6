// Package history records inbound NT4 value updates per topic, ordered by
// server timestamp, for later queries and snapshot export.
package history

import (
	"sort"
	"sync"

	"github.com/nab138/nt4go/pkg/nt4"
	"github.com/nab138/nt4go/pkg/protocol"
)

// Sample is one recorded value update.
type Sample struct {
	TimestampUs int64
	Value       protocol.Value
}

// Store keeps per-topic sample histories. It is safe for concurrent use and
// can be fed directly from a client's read loop via Sink.
type Store struct {
	mu      sync.RWMutex
	limit   int
	samples map[string][]Sample
}

// Option configures a Store.
type Option func(*Store)

// WithLimit caps the number of samples retained per topic; the oldest are
// evicted first. Zero means unbounded.
func WithLimit(n int) Option {
	return func(s *Store) { s.limit = n }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{samples: make(map[string][]Sample)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sink adapts the store to the client's value handler signature:
//
//	c.OnValue(store.Sink())
func (s *Store) Sink() nt4.ValueHandler {
	return func(topic *nt4.Topic, timestampUs int64, value protocol.Value) {
		s.Record(topic.Name, timestampUs, value)
	}
}

// Record inserts one sample, keeping the topic's history sorted by timestamp.
// Out-of-order arrivals are placed at their timestamp position.
func (s *Store) Record(name string, timestampUs int64, value protocol.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.samples[name]
	i := sort.Search(len(history), func(i int) bool {
		return history[i].TimestampUs > timestampUs
	})
	history = append(history, Sample{})
	copy(history[i+1:], history[i:])
	history[i] = Sample{TimestampUs: timestampUs, Value: value}

	if s.limit > 0 && len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	s.samples[name] = history
}

// Latest returns the newest sample for a topic.
func (s *Store) Latest(name string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[name]
	if len(history) == 0 {
		return Sample{}, false
	}
	return history[len(history)-1], true
}

// AsOf returns the newest sample at or before the given timestamp.
func (s *Store) AsOf(name string, timestampUs int64) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[name]
	i := sort.Search(len(history), func(i int) bool {
		return history[i].TimestampUs > timestampUs
	})
	if i == 0 {
		return Sample{}, false
	}
	return history[i-1], true
}

// Samples returns a copy of a topic's full history in timestamp order.
func (s *Store) Samples(name string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[name]
	out := make([]Sample, len(history))
	copy(out, history)
	return out
}

// Topics returns the recorded topic names in sorted order.
func (s *Store) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.samples))
	for name := range s.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of samples recorded for a topic.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[name])
}

// Clear discards all recorded samples.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = make(map[string][]Sample)
}
