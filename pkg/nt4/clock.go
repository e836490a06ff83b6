package nt4

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/nab138/nt4go/pkg/protocol"
)

// clockSync estimates the offset between the server clock and the local
// clock from round-trip timestamp exchanges on reserved topic id -1.
//
// The client sends its current microsecond timestamp as the record's value;
// the server echoes that value back with its own clock in the timestamp
// field. Only one exchange is outstanding at a time, and an echo is matched
// against it by the echoed send timestamp, so a stale response can never be
// misattributed. Only the most recent successful sample is retained; there
// is deliberately no smoothing or outlier rejection, and downstream
// timestamp comparisons rely on that simplicity.
type clockSync struct {
	clk clock.Clock

	mu        sync.Mutex
	pending   int64 // t_send of the outstanding exchange, 0 when none
	hasOffset bool
	offsetUs  int64 // server time minus client time
	latencyUs int64 // estimated one-way network latency
}

func newClockSync(clk clock.Clock) *clockSync {
	return &clockSync{clk: clk}
}

func (s *clockSync) nowUs() int64 {
	return s.clk.Now().UnixMicro()
}

// beginExchange stamps a new request and makes it the outstanding exchange.
func (s *clockSync) beginExchange() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.nowUs()
	return s.pending
}

// completeExchange consumes a server echo. Returns false when the echo does
// not match the outstanding exchange (stale, duplicate, or malformed).
func (s *clockSync) completeExchange(msg protocol.BinaryMessage) bool {
	if msg.Value.Type != protocol.TypeInt {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 || msg.Value.Int != s.pending {
		return false
	}

	tRecv := s.nowUs()
	rtt := tRecv - s.pending
	s.latencyUs = rtt / 2
	s.offsetUs = msg.TimestampUs + s.latencyUs - tRecv
	s.hasOffset = true
	s.pending = 0
	return true
}

// ServerTimeUs returns the current time on the server's clock, false before
// the first exchange has completed.
func (s *clockSync) ServerTimeUs() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasOffset {
		return 0, false
	}
	return s.nowUs() + s.offsetUs, true
}

// serverTimeOrZero stamps outbound values: zero until the first exchange
// succeeds, which receivers must tolerate.
func (s *clockSync) serverTimeOrZero() int64 {
	ts, ok := s.ServerTimeUs()
	if !ok {
		return 0
	}
	return ts
}

// OffsetUs returns the last computed offset, false before the first
// successful exchange.
func (s *clockSync) OffsetUs() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetUs, s.hasOffset
}

// LatencyUs returns the last estimated one-way latency.
func (s *clockSync) LatencyUs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencyUs
}

func (s *clockSync) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = 0
	s.hasOffset = false
	s.offsetUs = 0
	s.latencyUs = 0
}
