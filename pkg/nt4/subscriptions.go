package nt4

import (
	"log/slog"
	"slices"

	"github.com/nab138/nt4go/pkg/protocol"
)

// Subscription is a standing request for topics matching a set of name
// patterns. Pattern interpretation (prefix vs exact) is the server's job;
// the client only records what it asked for.
type Subscription struct {
	ID      int32
	Topics  []string
	Options protocol.SubscriptionOptions
}

// subscriptionRegistry tracks active subscriptions by subuid. Like the topic
// registry it is guarded by the owning Client.
type subscriptionRegistry struct {
	logger *slog.Logger
	subs   map[int32]*Subscription
}

func newSubscriptionRegistry(logger *slog.Logger) *subscriptionRegistry {
	return &subscriptionRegistry{
		logger: logger,
		subs:   make(map[int32]*Subscription),
	}
}

func (r *subscriptionRegistry) add(id int32, patterns []string, opts protocol.SubscriptionOptions) *Subscription {
	sub := &Subscription{
		ID:      id,
		Topics:  slices.Clone(patterns),
		Options: opts,
	}
	r.subs[id] = sub
	return sub
}

func (r *subscriptionRegistry) remove(id int32) (*Subscription, bool) {
	sub, ok := r.subs[id]
	if !ok {
		r.logger.Warn("unsubscribe for unknown subscription", "subuid", id)
		return nil, false
	}
	delete(r.subs, id)
	return sub, true
}

func (r *subscriptionRegistry) clear() {
	clear(r.subs)
}

func (r *subscriptionRegistry) snapshot() []Subscription {
	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, *sub)
	}
	return out
}
