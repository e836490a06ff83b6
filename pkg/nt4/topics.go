package nt4

import (
	"log/slog"
	"maps"

	"github.com/nab138/nt4go/pkg/protocol"
)

// Topic is a named, typed key in the shared table.
//
// For locally published topics PubUID is the identifier this client chose;
// ID is filled in once the server's announce arrives. For server-announced
// topics ID is the server-assigned identifier used to route binary value
// records. Identifiers are only stable for the lifetime of one
// announce/unannounce cycle and must not be assumed unique across
// publishers and subscribers.
//
// Handlers and snapshot accessors receive detached copies: a later
// properties update never mutates a Topic already handed out, and mutating
// a received Topic has no effect on the registry.
type Topic struct {
	Name       string
	Type       protocol.DataType
	ID         int32
	PubUID     int32
	Properties map[string]any
}

// snapshot returns a copy detached from future registry mutation, with its
// own Properties map.
func (t *Topic) snapshot() *Topic {
	c := *t
	c.Properties = maps.Clone(t.Properties)
	return &c
}

// topicRegistry tracks the two topic populations a client knows about:
// topics it published itself (keyed by name) and topics the server announced
// (keyed by name, indexed by server id). It is not self-locking; the owning
// Client serializes access.
type topicRegistry struct {
	logger *slog.Logger
	local  map[string]*Topic
	remote map[string]*Topic
	byID   map[int32]*Topic
}

func newTopicRegistry(logger *slog.Logger) *topicRegistry {
	return &topicRegistry{
		logger: logger,
		local:  make(map[string]*Topic),
		remote: make(map[string]*Topic),
		byID:   make(map[int32]*Topic),
	}
}

// registerLocal records a locally published topic. Publishing a name twice
// is idempotent: the existing entry wins, keeping the first call's type and
// properties.
func (r *topicRegistry) registerLocal(name string, dtype protocol.DataType, pubuid int32, properties map[string]any) (*Topic, bool) {
	if t, ok := r.local[name]; ok {
		return t, false
	}
	t := &Topic{
		Name:       name,
		Type:       dtype,
		PubUID:     pubuid,
		Properties: properties,
	}
	r.local[name] = t
	return t, true
}

func (r *topicRegistry) localByName(name string) (*Topic, bool) {
	t, ok := r.local[name]
	return t, ok
}

func (r *topicRegistry) unregisterLocal(name string) (*Topic, bool) {
	t, ok := r.local[name]
	if !ok {
		r.logger.Warn("unpublish for unknown local topic", "name", name)
		return nil, false
	}
	delete(r.local, name)
	return t, true
}

// onAnnounce inserts a server-announced topic. An announce for a name that
// is already known means the server's view superseded a stale client view,
// so the old entry is evicted before the new one is inserted.
func (r *topicRegistry) onAnnounce(params protocol.AnnounceParams) *Topic {
	if stale, ok := r.remote[params.Name]; ok {
		delete(r.byID, stale.ID)
		delete(r.remote, params.Name)
		r.logger.Debug("announce replaced stale topic",
			"name", params.Name, "stale_id", stale.ID, "id", params.ID)
	}

	props := params.Properties
	if props == nil {
		props = make(map[string]any)
	}
	t := &Topic{
		Name:       params.Name,
		Type:       protocol.DataTypeFromString(params.Type),
		ID:         params.ID,
		Properties: props,
	}
	if params.PubUID != nil {
		t.PubUID = *params.PubUID
	}
	r.remote[params.Name] = t
	r.byID[params.ID] = t

	// An announce answering our own publish carries the server id for the
	// local entry too.
	if local, ok := r.local[params.Name]; ok {
		local.ID = params.ID
	}
	return t
}

func (r *topicRegistry) onUnannounce(name string) (*Topic, bool) {
	t, ok := r.remote[name]
	if !ok {
		r.logger.Warn("unannounce for unknown topic", "name", name)
		return nil, false
	}
	delete(r.remote, name)
	delete(r.byID, t.ID)
	return t, true
}

// onPropertiesUpdate merges a property update into the named topic: keys
// with a non-null value are set, keys with a null value are removed.
func (r *topicRegistry) onPropertiesUpdate(name string, update map[string]any) bool {
	t, ok := r.remote[name]
	if !ok {
		if t, ok = r.local[name]; !ok {
			r.logger.Warn("properties update for unknown topic", "name", name)
			return false
		}
	}
	for k, v := range update {
		if v == nil {
			delete(t.Properties, k)
		} else {
			t.Properties[k] = v
		}
	}
	return true
}

// lookupByRemoteID routes an inbound binary record to its announced topic.
func (r *topicRegistry) lookupByRemoteID(id int32) (*Topic, bool) {
	t, ok := r.byID[id]
	return t, ok
}

func (r *topicRegistry) clear() {
	clear(r.local)
	clear(r.remote)
	clear(r.byID)
}

func (r *topicRegistry) remoteCount() int { return len(r.remote) }

func (r *topicRegistry) remoteSnapshot() []*Topic {
	out := make([]*Topic, 0, len(r.remote))
	for _, t := range r.remote {
		out = append(out, t.snapshot())
	}
	return out
}
