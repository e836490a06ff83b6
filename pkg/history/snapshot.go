package history

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Snapshot is a point-in-time JSON export of a store's contents.
type Snapshot struct {
	TakenAt time.Time       `json:"taken_at"`
	Topics  []TopicSnapshot `json:"topics"`
}

// TopicSnapshot holds one topic's recorded samples.
type TopicSnapshot struct {
	Name    string           `json:"name"`
	Samples []SampleSnapshot `json:"samples"`
}

// SampleSnapshot is one sample in wire-friendly form.
type SampleSnapshot struct {
	TimestampUs int64  `json:"timestamp_us"`
	Type        string `json:"type"`
	Value       any    `json:"value"`
}

// Snapshot captures the store's current contents. Topics are sorted by name
// so repeated snapshots of the same state are byte-identical.
func (s *Store) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{TakenAt: now.UTC(), Topics: []TopicSnapshot{}}
	for _, name := range s.Topics() {
		topic := TopicSnapshot{Name: name}
		for _, sample := range s.Samples(name) {
			topic.Samples = append(topic.Samples, SampleSnapshot{
				TimestampUs: sample.TimestampUs,
				Type:        sample.Value.Type.String(),
				Value:       sample.Value.Any(),
			})
		}
		snap.Topics = append(snap.Topics, topic)
	}
	return snap
}

// WriteSnapshot writes the store's contents as indented JSON.
func (s *Store) WriteSnapshot(w io.Writer, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Snapshot(now)); err != nil {
		return fmt.Errorf("history: encode snapshot: %w", err)
	}
	return nil
}
