// Package push delivers real-time layout updates between viewers.
//
// Every layout has one room, named by [RoomName]. A client that persisted a
// change publishes a PANEL_UPDATE [Event] to the room, and every other
// viewer subscribed to it receives the event. Delivery is at-most-once:
// slow subscribers lose events instead of blocking publishers, and a
// viewer that misses an update catches up on its next fetch.
//
// Events carry the publishing client's id in Origin so a client can
// recognise its own broadcasts.
//
// Two implementations are provided: [Hub] for a single process and
// [RedisChannel] for Redis pub/sub across processes.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// EventPanelUpdate is the only event type the lifecycle acts on.
const EventPanelUpdate = "PANEL_UPDATE"

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Event is a push notification for one project.
type Event struct {
	Type      string        `json:"type"`
	ProjectID string        `json:"projectId"`
	Panels    []panel.Panel `json:"panels"`
	// Timestamp is when the publisher issued the change.
	Timestamp time.Time `json:"timestamp"`
	// Origin is the publishing client's id.
	Origin string `json:"origin,omitempty"`
	// Seq is the publisher's local sequence number of the change.
	Seq uint64 `json:"seq,omitempty"`
	// Revision is the store revision the change was accepted at.
	Revision int64 `json:"revision,omitempty"`

	// Invalid lists panel records that could not be decoded.
	Invalid []panel.Invalid `json:"-"`
}

// RoomName returns the room of projectID.
func RoomName(projectID string) string {
	return "layout:" + projectID
}

// Channel publishes and subscribes to layout rooms.
type Channel interface {
	// Publish sends ev to the room of ev.ProjectID.
	Publish(ctx context.Context, ev Event) error

	// Subscribe joins the room of projectID. The subscription ends when
	// ctx is cancelled or the subscription is closed.
	Subscribe(ctx context.Context, projectID string) (*Subscription, error)

	// Close ends every subscription and releases resources.
	Close() error
}

// Subscription is a membership in one room.
type Subscription struct {
	// C receives events. It is closed when the subscription ends.
	C <-chan Event

	once   sync.Once
	cancel func()
}

func newSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close leaves the room. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type wireEvent struct {
	Type      string           `json:"type"`
	ProjectID string           `json:"projectId"`
	Panels    []map[string]any `json:"panels"`
	Timestamp time.Time        `json:"timestamp"`
	Origin    string           `json:"origin,omitempty"`
	Seq       uint64           `json:"seq,omitempty"`
	Revision  int64            `json:"revision,omitempty"`
}

// Encode serializes ev for the wire.
func Encode(ev Event) ([]byte, error) {
	if ev.Panels == nil {
		ev.Panels = []panel.Panel{}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses a wire event. Panel records go through panel.Decode, so
// legacy field names are accepted and records without an id are reported
// in Event.Invalid rather than failing the event.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Event{}, errors.Wrap(errors.ErrCodeValidation, err, "decode event")
	}
	if w.Type == "" || w.ProjectID == "" {
		return Event{}, errors.New(errors.ErrCodeValidation, "event is missing type or project id")
	}
	panels, invalid := panel.DecodeAll(w.Panels)
	return Event{
		Type:      w.Type,
		ProjectID: w.ProjectID,
		Panels:    panels,
		Timestamp: w.Timestamp,
		Origin:    w.Origin,
		Seq:       w.Seq,
		Revision:  w.Revision,
		Invalid:   invalid,
	}, nil
}
