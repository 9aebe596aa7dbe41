package push

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// Hub is an in-process [Channel].
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*hubMember]struct{}
	buffer  int
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

type hubMember struct {
	ch   chan Event
	done bool
}

// NewHub creates a hub whose subscribers queue up to buffer events
// (DefaultBuffer when buffer is not positive).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[*hubMember]struct{}),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

// Publish implements [Channel]. It never blocks. Events for a full
// subscriber queue are dropped and counted.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.ProjectID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "event has no project id")
	}
	room := RoomName(ev.ProjectID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New(errors.ErrCodeTransport, "push hub is closed")
	}
	for m := range h.rooms[room] {
		// Every subscriber gets its own copy of the panel list.
		out := ev
		out.Panels = panel.CloneAll(ev.Panels)
		select {
		case m.ch <- out:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe implements [Channel].
func (h *Hub) Subscribe(ctx context.Context, projectID string) (*Subscription, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	room := RoomName(projectID)
	m := &hubMember{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errors.New(errors.ErrCodeTransport, "push hub is closed")
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*hubMember]struct{})
	}
	h.rooms[room][m] = struct{}{}
	h.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	leave := func() {
		once.Do(func() {
			close(stop)
			h.remove(room, m)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			leave()
		case <-stop:
		case <-h.done:
		}
	}()
	return newSubscription(m.ch, leave), nil
}

// Members returns the number of subscribers in the room of projectID.
func (h *Hub) Members(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[RoomName(projectID)])
}

// Dropped returns the number of events lost to full subscriber queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close implements [Channel].
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	for room, members := range h.rooms {
		for m := range members {
			m.done = true
			close(m.ch)
		}
		delete(h.rooms, room)
	}
	return nil
}

func (h *Hub) remove(room string, m *hubMember) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.done {
		return
	}
	m.done = true
	delete(h.rooms[room], m)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	close(m.ch)
}
