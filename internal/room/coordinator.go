package room

import (
	"encoding/json"
	"sort"
	gosync "sync"
	"time"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/observability"
	"backend-teamrun/internal/stream"

	"github.com/google/uuid"
)

type State string

const (
	StateOpen     State = "open"
	StateAllReady State = "allready"
	StateStarted  State = "started"
	StateClosed   State = "closed"
)

// Snapshot is a read-only view of a room, safe to hand out concurrently.
type Snapshot struct {
	ID      string   `json:"id"`
	State   State    `json:"state"`
	Members []string `json:"members"`
	Ready   []string `json:"ready"`
	Start   *int64   `json:"start,omitempty"`
}

// Event is what members receive over the stream hub when a room changes.
type Event struct {
	Type string   `json:"type"`
	User string   `json:"user,omitempty"`
	Room Snapshot `json:"room"`
}

type Notifier interface {
	Notify(key string)
}

// Coordinator owns every live room. Each room is a little state machine,
// Open -> AllReady -> Started -> Closed, with all mutations serialized by
// a per-room lock so ready stays a subset of members and the start
// timestamp is fixed exactly once under any interleaving. Once fixed, the
// start never changes; everything after Started fails with a conflict.
type Coordinator struct {
	capacity  int
	countdown time.Duration
	hub       *stream.Hub
	notifier  Notifier
	now       func() time.Time

	mu    gosync.RWMutex
	rooms map[string]*state
}

type state struct {
	mu      gosync.RWMutex
	id      string
	phase   State
	members map[string]struct{}
	ready   map[string]struct{}
	start   *int64
}

func NewCoordinator(capacity int, countdown time.Duration, hub *stream.Hub, notifier Notifier) *Coordinator {
	if capacity <= 0 {
		capacity = 8
	}
	return &Coordinator{
		capacity:  capacity,
		countdown: countdown,
		hub:       hub,
		notifier:  notifier,
		now:       time.Now,
		rooms:     map[string]*state{},
	}
}

// Create opens a room with the creator as its first member.
func (c *Coordinator) Create(userID string) Snapshot {
	room := &state{
		id:      uuid.NewString(),
		phase:   StateOpen,
		members: map[string]struct{}{userID: {}},
		ready:   map[string]struct{}{},
	}

	c.mu.Lock()
	c.rooms[room.id] = room
	c.mu.Unlock()

	observability.RoomTransitionsTotal.WithLabelValues(string(StateOpen)).Inc()
	snap := room.snapshot()
	c.broadcast("create", userID, snap)
	return snap
}

func (c *Coordinator) Join(roomID, userID string) (Snapshot, error) {
	room, err := c.get(roomID)
	if err != nil {
		return Snapshot{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.phase == StateStarted || room.phase == StateClosed {
		return Snapshot{}, apperr.Conflictf("room %s already started", roomID)
	}
	if _, ok := room.members[userID]; !ok && len(room.members) >= c.capacity {
		return Snapshot{}, apperr.Conflictf("room %s full", roomID)
	}
	room.members[userID] = struct{}{}
	// a join breaks all-ready by definition
	if room.phase == StateAllReady {
		room.phase = StateOpen
	}

	snap := room.snapshot()
	c.broadcast("join", userID, snap)
	return snap, nil
}

// Ready marks the member ready. Calling it twice is a no-op, not a double
// count. When the ready set reaches the member set the room passes through
// AllReady and the start timestamp is fixed at the all-ready moment plus
// the configured countdown; fixing it is the Started transition.
func (c *Coordinator) Ready(roomID, userID string) (Snapshot, error) {
	room, err := c.get(roomID)
	if err != nil {
		return Snapshot{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.phase == StateStarted || room.phase == StateClosed {
		return Snapshot{}, apperr.Conflictf("room %s already started", roomID)
	}
	if _, ok := room.members[userID]; !ok {
		return Snapshot{}, apperr.Conflictf("user %s not in room %s", userID, roomID)
	}
	room.ready[userID] = struct{}{}

	if len(room.ready) == len(room.members) {
		room.phase = StateAllReady
		observability.RoomTransitionsTotal.WithLabelValues(string(StateAllReady)).Inc()
		c.broadcast("allready", userID, room.snapshot())

		startAt := c.now().Add(c.countdown).UnixMilli()
		room.start = &startAt
		room.phase = StateStarted
		observability.RoomTransitionsTotal.WithLabelValues(string(StateStarted)).Inc()

		snap := room.snapshot()
		c.broadcast("started", userID, snap)
		if c.notifier != nil {
			c.notifier.Notify("room:" + roomID)
		}
		return snap, nil
	}

	snap := room.snapshot()
	c.broadcast("ready", userID, snap)
	return snap, nil
}

// Leave removes the member. Leaving an all-ready room before its start is
// fixed reverts it to Open; an empty room is destroyed.
func (c *Coordinator) Leave(roomID, userID string) (Snapshot, error) {
	room, err := c.get(roomID)
	if err != nil {
		return Snapshot{}, err
	}

	room.mu.Lock()
	if room.phase == StateStarted || room.phase == StateClosed {
		room.mu.Unlock()
		return Snapshot{}, apperr.Conflictf("room %s already started", roomID)
	}
	delete(room.members, userID)
	delete(room.ready, userID)
	if room.phase == StateAllReady && room.start == nil {
		room.phase = StateOpen
	}
	empty := len(room.members) == 0
	snap := room.snapshot()
	room.mu.Unlock()

	if empty {
		c.destroy(roomID)
	} else {
		c.broadcast("leave", userID, snap)
	}
	return snap, nil
}

// Status returns the current snapshot; readers never block writers longer
// than the copy takes.
func (c *Coordinator) Status(roomID string) (Snapshot, error) {
	room, err := c.get(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.snapshot(), nil
}

// Close terminates the room regardless of state and destroys it.
func (c *Coordinator) Close(roomID string) error {
	room, err := c.get(roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	room.phase = StateClosed
	snap := room.snapshot()
	room.mu.Unlock()

	observability.RoomTransitionsTotal.WithLabelValues(string(StateClosed)).Inc()
	c.broadcast("closed", "", snap)
	c.destroy(roomID)
	return nil
}

func (c *Coordinator) get(roomID string) (*state, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, apperr.NotFoundf("room %s", roomID)
	}
	return room, nil
}

func (c *Coordinator) destroy(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *Coordinator) broadcast(eventType, userID string, snap Snapshot) {
	if c.hub == nil {
		return
	}
	payload, _ := json.Marshal(Event{Type: eventType, User: userID, Room: snap})
	c.hub.Broadcast(stream.RoomTopic(snap.ID), payload)
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		ID:      s.id,
		State:   s.phase,
		Members: make([]string, 0, len(s.members)),
		Ready:   make([]string, 0, len(s.ready)),
	}
	for m := range s.members {
		snap.Members = append(snap.Members, m)
	}
	for r := range s.ready {
		snap.Ready = append(snap.Ready, r)
	}
	sort.Strings(snap.Members)
	sort.Strings(snap.Ready)
	if s.start != nil {
		start := *s.start
		snap.Start = &start
	}
	return snap
}
