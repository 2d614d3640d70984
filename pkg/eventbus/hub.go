package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Member is one live party that can belong to rooms. Deliver must not
// block: it is called while the hub holds its membership lock.
type Member interface {
	ID() string
	Deliver(msg Message)
}

// Hub is the room registry. Join, Leave and LeaveAll are linearizable
// with Publish: a publish delivers to exactly the members present when
// it took the lock.
type Hub struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	rooms   map[Room]map[string]Member
	members map[string]map[Room]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		rooms:   make(map[Room]map[string]Member),
		members: make(map[string]map[Room]struct{}),
	}
}

// Join adds member to room. Joining a room twice is a no-op; it
// reports whether the membership is new.
func (h *Hub) Join(member Member, room Room) bool {
	id := member.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	roomMembers, ok := h.rooms[room]
	if !ok {
		roomMembers = make(map[string]Member)
		h.rooms[room] = roomMembers
	}
	if _, exists := roomMembers[id]; exists {
		return false
	}
	roomMembers[id] = member

	joined, ok := h.members[id]
	if !ok {
		joined = make(map[Room]struct{})
		h.members[id] = joined
	}
	joined[room] = struct{}{}

	h.logger.Debug("member joined room",
		zap.String("member", id),
		zap.String("room", string(room)),
		zap.Int("members", len(roomMembers)))
	return true
}

func (h *Hub) Leave(memberID string, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(memberID, room)
}

// LeaveAll removes the member from every room it joined. Called on
// disconnect.
func (h *Hub) LeaveAll(memberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.members[memberID] {
		h.leaveLocked(memberID, room)
	}
	delete(h.members, memberID)
}

func (h *Hub) leaveLocked(memberID string, room Room) {
	if roomMembers, ok := h.rooms[room]; ok {
		delete(roomMembers, memberID)
		if len(roomMembers) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.members[memberID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.members, memberID)
		}
	}
}

// Publish delivers event to every current member of room. A room
// without members is a no-op. There is no backlog: later joiners never
// see it.
func (h *Hub) Publish(ctx context.Context, room Room, event Event, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newMessage(room, event, payload)
	if err != nil {
		return err
	}
	h.deliver(msg)
	return nil
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomMembers := h.rooms[msg.Room]
	for _, member := range roomMembers {
		member.Deliver(msg)
	}

	h.logger.Debug("event published",
		zap.String("room", string(msg.Room)),
		zap.String("event", string(msg.Event)),
		zap.Int("recipients", len(roomMembers)))
}

// Members returns the number of members currently in room.
func (h *Hub) Members(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the rooms memberID currently belongs to.
func (h *Hub) Rooms(memberID string) []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]Room, 0, len(h.members[memberID]))
	for room := range h.members[memberID] {
		rooms = append(rooms, room)
	}
	return rooms
}
