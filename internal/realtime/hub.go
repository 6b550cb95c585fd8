package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// Hub owns the connection registry, room tracker, presence broadcaster and
// fan-out engine for one process.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	presence *Presence
	fanout   *Fanout
	log      *zap.SugaredLogger

	// mu serializes admission, eviction and subscription changes so that a
	// presence transition and its announcement are observed atomically and a
	// connection cannot be subscribed after it was evicted.
	mu sync.Mutex
}

// NewHub builds an empty hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	registry := NewRegistry()
	rooms := NewRooms()
	return &Hub{
		registry: registry,
		rooms:    rooms,
		presence: NewPresence(registry, log),
		fanout:   NewFanout(registry, rooms, log),
		log:      log,
	}
}

// Registry exposes the connection registry for read-only queries.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms exposes the room tracker for read-only queries.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// Admit registers an authenticated connection. The identity is announced
// online when this is its first connection.
func (h *Hub) Admit(identity domain.Identity, sink Sink) ConnID {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, first := h.registry.Register(identity, sink)
	h.log.Infof("Client %s registered for %s. Total clients: %d", id, identity.Name, h.registry.Len())
	if first {
		h.presence.AnnounceOnline(identity)
	}
	return id
}

// Evict drops the connection's subscription and registration. The identity
// is announced offline when its last connection goes. Repeated or unknown
// ids are ignored.
func (h *Hub) Evict(id ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms.Leave(id)
	identity, last, ok := h.registry.Unregister(id)
	if !ok {
		return
	}
	h.log.Infof("Client %s unregistered for %s. Total clients: %d", id, identity.Name, h.registry.Len())
	if last {
		h.presence.AnnounceOffline(identity)
	}
}

// Join subscribes a live connection to roomID, leaving any previous room.
// It returns false when the connection is not registered.
func (h *Hub) Join(id ConnID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, _, ok := h.registry.Lookup(id); !ok {
		return false
	}
	if previous := h.rooms.Join(id, roomID); previous != "" && previous != roomID {
		h.log.Debugf("Client %s moved from room %s to %s", id, previous, roomID)
	} else {
		h.log.Debugf("Client %s joined room %s", id, roomID)
	}
	return true
}

// Leave clears the connection's subscription. Returns false when there was
// nothing to clear.
func (h *Hub) Leave(id ConnID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.rooms.Leave(id)
	return ok
}

// UnsubscribeIdentity clears the subscriptions to roomID held by any
// connection of identityID and returns how many were cleared. Connections
// observing other rooms are untouched.
func (h *Hub) UnsubscribeIdentity(identityID, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cleared := 0
	for _, id := range h.registry.ConnectionsFor(identityID) {
		if current, ok := h.rooms.RoomOf(id); ok && current == roomID {
			h.rooms.Leave(id)
			cleared++
		}
	}
	if cleared > 0 {
		h.log.Debugf("Cleared %d subscriptions of %s to room %s", cleared, identityID, roomID)
	}
	return cleared
}

// CloseRoom clears every subscription to roomID and returns how many were
// cleared.
func (h *Hub) CloseRoom(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers := h.rooms.SubscribersOf(roomID)
	for _, id := range subscribers {
		h.rooms.Leave(id)
	}
	if len(subscribers) > 0 {
		h.log.Debugf("Closed room %s with %d subscribers", roomID, len(subscribers))
	}
	return len(subscribers)
}

// Deliver fans a persisted message out to its room. See Fanout.Deliver.
func (h *Hub) Deliver(msg domain.Message, participants []domain.Identity) Report {
	return h.fanout.Deliver(msg, participants)
}

// Broadcast sends an event to the subscribers of roomID.
func (h *Hub) Broadcast(roomID string, typ EventType, data any) int {
	return h.fanout.Broadcast(roomID, typ, data)
}

// IsOnline reports whether identityID has a live connection.
func (h *Hub) IsOnline(identityID string) bool {
	return h.registry.IsOnline(identityID)
}

// Online returns the current presence records.
func (h *Hub) Online() []PresenceRecord {
	return h.registry.Online()
}
