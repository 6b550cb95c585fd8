package realtime

import "sync"

// Rooms records which single room each connection currently observes.
// Joining a room replaces the previous subscription, so a connection never
// appears under two rooms.
type Rooms struct {
	mu     sync.RWMutex
	byConn map[ConnID]string
	byRoom map[string]map[ConnID]struct{}
}

// NewRooms returns an empty tracker.
func NewRooms() *Rooms {
	return &Rooms{
		byConn: make(map[ConnID]string),
		byRoom: make(map[string]map[ConnID]struct{}),
	}
}

// Join subscribes conn to roomID and returns the room it was previously
// subscribed to, if any.
func (t *Rooms) Join(conn ConnID, roomID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.removeLocked(conn)
	t.byConn[conn] = roomID
	set, ok := t.byRoom[roomID]
	if !ok {
		set = make(map[ConnID]struct{})
		t.byRoom[roomID] = set
	}
	set[conn] = struct{}{}
	return previous
}

// Leave clears the subscription of conn. It is a no-op when conn has none.
func (t *Rooms) Leave(conn ConnID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.removeLocked(conn)
	return previous, previous != ""
}

func (t *Rooms) removeLocked(conn ConnID) string {
	roomID, ok := t.byConn[conn]
	if !ok {
		return ""
	}
	delete(t.byConn, conn)
	if set := t.byRoom[roomID]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(t.byRoom, roomID)
		}
	}
	return roomID
}

// SubscribersOf returns the connections currently observing roomID.
func (t *Rooms) SubscribersOf(roomID string) []ConnID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.byRoom[roomID]
	out := make([]ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RoomOf returns the room conn is subscribed to.
func (t *Rooms) RoomOf(conn ConnID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roomID, ok := t.byConn[conn]
	return roomID, ok
}
