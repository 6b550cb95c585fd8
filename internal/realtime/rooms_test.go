package realtime_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Tyrowin/roomchat/internal/realtime"
)

func contains(ids []realtime.ConnID, id realtime.ConnID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

// TestRoomsJoinReplacesSubscription verifies that joining a second room
// removes the connection from the first.
func TestRoomsJoinReplacesSubscription(t *testing.T) {
	rooms := realtime.NewRooms()
	c := realtime.ConnID("c1")

	if prev := rooms.Join(c, "r1"); prev != "" {
		t.Errorf("first Join returned previous room %q, want empty", prev)
	}
	if prev := rooms.Join(c, "r2"); prev != "r1" {
		t.Errorf("second Join returned previous room %q, want r1", prev)
	}

	if contains(rooms.SubscribersOf("r1"), c) {
		t.Error("connection still subscribed to r1 after joining r2")
	}
	if !contains(rooms.SubscribersOf("r2"), c) {
		t.Error("connection not subscribed to r2")
	}
	if room, ok := rooms.RoomOf(c); !ok || room != "r2" {
		t.Errorf("RoomOf = %q, %v; want r2, true", room, ok)
	}
}

// TestRoomsLeaveIsIdempotent verifies that leaving without a subscription is
// a no-op.
func TestRoomsLeaveIsIdempotent(t *testing.T) {
	rooms := realtime.NewRooms()
	c := realtime.ConnID("c1")

	if _, ok := rooms.Leave(c); ok {
		t.Error("Leave on unsubscribed connection reported a subscription")
	}

	rooms.Join(c, "r1")
	if room, ok := rooms.Leave(c); !ok || room != "r1" {
		t.Errorf("Leave = %q, %v; want r1, true", room, ok)
	}
	if _, ok := rooms.Leave(c); ok {
		t.Error("second Leave reported a subscription")
	}
	if n := len(rooms.SubscribersOf("r1")); n != 0 {
		t.Errorf("r1 has %d subscribers after Leave, want 0", n)
	}
}

// TestRoomsRejoinSameRoom verifies that joining the current room again keeps
// a single subscription.
func TestRoomsRejoinSameRoom(t *testing.T) {
	rooms := realtime.NewRooms()
	c := realtime.ConnID("c1")

	rooms.Join(c, "r1")
	rooms.Join(c, "r1")

	if n := len(rooms.SubscribersOf("r1")); n != 1 {
		t.Errorf("r1 has %d subscribers, want 1", n)
	}
}

// TestRoomsConcurrentJoinNeverDoubleSubscribes hammers one connection with
// joins from many goroutines and checks it ends up in exactly one room.
func TestRoomsConcurrentJoinNeverDoubleSubscribes(t *testing.T) {
	rooms := realtime.NewRooms()
	c := realtime.ConnID("c1")
	roomIDs := []string{"r0", "r1", "r2", "r3", "r4"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms.Join(c, roomIDs[i%len(roomIDs)])
			if i%7 == 0 {
				rooms.Leave(c)
			}
		}(i)
	}
	wg.Wait()

	rooms.Join(c, "final")

	found := 0
	for _, r := range append(roomIDs, "final") {
		if contains(rooms.SubscribersOf(r), c) {
			found++
		}
	}
	if found != 1 {
		t.Errorf("connection subscribed to %d rooms, want 1", found)
	}
}

// TestRoomsManyConnections verifies subscriber sets are kept per room.
func TestRoomsManyConnections(t *testing.T) {
	rooms := realtime.NewRooms()
	for i := 0; i < 10; i++ {
		room := "even"
		if i%2 == 1 {
			room = "odd"
		}
		rooms.Join(realtime.ConnID(fmt.Sprintf("c%d", i)), room)
	}

	if n := len(rooms.SubscribersOf("even")); n != 5 {
		t.Errorf("even has %d subscribers, want 5", n)
	}
	if n := len(rooms.SubscribersOf("odd")); n != 5 {
		t.Errorf("odd has %d subscribers, want 5", n)
	}
	if n := len(rooms.SubscribersOf("none")); n != 0 {
		t.Errorf("unknown room has %d subscribers, want 0", n)
	}
}
