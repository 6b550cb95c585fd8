package realtime_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/realtime"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

func newHub(t *testing.T) *realtime.Hub {
	t.Helper()
	return realtime.NewHub(zaptest.NewLogger(t).Sugar())
}

func message(sender domain.Identity, roomID, content string) domain.Message {
	return domain.Message{
		ID:        "m-" + content,
		RoomID:    roomID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// TestHubPresenceOncePerTransition verifies that an identity with several
// connections is announced online and offline exactly once.
func TestHubPresenceOncePerTransition(t *testing.T) {
	hub := newHub(t)
	observer := &testhelpers.RecordingSink{}
	hub.Admit(bob, observer)
	observer.Reset()

	c1 := hub.Admit(alice, &testhelpers.RecordingSink{})
	c2 := hub.Admit(alice, &testhelpers.RecordingSink{})
	c3 := hub.Admit(alice, &testhelpers.RecordingSink{})

	if n := observer.Count(realtime.EventIdentityOnline); n != 1 {
		t.Errorf("identity_online sent %d times, want 1", n)
	}

	hub.Evict(c1)
	hub.Evict(c2)
	if n := observer.Count(realtime.EventIdentityOffline); n != 0 {
		t.Errorf("identity_offline sent %d times before last connection closed", n)
	}
	hub.Evict(c3)
	hub.Evict(c3)

	if n := observer.Count(realtime.EventIdentityOffline); n != 1 {
		t.Errorf("identity_offline sent %d times, want 1", n)
	}
	var who domain.Identity
	if !observer.Last(realtime.EventIdentityOffline, &who) || who != alice {
		t.Errorf("identity_offline carried %+v, want %+v", who, alice)
	}
}

// TestHubPresenceReachesEveryConnection verifies presence is a global feed,
// not scoped to rooms.
func TestHubPresenceReachesEveryConnection(t *testing.T) {
	hub := newHub(t)
	b1 := &testhelpers.RecordingSink{}
	b2 := &testhelpers.RecordingSink{}
	bobConn := hub.Admit(bob, b1)
	hub.Admit(carol, b2)
	hub.Join(bobConn, "some-room")

	self := &testhelpers.RecordingSink{}
	hub.Admit(alice, self)

	for name, sink := range map[string]*testhelpers.RecordingSink{"bob": b1, "carol": b2, "alice": self} {
		var who domain.Identity
		if !sink.Last(realtime.EventIdentityOnline, &who) || who != alice {
			t.Errorf("%s did not see alice come online", name)
		}
	}
}

// TestHubDeliverSubscribersAndNotifications delivers to a room with three
// subscribed connections and one online participant elsewhere.
func TestHubDeliverSubscribersAndNotifications(t *testing.T) {
	hub := newHub(t)
	dave := domain.Identity{ID: "u-dave", Name: "dave"}

	a1, a2 := &testhelpers.RecordingSink{}, &testhelpers.RecordingSink{}
	b1 := &testhelpers.RecordingSink{}
	c1 := &testhelpers.RecordingSink{}
	hub.Join(hub.Admit(alice, a1), "R")
	hub.Join(hub.Admit(alice, a2), "R")
	hub.Join(hub.Admit(bob, b1), "R")
	hub.Join(hub.Admit(carol, c1), "other")

	report := hub.Deliver(message(alice, "R", "hello group"), []domain.Identity{alice, bob, carol, dave})

	if report.Delivered != 3 || report.Notified != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want 3 delivered, 1 notified", report)
	}
	for name, sink := range map[string]*testhelpers.RecordingSink{"a1": a1, "a2": a2, "b1": b1} {
		if n := sink.Count(realtime.EventMessageReceived); n != 1 {
			t.Errorf("%s got %d message_received, want 1", name, n)
		}
		if n := sink.Count(realtime.EventMessageNotification); n != 0 {
			t.Errorf("%s got %d notifications, want 0", name, n)
		}
	}
	if n := c1.Count(realtime.EventMessageReceived); n != 0 {
		t.Errorf("carol got %d message_received, want 0", n)
	}
	if n := c1.Count(realtime.EventMessageNotification); n != 1 {
		t.Errorf("carol got %d notifications, want 1", n)
	}
}

// TestHubDeliverToOfflineParticipant covers the scenario where the only other
// participant has no connection.
func TestHubDeliverToOfflineParticipant(t *testing.T) {
	hub := newHub(t)
	a := &testhelpers.RecordingSink{}
	hub.Join(hub.Admit(alice, a), "R")

	report := hub.Deliver(message(alice, "R", "hi"), []domain.Identity{alice, bob})

	if report.Delivered != 1 || report.Notified != 0 {
		t.Errorf("report = %+v, want 1 delivered, 0 notified", report)
	}
	var got domain.Message
	if !a.Last(realtime.EventMessageReceived, &got) {
		t.Fatal("sender did not receive its own message")
	}
	if got.Content != "hi" || got.Sender != alice {
		t.Errorf("received %+v", got)
	}
}

// TestHubNotificationPreview checks the 30 character truncation rule.
func TestHubNotificationPreview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short", content: "hi", want: "hi"},
		{name: "exactly thirty", content: strings.Repeat("x", 30), want: strings.Repeat("x", 30)},
		{name: "long", content: strings.Repeat("y", 31), want: strings.Repeat("y", 30) + "..."},
		{name: "multibyte", content: strings.Repeat("é", 40), want: strings.Repeat("é", 30) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newHub(t)
			hub.Join(hub.Admit(alice, &testhelpers.RecordingSink{}), "R")
			b := &testhelpers.RecordingSink{}
			hub.Admit(bob, b)

			hub.Deliver(message(alice, "R", tt.content), []domain.Identity{alice, bob})

			var n realtime.Notification
			if !b.Last(realtime.EventMessageNotification, &n) {
				t.Fatal("bob did not receive a notification")
			}
			if n.Preview != tt.want {
				t.Errorf("preview = %q, want %q", n.Preview, tt.want)
			}
			if n.RoomID != "R" || n.SenderName != alice.Name {
				t.Errorf("notification = %+v", n)
			}
		})
	}
}

// TestHubDeliverSurvivesFailedSink verifies one failing connection does not
// stop delivery to the others.
func TestHubDeliverSurvivesFailedSink(t *testing.T) {
	hub := newHub(t)
	broken := &testhelpers.RecordingSink{Reject: true}
	ok := &testhelpers.RecordingSink{}
	hub.Join(hub.Admit(alice, broken), "R")
	hub.Join(hub.Admit(bob, ok), "R")

	report := hub.Deliver(message(alice, "R", "still here"), []domain.Identity{alice, bob})

	if report.Failed != 1 || report.Delivered != 1 {
		t.Errorf("report = %+v, want 1 delivered, 1 failed", report)
	}
	if n := ok.Count(realtime.EventMessageReceived); n != 1 {
		t.Errorf("healthy connection got %d messages, want 1", n)
	}
}

// TestHubEvictLeavesRoom verifies eviction clears the subscription and that
// joins on evicted connections are refused.
func TestHubEvictLeavesRoom(t *testing.T) {
	hub := newHub(t)
	c := hub.Admit(alice, &testhelpers.RecordingSink{})
	hub.Join(c, "R")

	hub.Evict(c)

	if n := len(hub.Rooms().SubscribersOf("R")); n != 0 {
		t.Errorf("room has %d subscribers after evict, want 0", n)
	}
	if hub.Join(c, "R") {
		t.Error("Join accepted an evicted connection")
	}
	if hub.Leave(c) {
		t.Error("Leave reported a subscription for an evicted connection")
	}
}

// TestHubDeliverOrderWithinRoom verifies a subscriber sees messages in call
// order.
func TestHubDeliverOrderWithinRoom(t *testing.T) {
	hub := newHub(t)
	sink := &testhelpers.RecordingSink{}
	hub.Join(hub.Admit(bob, sink), "R")

	for _, content := range []string{"one", "two", "three"} {
		hub.Deliver(message(alice, "R", content), []domain.Identity{alice, bob})
	}

	var got []string
	for _, ev := range sink.Events() {
		if ev.Type != realtime.EventMessageReceived {
			continue
		}
		var m domain.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			t.Fatal(err)
		}
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("order = %v", got)
	}
}

// TestHubBroadcastToRoom verifies room-scoped events reach subscribers only.
func TestHubBroadcastToRoom(t *testing.T) {
	hub := newHub(t)
	in := &testhelpers.RecordingSink{}
	out := &testhelpers.RecordingSink{}
	hub.Join(hub.Admit(alice, in), "R")
	hub.Admit(bob, out)

	sent := hub.Broadcast("R", realtime.EventMessageDeleted, realtime.Deletion{RoomID: "R", MessageID: "m1"})

	if sent != 1 {
		t.Errorf("Broadcast sent to %d connections, want 1", sent)
	}
	if out.Count(realtime.EventMessageDeleted) != 0 {
		t.Error("connection outside the room received message_deleted")
	}
}

// TestHubUnsubscribeIdentity verifies only the identity's connections in the
// given room lose their subscription.
func TestHubUnsubscribeIdentity(t *testing.T) {
	hub := newHub(t)
	tab1 := hub.Admit(carol, &testhelpers.RecordingSink{})
	tab2 := hub.Admit(carol, &testhelpers.RecordingSink{})
	tab3 := hub.Admit(carol, &testhelpers.RecordingSink{})
	other := hub.Admit(bob, &testhelpers.RecordingSink{})
	hub.Join(tab1, "G")
	hub.Join(tab2, "G")
	hub.Join(tab3, "elsewhere")
	hub.Join(other, "G")

	if n := hub.UnsubscribeIdentity(carol.ID, "G"); n != 2 {
		t.Errorf("UnsubscribeIdentity() cleared %d, want 2", n)
	}

	subs := hub.Rooms().SubscribersOf("G")
	if len(subs) != 1 || subs[0] != other {
		t.Errorf("subscribers of G = %v, want only %s", subs, other)
	}
	if room, ok := hub.Rooms().RoomOf(tab3); !ok || room != "elsewhere" {
		t.Errorf("tab3 room = %q, %v; want elsewhere", room, ok)
	}
	if n := hub.UnsubscribeIdentity(carol.ID, "G"); n != 0 {
		t.Errorf("second UnsubscribeIdentity() cleared %d, want 0", n)
	}
}

// TestHubCloseRoom verifies a closed room keeps no subscribers and later
// deliveries to it reach nobody.
func TestHubCloseRoom(t *testing.T) {
	hub := newHub(t)
	a := &testhelpers.RecordingSink{}
	b := &testhelpers.RecordingSink{}
	hub.Join(hub.Admit(alice, a), "R")
	hub.Join(hub.Admit(bob, b), "R")

	if n := hub.CloseRoom("R"); n != 2 {
		t.Errorf("CloseRoom() cleared %d, want 2", n)
	}
	if n := len(hub.Rooms().SubscribersOf("R")); n != 0 {
		t.Errorf("room has %d subscribers after close, want 0", n)
	}

	report := hub.Deliver(message(alice, "R", "late"), nil)
	if report.Delivered != 0 {
		t.Errorf("Delivered = %d after close, want 0", report.Delivered)
	}
	if a.Count(realtime.EventMessageReceived)+b.Count(realtime.EventMessageReceived) != 0 {
		t.Error("a closed room still received messages")
	}
}
