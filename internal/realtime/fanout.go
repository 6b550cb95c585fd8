package realtime

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// Report summarizes one Deliver call.
type Report struct {
	Delivered int
	Notified  int
	Failed    int
}

// Fanout distributes persisted messages to live connections.
type Fanout struct {
	registry *Registry
	rooms    *Rooms
	log      *zap.SugaredLogger
}

// NewFanout returns an engine reading from registry and rooms.
func NewFanout(registry *Registry, rooms *Rooms, log *zap.SugaredLogger) *Fanout {
	return &Fanout{registry: registry, rooms: rooms, log: log}
}

// Deliver pushes msg to every connection subscribed to its room, the
// sender's own connections included, then sends a notification to each
// connection of every other online participant that has no connection in
// the room. participants must be the authoritative list for msg.RoomID.
//
// Sends are non-blocking and best-effort: a failed send is counted and
// logged, never returned. Callers must invoke Deliver in creation order for
// a given room.
func (f *Fanout) Deliver(msg domain.Message, participants []domain.Identity) Report {
	var report Report

	payload, err := Encode(EventMessageReceived, msg)
	if err != nil {
		f.log.Errorf("Error encoding message %s: %v", msg.ID, err)
		return report
	}

	viewing := make(map[string]struct{})
	for _, reg := range f.registry.pick(f.rooms.SubscribersOf(msg.RoomID)) {
		viewing[reg.identity.ID] = struct{}{}
		if reg.sink.Send(payload) {
			report.Delivered++
			continue
		}
		report.Failed++
		f.log.Warnf("Delivery of message %s to connection %s failed", msg.ID, reg.id)
	}

	notice, err := Encode(EventMessageNotification, Notification{
		RoomID:     msg.RoomID,
		MessageID:  msg.ID,
		SenderName: msg.Sender.Name,
		Preview:    Preview(msg.Content),
		CreatedAt:  msg.CreatedAt,
	})
	if err != nil {
		f.log.Errorf("Error encoding notification for message %s: %v", msg.ID, err)
		return report
	}

	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p.ID == msg.Sender.ID {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		if _, ok := viewing[p.ID]; ok {
			continue
		}
		for _, reg := range f.registry.pick(f.registry.ConnectionsFor(p.ID)) {
			if reg.sink.Send(notice) {
				report.Notified++
				continue
			}
			report.Failed++
			f.log.Warnf("Notification for message %s to connection %s failed", msg.ID, reg.id)
		}
	}

	f.log.Debugf("Message %s in room %s: delivered=%d notified=%d failed=%d",
		msg.ID, msg.RoomID, report.Delivered, report.Notified, report.Failed)
	return report
}

// Broadcast sends an arbitrary event to every subscriber of roomID and
// returns how many connections accepted it.
func (f *Fanout) Broadcast(roomID string, typ EventType, data any) int {
	payload, err := Encode(typ, data)
	if err != nil {
		f.log.Errorf("Error encoding %s event for room %s: %v", typ, roomID, err)
		return 0
	}

	sent := 0
	for _, reg := range f.registry.pick(f.rooms.SubscribersOf(roomID)) {
		if reg.sink.Send(payload) {
			sent++
		}
	}
	return sent
}
