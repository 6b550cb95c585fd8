// Package chat connects the persistence collaborator to the real-time hub:
// messages are stored first and only then fanned out.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/realtime"
	"github.com/Tyrowin/roomchat/internal/store"
)

// MaxContentLength bounds message content in characters.
const MaxContentLength = 4000

// ErrContentTooLong is returned for messages over MaxContentLength.
var ErrContentTooLong = errors.New("message content too long")

// Service implements the message and subscription paths shared by the
// WebSocket and REST transports.
type Service struct {
	store    store.Store
	lastSeen store.LastSeen
	hub      *realtime.Hub
	log      *zap.SugaredLogger
	locks    *roomLocks

	// touchTimeout bounds the fire-and-forget last-seen write.
	touchTimeout time.Duration
}

// NewService wires a service. lastSeen may be nil to record activity in the
// store itself.
func NewService(st store.Store, lastSeen store.LastSeen, hub *realtime.Hub, log *zap.SugaredLogger) *Service {
	if lastSeen == nil {
		lastSeen = st
	}
	return &Service{
		store:        st,
		lastSeen:     lastSeen,
		hub:          hub,
		log:          log,
		locks:        newRoomLocks(),
		touchTimeout: 5 * time.Second,
	}
}

// Hub returns the real-time hub the service delivers through.
func (s *Service) Hub() *realtime.Hub { return s.hub }

// SubmitMessage persists content from sender into roomID and delivers the
// stored copy. A persistence failure aborts delivery; delivery problems are
// never reported back to the sender.
//
// Persist and Deliver run under a per-room lock so that subscribers observe
// messages in the order the store created them.
func (s *Service) SubmitMessage(ctx context.Context, sender domain.Identity, roomID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, store.ErrEmptyMessage
	}
	if len([]rune(content)) > MaxContentLength {
		return domain.Message{}, ErrContentTooLong
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	msg, err := s.store.CreateMessage(ctx, sender.ID, roomID, content)
	if err != nil {
		return domain.Message{}, err
	}

	participants, err := s.store.RoomParticipants(ctx, roomID)
	if err != nil {
		// The message is durable; recipients reconcile through history.
		s.log.Warnf("Message %s stored but participants of room %s unavailable: %v", msg.ID, roomID, err)
		participants = []domain.Identity{msg.Sender}
	}

	report := s.hub.Deliver(msg, participants)
	s.log.Infof("Message %s from %s in room %s: delivered=%d notified=%d failed=%d",
		msg.ID, sender.Name, roomID, report.Delivered, report.Notified, report.Failed)
	return msg, nil
}

// JoinRoom subscribes a connection to roomID after checking that identity
// participates in it. The check and the subscription hold the room lock so a
// concurrent LeaveRoom cannot slip between them.
func (s *Service) JoinRoom(ctx context.Context, conn realtime.ConnID, identity domain.Identity, roomID string) error {
	unlock := s.locks.lock(roomID)
	defer unlock()

	participants, err := s.store.RoomParticipants(ctx, roomID)
	if err != nil {
		return err
	}
	member := false
	for _, p := range participants {
		if p.ID == identity.ID {
			member = true
			break
		}
	}
	if !member {
		return store.ErrNotAParticipant
	}
	if !s.hub.Join(conn, roomID) {
		return store.ErrRoomNotFound
	}
	return nil
}

// Unsubscribe clears the connection's subscription.
func (s *Service) Unsubscribe(conn realtime.ConnID) {
	s.hub.Leave(conn)
}

// LeaveRoom removes identity from roomID and drops the live subscriptions
// that no longer have a participant behind them: the identity's own when it
// left a group, every subscriber's when the room was deleted. deleted
// reports which happened.
func (s *Service) LeaveRoom(ctx context.Context, identity domain.Identity, roomID string) (bool, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	deleted, err := s.store.LeaveRoom(ctx, roomID, identity.ID)
	if err != nil {
		if !deleted {
			return false, err
		}
		// The room is gone even though its messages were not all removed.
		s.log.Warnf("Room %s deleted with leftover messages: %v", roomID, err)
	}

	if deleted {
		cleared := s.hub.CloseRoom(roomID)
		s.log.Infof("Room %s deleted by %s; cleared %d subscriptions", roomID, identity.Name, cleared)
		return true, nil
	}
	cleared := s.hub.UnsubscribeIdentity(identity.ID, roomID)
	s.log.Infof("%s left room %s; cleared %d subscriptions", identity.Name, roomID, cleared)
	return false, nil
}

// DeleteMessage removes a message sent by identity and tells the room's
// subscribers.
func (s *Service) DeleteMessage(ctx context.Context, identity domain.Identity, messageID string) (domain.Message, error) {
	msg, err := s.store.DeleteMessage(ctx, messageID, identity.ID)
	if err != nil {
		return domain.Message{}, err
	}
	s.hub.Broadcast(msg.RoomID, realtime.EventMessageDeleted, realtime.Deletion{RoomID: msg.RoomID, MessageID: msg.ID})
	return msg, nil
}

// Touch records activity for identity without blocking the caller. Failures
// are logged only.
func (s *Service) Touch(identity domain.Identity) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
		defer cancel()
		if err := s.lastSeen.Touch(ctx, identity.ID, time.Now().UTC()); err != nil {
			s.log.Debugf("Last-seen update for %s failed: %v", identity.ID, err)
		}
	}()
}
