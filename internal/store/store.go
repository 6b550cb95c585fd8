// Package store is the persistence collaborator for users, rooms and
// messages. Memory backs tests and single-node development; Mongo is the
// durable adapter.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// Sentinel errors returned by every implementation.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicateUser   = errors.New("user already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotAParticipant = errors.New("not a participant of this room")
	ErrInvalidRoom     = errors.New("invalid room request")
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("operation not permitted")
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrSelfFriend      = errors.New("cannot add yourself as a friend")
	ErrAlreadyFriends  = errors.New("user is already in your friends list")
)

const (
	searchLimit         = 20
	minGroupMemberCount = 3
)

// UserUpdate carries profile changes. Empty fields keep the stored value.
type UserUpdate struct {
	Name           string
	Email          string
	PasswordHash   string
	ProfilePicture string
}

// Users stores accounts.
type Users interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (domain.User, error)
	UserByID(ctx context.Context, id string) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	// UserByName matches the display name case-insensitively.
	UserByName(ctx context.Context, name string) (domain.User, error)
	SearchUsers(ctx context.Context, query, excludeID string) ([]domain.User, error)
	// UpdateUser applies update and fails with ErrDuplicateUser when the new
	// name or email belongs to another account.
	UpdateUser(ctx context.Context, id string, update UserUpdate) (domain.User, error)
	// AddFriend records a symmetric friendship.
	AddFriend(ctx context.Context, userID, friendID string) error
}

// Rooms stores conversations and their participant lists.
type Rooms interface {
	// CreateOrFetchRoom returns the direct room between a and b, creating it
	// when none exists. created reports which happened.
	CreateOrFetchRoom(ctx context.Context, a, b string) (room domain.Room, created bool, err error)
	CreateGroupRoom(ctx context.Context, name, creatorID string, participantIDs []string) (domain.Room, error)
	// ListRoomsFor returns the user's rooms, most recently updated first.
	ListRoomsFor(ctx context.Context, userID string) ([]domain.Room, error)
	// RoomFor returns a room the user participates in, or ErrRoomNotFound.
	RoomFor(ctx context.Context, roomID, userID string) (domain.Room, error)
	// LeaveRoom removes the user from a group with other members, otherwise
	// deletes the room and its messages. deleted reports which happened.
	LeaveRoom(ctx context.Context, roomID, userID string) (deleted bool, err error)
	RoomParticipants(ctx context.Context, roomID string) ([]domain.Identity, error)
}

// Messages stores chat messages.
type Messages interface {
	// CreateMessage fails with ErrRoomNotFound when the room does not exist
	// or the sender is not one of its participants.
	CreateMessage(ctx context.Context, senderID, roomID, content string) (domain.Message, error)
	// ListMessages returns the room history in creation order.
	ListMessages(ctx context.Context, roomID, userID string) ([]domain.Message, error)
	// DeleteMessage removes a message sent by userID and returns it.
	DeleteMessage(ctx context.Context, messageID, userID string) (domain.Message, error)
}

// LastSeen records when a user was last active.
type LastSeen interface {
	Touch(ctx context.Context, userID string, at time.Time) error
}

// ActivityReader reads last-activity times kept outside the user record.
type ActivityReader interface {
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// Store is the full persistence surface.
type Store interface {
	Users
	Rooms
	Messages
	LastSeen
}

// pairKey identifies a direct room independent of participant order.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// groupMembers adds the creator, drops blanks and duplicates, and enforces
// the minimum group size.
func groupMembers(creatorID string, participantIDs []string) ([]string, error) {
	seen := map[string]struct{}{creatorID: {}}
	members := []string{creatorID}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) < minGroupMemberCount {
		return nil, errors.Wrapf(ErrInvalidRoom, "a group needs at least %d participants", minGroupMemberCount)
	}
	return members, nil
}
