package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/domain"
)

type memRoom struct {
	id           string
	name         string
	isGroup      bool
	participants []string
	latestID     string
	createdAt    time.Time
	updatedAt    time.Time

	// touched orders rooms whose timestamps collide.
	touched uint64
}

type memMessage struct {
	id        string
	roomID    string
	senderID  string
	content   string
	createdAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	byEmail  map[string]string
	byName   map[string]string
	rooms    map[string]*memRoom
	direct   map[string]string
	messages map[string][]*memMessage
	clock    uint64
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		byName:   make(map[string]string),
		rooms:    make(map[string]*memRoom),
		direct:   make(map[string]string),
		messages: make(map[string][]*memMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser implements Users.
func (m *Memory) CreateUser(_ context.Context, name, email, passwordHash string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	emailKey := strings.ToLower(strings.TrimSpace(email))
	nameKey := strings.ToLower(strings.TrimSpace(name))
	if _, ok := m.byEmail[emailKey]; ok {
		return domain.User{}, errors.Wrap(ErrDuplicateUser, "email taken")
	}
	if _, ok := m.byName[nameKey]; ok {
		return domain.User{}, errors.Wrap(ErrDuplicateUser, "name taken")
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        emailKey,
		PasswordHash: passwordHash,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	m.byEmail[emailKey] = u.ID
	m.byName[nameKey] = u.ID
	return cloneUser(u), nil
}

// UserByID implements Users.
func (m *Memory) UserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return cloneUser(u), nil
}

// UserByEmail implements Users.
func (m *Memory) UserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return cloneUser(m.users[id]), nil
}

// UserByName implements Users.
func (m *Memory) UserByName(_ context.Context, name string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return cloneUser(m.users[id]), nil
}

// UpdateUser implements Users.
func (m *Memory) UpdateUser(_ context.Context, id string, update UserUpdate) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}

	oldEmail := u.Email
	oldName := strings.ToLower(u.Name)
	email := oldEmail
	if v := strings.ToLower(strings.TrimSpace(update.Email)); v != "" {
		email = v
	}
	name := u.Name
	if v := strings.TrimSpace(update.Name); v != "" {
		name = v
	}
	nameKey := strings.ToLower(name)

	if owner, ok := m.byEmail[email]; ok && owner != id {
		return domain.User{}, errors.Wrap(ErrDuplicateUser, "email taken")
	}
	if owner, ok := m.byName[nameKey]; ok && owner != id {
		return domain.User{}, errors.Wrap(ErrDuplicateUser, "name taken")
	}

	delete(m.byEmail, oldEmail)
	delete(m.byName, oldName)
	m.byEmail[email] = id
	m.byName[nameKey] = id
	u.Email = email
	u.Name = name
	if update.PasswordHash != "" {
		u.PasswordHash = update.PasswordHash
	}
	if v := strings.TrimSpace(update.ProfilePicture); v != "" {
		u.ProfilePicture = v
	}
	return cloneUser(u), nil
}

// AddFriend implements Users.
func (m *Memory) AddFriend(_ context.Context, userID, friendID string) error {
	if userID == friendID {
		return ErrSelfFriend
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	friend, ok := m.users[friendID]
	if !ok {
		return ErrUserNotFound
	}
	if u.IsFriendWith(friendID) {
		return ErrAlreadyFriends
	}
	u.Friends = append(u.Friends, friendID)
	if !friend.IsFriendWith(userID) {
		friend.Friends = append(friend.Friends, userID)
	}
	return nil
}

// SearchUsers implements Users.
func (m *Memory) SearchUsers(_ context.Context, query, excludeID string) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.User, 0)
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Name), q) && !strings.Contains(u.Email, q) {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > searchLimit {
		out = out[:searchLimit]
	}
	return out, nil
}

// Touch implements LastSeen.
func (m *Memory) Touch(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.LastSeen = at
	return nil
}

// CreateOrFetchRoom implements Rooms.
func (m *Memory) CreateOrFetchRoom(_ context.Context, a, b string) (domain.Room, bool, error) {
	if a == b {
		return domain.Room{}, false, errors.Wrap(ErrInvalidRoom, "cannot open a chat with yourself")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[b]; !ok {
		return domain.Room{}, false, ErrUserNotFound
	}
	if _, ok := m.users[a]; !ok {
		return domain.Room{}, false, ErrUserNotFound
	}

	key := pairKey(a, b)
	if id, ok := m.direct[key]; ok {
		return m.viewLocked(m.rooms[id]), false, nil
	}

	r := m.newRoomLocked("", false, []string{a, b})
	m.direct[key] = r.id
	return m.viewLocked(r), true, nil
}

// CreateGroupRoom implements Rooms.
func (m *Memory) CreateGroupRoom(_ context.Context, name, creatorID string, participantIDs []string) (domain.Room, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Room{}, errors.Wrap(ErrInvalidRoom, "group name is required")
	}
	members, err := groupMembers(creatorID, participantIDs)
	if err != nil {
		return domain.Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range members {
		if _, ok := m.users[id]; !ok {
			return domain.Room{}, errors.Wrapf(ErrUserNotFound, "participant %s", id)
		}
	}
	r := m.newRoomLocked(strings.TrimSpace(name), true, members)
	return m.viewLocked(r), nil
}

func (m *Memory) newRoomLocked(name string, isGroup bool, members []string) *memRoom {
	now := m.now()
	m.clock++
	r := &memRoom{
		id:           uuid.NewString(),
		name:         name,
		isGroup:      isGroup,
		participants: append([]string(nil), members...),
		createdAt:    now,
		updatedAt:    now,
		touched:      m.clock,
	}
	m.rooms[r.id] = r
	return r
}

// ListRoomsFor implements Rooms.
func (m *Memory) ListRoomsFor(_ context.Context, userID string) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owned []*memRoom
	for _, r := range m.rooms {
		if containsID(r.participants, userID) {
			owned = append(owned, r)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].updatedAt.Equal(owned[j].updatedAt) {
			return owned[i].updatedAt.After(owned[j].updatedAt)
		}
		return owned[i].touched > owned[j].touched
	})

	out := make([]domain.Room, 0, len(owned))
	for _, r := range owned {
		out = append(out, m.viewLocked(r))
	}
	return out, nil
}

// RoomFor implements Rooms.
func (m *Memory) RoomFor(_ context.Context, roomID, userID string) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok || !containsID(r.participants, userID) {
		return domain.Room{}, ErrRoomNotFound
	}
	return m.viewLocked(r), nil
}

// LeaveRoom implements Rooms.
func (m *Memory) LeaveRoom(_ context.Context, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || !containsID(r.participants, userID) {
		return false, ErrRoomNotFound
	}

	if r.isGroup && len(r.participants) > 1 {
		kept := r.participants[:0]
		for _, id := range r.participants {
			if id != userID {
				kept = append(kept, id)
			}
		}
		r.participants = kept
		return false, nil
	}

	delete(m.rooms, roomID)
	delete(m.messages, roomID)
	if !r.isGroup && len(r.participants) == 2 {
		delete(m.direct, pairKey(r.participants[0], r.participants[1]))
	}
	return true, nil
}

// RoomParticipants implements Rooms.
func (m *Memory) RoomParticipants(_ context.Context, roomID string) ([]domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return m.identitiesLocked(r.participants), nil
}

// CreateMessage implements Messages.
func (m *Memory) CreateMessage(_ context.Context, senderID, roomID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || !containsID(r.participants, senderID) {
		return domain.Message{}, ErrRoomNotFound
	}

	msg := &memMessage{
		id:        uuid.NewString(),
		roomID:    roomID,
		senderID:  senderID,
		content:   content,
		createdAt: m.now(),
	}
	m.messages[roomID] = append(m.messages[roomID], msg)

	m.clock++
	r.latestID = msg.id
	r.updatedAt = msg.createdAt
	r.touched = m.clock
	return m.messageLocked(msg), nil
}

// ListMessages implements Messages.
func (m *Memory) ListMessages(_ context.Context, roomID, userID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok || !containsID(r.participants, userID) {
		return nil, ErrRoomNotFound
	}

	out := make([]domain.Message, 0, len(m.messages[roomID]))
	for _, msg := range m.messages[roomID] {
		out = append(out, m.messageLocked(msg))
	}
	return out, nil
}

// DeleteMessage implements Messages.
func (m *Memory) DeleteMessage(_ context.Context, messageID, userID string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for roomID, msgs := range m.messages {
		for i, msg := range msgs {
			if msg.id != messageID {
				continue
			}
			if msg.senderID != userID {
				return domain.Message{}, ErrForbidden
			}
			deleted := m.messageLocked(msg)
			m.messages[roomID] = append(msgs[:i:i], msgs[i+1:]...)

			if r, ok := m.rooms[roomID]; ok && r.latestID == messageID {
				r.latestID = ""
				if rest := m.messages[roomID]; len(rest) > 0 {
					r.latestID = rest[len(rest)-1].id
				}
			}
			return deleted, nil
		}
	}
	return domain.Message{}, ErrMessageNotFound
}

func (m *Memory) viewLocked(r *memRoom) domain.Room {
	room := domain.Room{
		ID:           r.id,
		Name:         r.name,
		IsGroup:      r.isGroup,
		Participants: m.identitiesLocked(r.participants),
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
	}
	if r.latestID != "" {
		for _, msg := range m.messages[r.id] {
			if msg.id == r.latestID {
				latest := m.messageLocked(msg)
				room.LatestMessage = &latest
				break
			}
		}
	}
	return room
}

func (m *Memory) identitiesLocked(ids []string) []domain.Identity {
	out := make([]domain.Identity, 0, len(ids))
	for _, id := range ids {
		identity := domain.Identity{ID: id}
		if u, ok := m.users[id]; ok {
			identity.Name = u.Name
		}
		out = append(out, identity)
	}
	return out
}

func (m *Memory) messageLocked(msg *memMessage) domain.Message {
	sender := domain.Identity{ID: msg.senderID}
	if u, ok := m.users[msg.senderID]; ok {
		sender.Name = u.Name
	}
	return domain.Message{
		ID:        msg.id,
		RoomID:    msg.roomID,
		Sender:    sender,
		Content:   msg.content,
		CreatedAt: msg.createdAt,
	}
}

func cloneUser(u *domain.User) domain.User {
	out := *u
	out.Friends = append([]string{}, u.Friends...)
	return out
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
