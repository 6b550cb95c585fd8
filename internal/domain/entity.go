// Package domain holds the value types shared by the persistence, real-time
// and transport layers.
package domain

import "time"

// Identity is an authenticated user as seen by the real-time core. It is
// resolved once when a connection is admitted and never re-validated.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a stored account. PasswordHash never leaves the server.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	Friends        []string  `json:"friends"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Identity returns the identity carried by connections for this user.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name}
}

// IsFriendWith reports whether userID is on the friends list.
func (u User) IsFriendWith(userID string) bool {
	for _, id := range u.Friends {
		if id == userID {
			return true
		}
	}
	return false
}

// Room is a direct or group conversation.
type Room struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	IsGroup       bool       `json:"is_group"`
	Participants  []Identity `json:"participants"`
	LatestMessage *Message   `json:"latest_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the room.
func (r Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Message is a persisted chat message with the sender's display name attached.
// Once returned by the store it is treated as immutable.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    Identity  `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
