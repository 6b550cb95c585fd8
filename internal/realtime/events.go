package realtime

import (
	"encoding/json"
	"time"
)

// EventType names an outbound event.
type EventType string

// Outbound event types.
const (
	EventMessageReceived     EventType = "message_received"
	EventMessageNotification EventType = "message_notification"
	EventMessageDeleted      EventType = "message_deleted"
	EventIdentityOnline      EventType = "identity_online"
	EventIdentityOffline     EventType = "identity_offline"
	EventError               EventType = "error"
)

// PreviewLength is the number of characters kept in a notification preview.
const PreviewLength = 30

// Event is the envelope written to every connection.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Notification tells an online participant that a room they are not
// currently viewing received a message. It carries no ordering guarantee
// relative to message_received events for other rooms.
type Notification struct {
	RoomID     string    `json:"room_id"`
	MessageID  string    `json:"message_id"`
	SenderName string    `json:"sender_name"`
	Preview    string    `json:"preview"`
	CreatedAt  time.Time `json:"created_at"`
}

// Deletion announces that a message was removed from a room.
type Deletion struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals an event envelope.
func Encode(typ EventType, data any) ([]byte, error) {
	return json.Marshal(Event{Type: typ, Data: data})
}

// Preview truncates content to PreviewLength characters, appending "..." when
// anything was cut.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}
