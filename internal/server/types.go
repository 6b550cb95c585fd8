package server

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Inbound event types accepted on a WebSocket connection.
const (
	inboundJoinRoom      = "join_room"
	inboundLeaveRoom     = "leave_room"
	inboundSubmitMessage = "submit_message"
)

// InboundEvent is the JSON frame a client sends.
type InboundEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// Error codes carried by outbound error events.
const (
	codeInvalidEvent    = "invalid_event"
	codeRateLimited     = "rate_limited"
	codeRoomNotFound    = "room_not_found"
	codeNotParticipant  = "not_a_participant"
	codeInvalidMessage  = "invalid_message"
	codeMessageNotFound = "message_not_found"
	codeInternal        = "internal_error"
)

// errorCode maps a domain error to the code reported to the originating
// connection.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return codeRoomNotFound
	case errors.Is(err, store.ErrNotAParticipant):
		return codeNotParticipant
	case errors.Is(err, store.ErrEmptyMessage), errors.Is(err, chat.ErrContentTooLong):
		return codeInvalidMessage
	case errors.Is(err, store.ErrMessageNotFound):
		return codeMessageNotFound
	default:
		return codeInternal
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
