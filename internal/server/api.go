package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/store"
)

const minPasswordLength = 6

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User  UserView `json:"user"`
	Token string   `json:"token"`
}

// UserView is a user as exposed over REST.
type UserView struct {
	domain.User
	Online bool `json:"online"`
}

type registerRequest struct {
	Name     string `json:"name"     binding:"required"`
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type profileRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email" binding:"omitempty,email"`
	Password       string `json:"password"`
	ProfilePicture string `json:"profile_picture"`
}

type friendRequest struct {
	FriendID string `json:"friend_id" binding:"required"`
}

type directRoomRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type groupRoomRequest struct {
	Name    string   `json:"name"     binding:"required"`
	UserIDs []string `json:"user_ids" binding:"required"`
}

type messageRequest struct {
	RoomID  string `json:"room_id" binding:"required"`
	Content string `json:"content"`
}

// RequireIdentity authenticates REST calls and stores the identity in the
// gin context.
func (h *Handlers) RequireIdentity(c *gin.Context) {
	identity, err := h.authenticator.Authenticate(c.Request.Context(), auth.CredentialFromRequest(c.Request))
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	h.service.Touch(identity)
	c.Set(identityKey, identity)
	c.Next()
}

func identityFrom(c *gin.Context) domain.Identity {
	return c.MustGet(identityKey).(domain.Identity)
}

func (h *Handlers) view(ctx context.Context, u domain.User) UserView {
	if h.activity != nil {
		at, ok, err := h.activity.LastSeen(ctx, u.ID)
		switch {
		case err != nil:
			h.log.Debugf("Reading last seen for %s failed: %v", u.ID, err)
		case ok && at.After(u.LastSeen):
			u.LastSeen = at
		}
	}
	return UserView{User: u, Online: h.gateway.Hub().IsOnline(u.ID)}
}

// Register creates an account and returns it with a session token.
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "name is required and password must be at least 6 characters",
		})
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.store.CreateUser(c.Request.Context(), req.Name, req.Email, hash)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.issue(c, http.StatusCreated, user)
}

// Login exchanges an email and password for a session token.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	user, err := h.store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			err = auth.ErrInvalidCredential
		}
		h.respondError(c, err)
		return
	}
	if !h.passwords.Verify(req.Password, user.PasswordHash) {
		h.respondError(c, auth.ErrInvalidCredential)
		return
	}
	h.issue(c, http.StatusOK, user)
}

func (h *Handlers) issue(c *gin.Context, status int, user domain.User) {
	token, err := h.tokens.Issue(user.Identity())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, AuthResponse{User: h.view(c.Request.Context(), user), Token: token})
}

// Me returns the caller's account.
func (h *Handlers) Me(c *gin.Context) {
	user, err := h.store.UserByID(c.Request.Context(), identityFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(c.Request.Context(), user))
}

// UpdateProfile changes the caller's name, email, password or profile
// picture and returns the account with a fresh token. Omitted fields keep
// their current value.
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if req.Password != "" && len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "password must be at least 6 characters",
		})
		return
	}

	update := store.UserUpdate{
		Name:           req.Name,
		Email:          req.Email,
		ProfilePicture: req.ProfilePicture,
	}
	if req.Password != "" {
		hash, err := h.passwords.Hash(req.Password)
		if err != nil {
			h.respondError(c, err)
			return
		}
		update.PasswordHash = hash
	}

	user, err := h.store.UpdateUser(c.Request.Context(), identityFrom(c).ID, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.issue(c, http.StatusOK, user)
}

// FindUser looks another user up by exact display name.
func (h *Handlers) FindUser(c *gin.Context) {
	user, err := h.store.UserByName(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if user.ID == identityFrom(c).ID {
		h.respondError(c, store.ErrSelfFriend)
		return
	}
	c.JSON(http.StatusOK, h.view(c.Request.Context(), user))
}

// AddFriend makes the caller and friend_id friends of each other.
func (h *Handlers) AddFriend(c *gin.Context) {
	var req friendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.store.AddFriend(c.Request.Context(), identityFrom(c).ID, req.FriendID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend added", "user_id": req.FriendID})
}

// SearchUsers matches ?search= against names and emails, excluding the caller.
func (h *Handlers) SearchUsers(c *gin.Context) {
	users, err := h.store.SearchUsers(c.Request.Context(), c.Query("search"), identityFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, h.view(c.Request.Context(), u))
	}
	c.JSON(http.StatusOK, views)
}

// OnlineUsers returns the current presence records.
func (h *Handlers) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.Hub().Online())
}

// AccessRoom returns the direct room between the caller and user_id,
// creating it on first use.
func (h *Handlers) AccessRoom(c *gin.Context) {
	var req directRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	room, created, err := h.store.CreateOrFetchRoom(c.Request.Context(), identityFrom(c).ID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, room)
}

// ListRooms returns the caller's rooms, most recently active first.
func (h *Handlers) ListRooms(c *gin.Context) {
	rooms, err := h.store.ListRoomsFor(c.Request.Context(), identityFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// CreateGroup creates a named room for the caller and user_ids.
func (h *Handlers) CreateGroup(c *gin.Context) {
	var req groupRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	room, err := h.store.CreateGroupRoom(c.Request.Context(), strings.TrimSpace(req.Name), identityFrom(c).ID, req.UserIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// LeaveRoom removes the caller from a room, deleting it when nobody would
// remain.
func (h *Handlers) LeaveRoom(c *gin.Context) {
	deleted, err := h.service.LeaveRoom(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// SendMessage persists a message and fans it out, the same path as a
// submit_message event.
func (h *Handlers) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	msg, err := h.service.SubmitMessage(c.Request.Context(), identityFrom(c), req.RoomID, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns a room's history in creation order.
func (h *Handlers) ListMessages(c *gin.Context) {
	msgs, err := h.store.ListMessages(c.Request.Context(), c.Param("chatId"), identityFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// DeleteMessage removes one of the caller's messages.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	msg, err := h.service.DeleteMessage(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// respondError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredential):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, store.ErrUserNotFound):
		status, code = http.StatusNotFound, "user_not_found"
	case errors.Is(err, store.ErrRoomNotFound):
		status, code = http.StatusNotFound, codeRoomNotFound
	case errors.Is(err, store.ErrMessageNotFound):
		status, code = http.StatusNotFound, codeMessageNotFound
	case errors.Is(err, store.ErrNotAParticipant):
		status, code = http.StatusForbidden, codeNotParticipant
	case errors.Is(err, store.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrDuplicateUser):
		status, code = http.StatusConflict, "duplicate_user"
	case errors.Is(err, store.ErrSelfFriend):
		status, code = http.StatusBadRequest, "invalid_friend"
	case errors.Is(err, store.ErrAlreadyFriends):
		status, code = http.StatusConflict, "already_friends"
	case errors.Is(err, store.ErrInvalidRoom):
		status, code = http.StatusBadRequest, "invalid_room"
	case errors.Is(err, store.ErrEmptyMessage), errors.Is(err, chat.ErrContentTooLong):
		status, code = http.StatusBadRequest, codeInvalidMessage
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		message = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}
