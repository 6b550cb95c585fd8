// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the REST API.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// identityKey is the gin context key holding the authenticated identity.
const identityKey = "identity"

// Handlers carries the collaborators every route needs.
type Handlers struct {
	store         store.Store
	service       *chat.Service
	gateway       *Gateway
	authenticator *auth.Authenticator
	tokens        *auth.Tokens
	passwords     *auth.PasswordHasher
	activity      store.ActivityReader
	upgrader      websocket.Upgrader
	log           *zap.SugaredLogger
}

// NewHandlers builds the handler set. The upgrader enforces the configured
// origin allow-list.
func NewHandlers(cfg *Config, deps Dependencies, gateway *Gateway) *Handlers {
	origins := newOriginPolicy(cfg.AllowedOrigins, deps.Log)
	return &Handlers{
		store:         deps.Store,
		service:       deps.Service,
		gateway:       gateway,
		authenticator: deps.Authenticator,
		tokens:        deps.Tokens,
		passwords:     deps.Passwords,
		activity:      deps.Activity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: deps.Log,
	}
}

// WebSocket authenticates the request, upgrades it, and hands the connection
// to the gateway. Unauthenticated requests are refused before the upgrade.
func (h *Handlers) WebSocket(c *gin.Context) {
	identity, err := h.authenticator.Authenticate(c.Request.Context(), auth.CredentialFromRequest(c.Request))
	if err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, h.gateway, identity, c.Request.RemoteAddr)
	if err := h.gateway.Register(client); err != nil {
		h.log.Infof("Refusing client from %s: %v", c.Request.RemoteAddr, err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// Health provides a simple health check endpoint that returns server status.
func (h *Handlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "RoomChat server is running!")
}
