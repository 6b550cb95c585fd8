// Package server implements the HTTP server functionality for the RoomChat server.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Dependencies are the collaborators the transport is built on.
type Dependencies struct {
	Store         store.Store
	Service       *chat.Service
	Authenticator *auth.Authenticator
	Tokens        *auth.Tokens
	Passwords     *auth.PasswordHasher
	Log           *zap.SugaredLogger

	// Activity, when set, supplies last-seen times newer than the stored
	// user record.
	Activity store.ActivityReader
}

// Server ties the gateway, routes and HTTP listener together.
type Server struct {
	cfg     *Config
	gateway *Gateway
	engine  *gin.Engine
	http    *http.Server
	log     *zap.SugaredLogger
}

// New assembles a server. Nothing is started until Start.
func New(cfg *Config, deps Dependencies) *Server {
	gateway := NewGateway(cfg, deps.Service, deps.Log)
	engine := SetupRoutes(NewHandlers(cfg, deps, gateway))
	return &Server{
		cfg:     cfg,
		gateway: gateway,
		engine:  engine,
		http:    CreateServer(cfg.Port, engine),
		log:     deps.Log,
	}
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Gateway returns the WebSocket gateway.
func (s *Server) Gateway() *Gateway { return s.gateway }

// Start runs the gateway loop and blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	go s.gateway.Run()
	s.log.Info("Gateway started and ready to manage WebSocket connections")
	return StartServer(s.http, s.log)
}

// Shutdown stops accepting HTTP requests, then closes every WebSocket
// client. Each phase gets timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	httpErr := ShutdownServer(s.http, timeout, s.log)
	if err := s.gateway.Shutdown(timeout); err != nil {
		return err
	}
	return httpErr
}
