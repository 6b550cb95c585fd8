// Package server wires HTTP handlers into a gin engine for the RoomChat
// application via routing helpers.
package server

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures and returns a gin engine with all application
// routes. REST routes under /api/users except register and login, and all
// of /api/chats and /api/messages, require a bearer token.
func SetupRoutes(h *Handlers) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery())

	engine.GET("/", h.Health)
	engine.GET("/ws", h.WebSocket)

	api := engine.Group("/api")
	{
		users := api.Group("/users")
		users.POST("/register", h.Register)
		users.POST("/login", h.Login)

		secured := api.Group("", h.RequireIdentity)
		secured.GET("/users", h.SearchUsers)
		secured.GET("/users/me", h.Me)
		secured.GET("/users/online", h.OnlineUsers)
		secured.PUT("/users/update-profile", h.UpdateProfile)
		secured.GET("/users/find/:username", h.FindUser)
		secured.POST("/users/add-friend", h.AddFriend)

		secured.POST("/chats", h.AccessRoom)
		secured.GET("/chats", h.ListRooms)
		secured.POST("/chats/group", h.CreateGroup)
		secured.DELETE("/chats/:id", h.LeaveRoom)

		secured.POST("/messages", h.SendMessage)
		secured.GET("/messages/:chatId", h.ListMessages)
		secured.DELETE("/messages/:id", h.DeleteMessage)
	}
	return engine
}
