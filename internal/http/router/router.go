package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/companion/internal/http/handler"
	"basegraph.app/companion/internal/session"
)

type RouterConfig struct {
	Sessions session.Manager
	Events   handler.EventReader
}

func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		conversationHandler := handler.NewConversationHandler(cfg.Sessions)
		streamHandler := handler.NewStreamHandler(cfg.Sessions, cfg.Events)
		ConversationRouter(v1.Group("/conversations"), conversationHandler, streamHandler)
	}
}
