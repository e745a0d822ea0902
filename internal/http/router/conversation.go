package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/companion/internal/http/handler"
)

func ConversationRouter(rg *gin.RouterGroup, h *handler.ConversationHandler, stream *handler.StreamHandler) {
	rg.POST("", h.Start)
	rg.GET("/:id", h.Get)
	rg.GET("/:id/messages", h.Messages)
	rg.POST("/:id/messages", h.Send)
	rg.DELETE("/:id/messages", h.DeleteMessages)
	rg.POST("/:id/cancel", h.Cancel)
	rg.POST("/:id/retry", h.Retry)
	rg.POST("/:id/approvals/:approval_id", h.Decide)
	rg.PATCH("/:id/files", h.UpdateFiles)
	rg.GET("/:id/stream", stream.Stream)
}
