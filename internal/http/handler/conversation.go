package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/companion/internal/http/dto"
	"basegraph.app/companion/internal/session"
)

type ConversationHandler struct {
	sessions session.Manager
}

func NewConversationHandler(sessions session.Manager) *ConversationHandler {
	return &ConversationHandler{sessions: sessions}
}

func (h *ConversationHandler) Start(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.sessions.Start(ctx, req.Description, dto.ToParts(req.Images))
	if err != nil {
		writeSessionError(c, err)
		return
	}

	status, _ := h.sessions.Status(conv.ID)
	c.JSON(http.StatusAccepted, dto.ToConversationResponse(conv, status))
}

func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	conv, err := h.sessions.Get(id)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	status, err := h.sessions.Status(id)
	if err != nil {
		writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToConversationResponse(conv, status))
}

func (h *ConversationHandler) Send(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.Send(ctx, id, req.Text, dto.ToParts(req.Images)); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	conv, err := h.sessions.Get(id)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessagesResponse{Messages: conv.Frontend()})
}

// DeleteMessages removes every message after the "after" id.
func (h *ConversationHandler) DeleteMessages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	after, err := strconv.ParseInt(c.Query("after"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after message id"})
		return
	}

	if err := h.sessions.DeleteMessagesAfter(id, after); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Cancel(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	if err := h.sessions.Cancel(id); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (h *ConversationHandler) Retry(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := conversationID(c)
	if !ok {
		return
	}

	if err := h.sessions.Retry(ctx, id); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *ConversationHandler) Decide(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req dto.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	approvalID := c.Param("approval_id")
	if err := h.sessions.Decide(id, approvalID, *req.Approved); err != nil {
		writeSessionError(c, err)
		return
	}
	slog.InfoContext(ctx, "approval decided", "conversation_id", id, "approval_id", approvalID, "approved", *req.Approved)
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) UpdateFiles(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req dto.UpdateFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, f := range req.Files {
		if err := h.sessions.SetFile(id, f.Path, f.Enabled); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeSessionError(c, err)
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}

	conv, err := h.sessions.Get(id)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": conv.Files.Entries()})
}

func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, session.ErrNoPendingApproval):
		c.JSON(http.StatusNotFound, gin.H{"error": "approval not found"})
	case errors.Is(err, session.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is busy"})
	case errors.Is(err, session.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "session request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
