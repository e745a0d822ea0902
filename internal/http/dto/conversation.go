package dto

import (
	"time"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/session"
)

type ImageInput struct {
	URL string `json:"url" binding:"required"`
}

type StartConversationRequest struct {
	Description string       `json:"description" binding:"required,min=1"`
	Images      []ImageInput `json:"images,omitempty" binding:"omitempty,max=10,dive"`
}

type SendMessageRequest struct {
	Text   string       `json:"text"`
	Images []ImageInput `json:"images,omitempty" binding:"omitempty,max=10,dive"`
}

type DecideApprovalRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

type UpdateFileRequest struct {
	Path    string `json:"path" binding:"required"`
	Enabled bool   `json:"enabled"`
}

type UpdateFilesRequest struct {
	Files []UpdateFileRequest `json:"files" binding:"required,min=1,dive"`
}

// ToParts converts image inputs to user message parts.
func ToParts(images []ImageInput) []llm.ContentPart {
	var parts []llm.ContentPart
	for _, img := range images {
		parts = append(parts, llm.ContentPart{Type: llm.PartImage, ImageURL: img.URL})
	}
	return parts
}

type ConversationResponse struct {
	ID          int64                  `json:"id,string"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Running     bool                   `json:"running"`
	Pending     []string               `json:"pending_approvals"`
	LastError   string                 `json:"last_error,omitempty"`
	Plan        []model.TaskPlanStep   `json:"plan,omitempty"`
	Files       []model.FileEntry      `json:"files"`
	Usage       map[string]model.Usage `json:"usage"`
	StartedAt   time.Time              `json:"started_at"`
}

func ToConversationResponse(conv *model.Conversation, status session.Status) *ConversationResponse {
	files := conv.Files.Entries()
	if files == nil {
		files = []model.FileEntry{}
	}
	pending := status.PendingApprovals
	if pending == nil {
		pending = []string{}
	}
	return &ConversationResponse{
		ID:          conv.ID,
		Title:       conv.Title(),
		Description: conv.Description(),
		Running:     status.Running,
		Pending:     pending,
		LastError:   status.LastError,
		Plan:        conv.Plan(),
		Files:       files,
		Usage:       conv.Usage(),
		StartedAt:   conv.StartedAt,
	}
}

type MessagesResponse struct {
	Messages []model.FrontendMessage `json:"messages"`
}
