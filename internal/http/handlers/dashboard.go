package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/conversant/backend/internal/http/middleware"
	"github.com/conversant/backend/internal/http/response"
	"github.com/conversant/backend/internal/services"
)

type DashboardHandler struct {
	convs services.ConversationService
}

func NewDashboardHandler(convs services.ConversationService) *DashboardHandler {
	return &DashboardHandler{convs: convs}
}

type conversationDisplay struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageDisplay struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (dh *DashboardHandler) GetEmail(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	response.RespondOK(c, user.Email)
}

func (dh *DashboardHandler) GetUsername(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	response.RespondOK(c, user.Username)
}

func (dh *DashboardHandler) GetConversationList(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	convs, err := dh.convs.List(c.Request.Context(), user.ID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	out := make([]conversationDisplay, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationDisplay{
			ID:        conv.ID,
			Title:     conv.Title,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	response.RespondOK(c, out)
}

func (dh *DashboardHandler) GetConversationHistory(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	conversationID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	msgs, err := dh.convs.FullHistory(c.Request.Context(), user.ID, conversationID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	out := make([]messageDisplay, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageDisplay{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	}
	response.RespondOK(c, out)
}

func (dh *DashboardHandler) NewConversation(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	conv, err := dh.convs.Create(c.Request.Context(), user.ID, "")
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, conv.ID)
}

func (dh *DashboardHandler) DeleteConversation(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	conversationID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	if err := dh.convs.Delete(c.Request.Context(), user.ID, conversationID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (dh *DashboardHandler) RenameConversation(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	var req struct {
		ConversationID string `json:"conversationId"`
		Title          string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id",
			fmt.Errorf("conversationId is not a uuid"))
		return
	}
	if err := dh.convs.Rename(c.Request.Context(), user.ID, conversationID, req.Title); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
