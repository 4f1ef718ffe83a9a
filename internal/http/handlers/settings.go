package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conversant/backend/internal/http/middleware"
	"github.com/conversant/backend/internal/http/response"
	"github.com/conversant/backend/internal/services"
)

type SettingsHandler struct {
	authService services.AuthService
}

func NewSettingsHandler(authService services.AuthService) *SettingsHandler {
	return &SettingsHandler{authService: authService}
}

func (sh *SettingsHandler) Profile(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	response.RespondOK(c, gin.H{
		"username":   user.Username,
		"email":      user.Email,
		"isVerified": user.Verified,
		"createdAt":  user.CreatedAt.Format(time.RFC3339),
	})
}

func (sh *SettingsHandler) GetIsVerified(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	state := "unverified"
	if user.Verified {
		state = "verified"
	}
	response.RespondOK(c, state)
}

func (sh *SettingsHandler) GetCreationDate(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	response.RespondOK(c, user.CreatedAt.Format(time.RFC3339))
}

// ChangeUsername returns a fresh token because the old one carries the old
// username as subject.
func (sh *SettingsHandler) ChangeUsername(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	var req struct {
		NewUsername string `json:"newUsername"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	token, err := sh.authService.ChangeUsername(c.Request.Context(), user.ID, req.NewUsername)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"token": token})
}

func (sh *SettingsHandler) ChangeEmail(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	var req struct {
		NewEmail string `json:"newEmail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := sh.authService.ChangeEmail(c.Request.Context(), user.ID, req.NewEmail); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (sh *SettingsHandler) ChangePassword(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := sh.authService.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (sh *SettingsHandler) DeleteAccount(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	if err := sh.authService.DeleteAccount(c.Request.Context(), user.ID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
