package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/conversant/backend/internal/http/response"
	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/services"
)

type AuthHandler struct {
	authService     services.AuthService
	frontendBaseURL string
}

func NewAuthHandler(authService services.AuthService, frontendBaseURL string) *AuthHandler {
	return &AuthHandler{authService: authService, frontendBaseURL: frontendBaseURL}
}

func (ah *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := ah.authService.Register(c.Request.Context(), req.Username, req.Email, req.Password); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"ok": true})
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	token, err := ah.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"token": token})
}

// OAuth2Success is the browser redirect target of the provider's consent
// screen. On success it forwards to the frontend callback with the session
// token in the query string.
func (ah *AuthHandler) OAuth2Success(c *gin.Context) {
	provider := c.Query("provider")
	code := c.Query("code")
	if provider == "" || code == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("provider and code query parameters are required"))
		return
	}
	token, err := ah.authService.AuthenticateOAuth2(c.Request.Context(), provider, code)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	c.Redirect(http.StatusFound, ah.frontendBaseURL+"/auth/callback?token="+url.QueryEscape(token))
}

func (ah *AuthHandler) VerifyAccount(c *gin.Context) {
	var req struct {
		VerificationCode string `json:"verificationCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := ah.authService.VerifyAccount(c.Request.Context(), req.VerificationCode); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ah *AuthHandler) ResendVerification(c *gin.Context) {
	email, err := emailFromBody(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := ah.authService.ResendVerification(c.Request.Context(), email); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ah *AuthHandler) ResetPasswordRequest(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := ah.authService.ResetPasswordRequest(c.Request.Context(), req.Email); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ah *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		ResetCode   string `json:"resetCode"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := ah.authService.ResetPassword(c.Request.Context(), req.ResetCode, req.NewPassword); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// emailFromBody accepts `{"email":"..."}`, a bare JSON string, or a plain
// text body. Clients have sent all three.
func emailFromBody(c *gin.Context) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		return "", err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", apierr.BadRequest("EMAIL_REQUIRED", fmt.Errorf("email is required"))
	}
	var obj struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(trimmed, &obj) == nil && obj.Email != "" {
		return obj.Email, nil
	}
	var s string
	if json.Unmarshal(trimmed, &s) == nil && s != "" {
		return s, nil
	}
	return string(trimmed), nil
}
