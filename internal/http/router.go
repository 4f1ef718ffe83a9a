package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/conversant/backend/internal/http/handlers"
	httpMW "github.com/conversant/backend/internal/http/middleware"
	"github.com/conversant/backend/internal/platform/logger"
)

type RouterConfig struct {
	Log                *logger.Logger
	CORSAllowedOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	AuthHandler      *httpH.AuthHandler
	DashboardHandler *httpH.DashboardHandler
	SettingsHandler  *httpH.SettingsHandler
	JobsHandler      *httpH.JobsHandler
	CodingHandler    *httpH.CodingHandler
	VisualizeHandler *httpH.VisualizeHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.CORS(cfg.CORSAllowedOrigins))
	if cfg.AuthMiddleware != nil {
		r.Use(cfg.AuthMiddleware.Gateway())
	}
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Auth (public)
	if cfg.AuthHandler != nil {
		auth := api.Group("/auth")
		auth.POST("/register", cfg.AuthHandler.Register)
		auth.POST("/login", cfg.AuthHandler.Login)
		auth.GET("/oauth2/success", cfg.AuthHandler.OAuth2Success)
		auth.POST("/verify-account", cfg.AuthHandler.VerifyAccount)
		auth.POST("/resend-verification", cfg.AuthHandler.ResendVerification)
		auth.POST("/reset-password-request", cfg.AuthHandler.ResetPasswordRequest)
		auth.POST("/reset-password", cfg.AuthHandler.ResetPassword)
	}

	protected := api.Group("/")
	protected.Use(httpMW.RequireUser())

	if cfg.DashboardHandler != nil {
		dashboard := protected.Group("/dashboard")
		dashboard.GET("/get-email", cfg.DashboardHandler.GetEmail)
		dashboard.GET("/get-username", cfg.DashboardHandler.GetUsername)
		dashboard.GET("/get-conversation-list", cfg.DashboardHandler.GetConversationList)
		dashboard.GET("/get-conversation-history/:conversationId", cfg.DashboardHandler.GetConversationHistory)
		dashboard.POST("/new-conversation", cfg.DashboardHandler.NewConversation)
		dashboard.DELETE("/delete-conversation/:conversationId", cfg.DashboardHandler.DeleteConversation)
		dashboard.PUT("/rename-conversation", cfg.DashboardHandler.RenameConversation)
	}

	if cfg.SettingsHandler != nil {
		settings := protected.Group("/settings")
		settings.GET("/profile", cfg.SettingsHandler.Profile)
		settings.GET("/get-is-verified", cfg.SettingsHandler.GetIsVerified)
		settings.GET("/get-creation-date", cfg.SettingsHandler.GetCreationDate)
		settings.POST("/change-username", cfg.SettingsHandler.ChangeUsername)
		settings.PUT("/change-email", cfg.SettingsHandler.ChangeEmail)
		settings.PUT("/change-password", cfg.SettingsHandler.ChangePassword)
		settings.DELETE("/delete", cfg.SettingsHandler.DeleteAccount)
	}

	if cfg.JobsHandler != nil {
		jobs := protected.Group("/jobs")
		jobs.POST("/submit", cfg.JobsHandler.Submit)
		jobs.GET("/get", cfg.JobsHandler.Get)
		protected.GET("/conversations/:conversationId/status", cfg.JobsHandler.ConversationStatus)
	}

	if cfg.CodingHandler != nil {
		coding := protected.Group("/coding")
		coding.POST("/execute", cfg.CodingHandler.Execute)
		coding.GET("/get", cfg.CodingHandler.Get)
	}

	if cfg.VisualizeHandler != nil {
		visualize := protected.Group("/visualize")
		visualize.POST("/generate", cfg.VisualizeHandler.Generate)
		visualize.GET("/get", cfg.VisualizeHandler.Get)
	}

	return r
}
