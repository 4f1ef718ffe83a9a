package app

import (
	"github.com/gin-gonic/gin"

	apphttp "github.com/conversant/backend/internal/http"
	httpH "github.com/conversant/backend/internal/http/handlers"
	httpMW "github.com/conversant/backend/internal/http/middleware"
	"github.com/conversant/backend/internal/platform/logger"
)

type Handlers struct {
	Auth      *httpH.AuthHandler
	Dashboard *httpH.DashboardHandler
	Settings  *httpH.SettingsHandler
	Jobs      *httpH.JobsHandler
	Coding    *httpH.CodingHandler
	Visualize *httpH.VisualizeHandler
	Health    *httpH.HealthHandler
}

func wireHandlers(cfg Config, services Services) Handlers {
	return Handlers{
		Auth:      httpH.NewAuthHandler(services.Auth, cfg.FrontendBaseURL),
		Dashboard: httpH.NewDashboardHandler(services.Conversation),
		Settings:  httpH.NewSettingsHandler(services.Auth),
		Jobs:      httpH.NewJobsHandler(services.Dispatcher),
		Coding:    httpH.NewCodingHandler(services.Coding),
		Visualize: httpH.NewVisualizeHandler(services.Visualize),
		Health:    httpH.NewHealthHandler(),
	}
}

func wireRouter(cfg Config, log *logger.Logger, services Services, handlers Handlers) *gin.Engine {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return apphttp.NewRouter(apphttp.RouterConfig{
		Log:                log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AuthMiddleware:     httpMW.NewAuthMiddleware(log, services.Token, services.Auth),
		AuthHandler:        handlers.Auth,
		DashboardHandler:   handlers.Dashboard,
		SettingsHandler:    handlers.Settings,
		JobsHandler:        handlers.Jobs,
		CodingHandler:      handlers.Coding,
		VisualizeHandler:   handlers.Visualize,
		HealthHandler:      handlers.Health,
	})
}
