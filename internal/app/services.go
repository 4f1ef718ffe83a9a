package app

import (
	"fmt"

	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/services"
)

type Services struct {
	Token        services.TokenService
	Auth         services.AuthService
	Conversation services.ConversationService
	JobState     *services.JobState
	Dispatcher   services.JobDispatcher
	Correlator   *services.ResultCorrelator
	Coding       services.CodingService
	Visualize    services.VisualizationService
}

func wireServices(cfg Config, log *logger.Logger, clients Clients, repos Repos) (Services, error) {
	log.Info("Wiring services...")

	tokens, err := services.NewTokenService(log, cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return Services{}, fmt.Errorf("init token service: %w", err)
	}

	auth := services.NewAuthService(
		clients.DB, log,
		repos.User, repos.Conversation,
		clients.Codes, clients.Mailer,
		tokens, services.NewCodeGenerator(),
		clients.OAuthProviders,
		cfg.BcryptCost,
	)

	convs := services.NewConversationService(clients.DB, log, repos.Conversation, repos.AgentThread, repos.Message)

	state := services.NewJobState()
	dispatcher := services.NewJobDispatcher(log, convs, repos.Message, state, clients.AITasks)
	correlator := services.NewResultCorrelator(log, convs, state, clients.Results)

	coding := services.NewCodingService(log, clients.CodeExecution, clients.Results, repos.Message)
	visualize := services.NewVisualizationService(log, clients.Visualization, clients.Results)

	return Services{
		Token:        tokens,
		Auth:         auth,
		Conversation: convs,
		JobState:     state,
		Dispatcher:   dispatcher,
		Correlator:   correlator,
		Coding:       coding,
		Visualize:    visualize,
	}, nil
}
