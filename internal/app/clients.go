package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/conversant/backend/internal/data/db"
	"github.com/conversant/backend/internal/platform/codecache"
	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/mail"
	"github.com/conversant/backend/internal/platform/oauth"
	"github.com/conversant/backend/internal/platform/queue"
	"github.com/conversant/backend/internal/platform/resultstore"
)

// Clients holds everything that talks to an external system: the database,
// redis (streams, code cache, result cache), SMTP and the OAuth providers.
type Clients struct {
	DB    *gorm.DB
	Redis *goredis.Client

	AITasks       *queue.Stream
	CodeReview    *queue.Stream
	CodeResults   *queue.Stream
	CodeExecution *queue.Stream
	Visualization *queue.Stream

	Codes   *codecache.Cache
	Results *resultstore.Store
	Mailer  mail.Sender

	OAuthProviders *oauth.Registry
}

func wireClients(cfg Config, log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	pg, err := db.NewPostgresService(cfg.Postgres.DSN(), log)
	if err != nil {
		return Clients{}, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return Clients{}, fmt.Errorf("postgres automigrate: %w", err)
	}

	rdb, err := queue.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}

	streams := map[string]**queue.Stream{}
	out := Clients{DB: pg.DB(), Redis: rdb}
	streams[cfg.Queues.AITasks] = &out.AITasks
	streams[cfg.Queues.CodeReview] = &out.CodeReview
	streams[cfg.Queues.CodeResults] = &out.CodeResults
	streams[cfg.Queues.CodeExecution] = &out.CodeExecution
	streams[cfg.Queues.Visualization] = &out.Visualization
	for name, target := range streams {
		s, err := queue.NewStream(rdb, log, name)
		if err != nil {
			return Clients{}, fmt.Errorf("init stream %s: %w", name, err)
		}
		*target = s
	}

	codes, err := codecache.NewCache(rdb, log, cfg.VerificationCodeTTL, cfg.PasswordResetCodeTTL)
	if err != nil {
		return Clients{}, fmt.Errorf("init code cache: %w", err)
	}
	out.Codes = codes

	results, err := resultstore.NewStore(rdb, log, "job_result")
	if err != nil {
		return Clients{}, fmt.Errorf("init result store: %w", err)
	}
	out.Results = results

	mailer, err := mail.NewSMTPSender(mail.Config{
		Host:            cfg.Mail.Host,
		Port:            cfg.Mail.Port,
		Username:        cfg.Mail.Username,
		Password:        cfg.Mail.Password,
		From:            cfg.Mail.From,
		FrontendBaseURL: cfg.FrontendBaseURL,
	}, log)
	if err != nil {
		return Clients{}, fmt.Errorf("init mailer: %w", err)
	}
	out.Mailer = mailer

	out.OAuthProviders = oauth.NewRegistry(
		oauth.NewGoogle(oauth.ClientConfig{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
		}, cfg.OAuth.HTTPTimeout),
		oauth.NewGitHub(oauth.ClientConfig{
			ClientID:     cfg.OAuth.GitHub.ClientID,
			ClientSecret: cfg.OAuth.GitHub.ClientSecret,
			RedirectURL:  cfg.OAuth.GitHub.RedirectURL,
		}, cfg.OAuth.HTTPTimeout),
	)

	return out, nil
}
