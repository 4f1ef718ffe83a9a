package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conversant/backend/internal/platform/logger"
)

const (
	defaultCodeTTL = 15 * time.Minute
	minCodeTTL     = 1 * time.Minute
)

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Name)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type QueueConfig struct {
	CodeRequest   string
	AITasks       string
	CodeResults   string
	CodeReview    string
	CodeExecution string
	Visualization string
}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type OAuthConfig struct {
	Google      OAuthProviderConfig
	GitHub      OAuthProviderConfig
	HTTPTimeout time.Duration
}

type Config struct {
	Mode string
	Port string

	JWTSecret     string
	JWTExpiration time.Duration
	BcryptCost    int

	VerificationCodeTTL  time.Duration
	PasswordResetCodeTTL time.Duration

	FrontendBaseURL    string
	CORSAllowedOrigins []string

	Postgres PostgresConfig
	Redis    RedisConfig
	Mail     MailConfig
	Queues   QueueConfig
	OAuth    OAuthConfig
}

// Load reads config.yaml (working dir or ./config) merged with environment
// variables (APP_JWT_SECRET overrides app.jwt.secret, and so on). It fails
// hard when the JWT secret is missing or shorter than the HMAC-SHA256 key
// floor; everything else has a usable default.
func Load(log *logger.Logger) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		log.Info("No config file found, using env and defaults")
	}

	cfg := Config{
		Mode:          v.GetString("app.mode"),
		Port:          v.GetString("app.port"),
		JWTSecret:     v.GetString("app.jwt.secret"),
		JWTExpiration: v.GetDuration("app.jwt.expiration"),
		BcryptCost:    v.GetInt("app.security.bcrypt-cost"),

		VerificationCodeTTL:  codeTTL(log, "verification", v.GetInt("app.security.verification-code-ttl-minutes")),
		PasswordResetCodeTTL: codeTTL(log, "password_reset", v.GetInt("app.security.password-reset-code-ttl-minutes")),

		FrontendBaseURL:    strings.TrimRight(v.GetString("app.frontend.base-url"), "/"),
		CORSAllowedOrigins: v.GetStringSlice("app.cors.allowed-origins"),

		Postgres: PostgresConfig{
			Host:     v.GetString("app.postgres.host"),
			Port:     v.GetString("app.postgres.port"),
			User:     v.GetString("app.postgres.user"),
			Password: v.GetString("app.postgres.password"),
			Name:     v.GetString("app.postgres.name"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("app.redis.addr"),
			Password: v.GetString("app.redis.password"),
			DB:       v.GetInt("app.redis.db"),
		},
		Mail: MailConfig{
			Host:     v.GetString("app.mail.host"),
			Port:     v.GetInt("app.mail.port"),
			Username: v.GetString("app.mail.username"),
			Password: v.GetString("app.mail.password"),
			From:     v.GetString("app.mail.from"),
		},
		Queues: QueueConfig{
			CodeRequest:   v.GetString("app.queue.code.request"),
			AITasks:       v.GetString("app.queue.ai.tasks"),
			CodeResults:   v.GetString("app.queue.code.results"),
			CodeReview:    v.GetString("app.queue.code.review"),
			CodeExecution: v.GetString("app.queue.code.execution"),
			Visualization: v.GetString("app.queue.visualization"),
		},
		OAuth: OAuthConfig{
			Google: OAuthProviderConfig{
				ClientID:     v.GetString("app.oauth.google.client-id"),
				ClientSecret: v.GetString("app.oauth.google.client-secret"),
				RedirectURL:  v.GetString("app.oauth.google.redirect-url"),
			},
			GitHub: OAuthProviderConfig{
				ClientID:     v.GetString("app.oauth.github.client-id"),
				ClientSecret: v.GetString("app.oauth.github.client-secret"),
				RedirectURL:  v.GetString("app.oauth.github.redirect-url"),
			},
			HTTPTimeout: v.GetDuration("app.oauth.http-timeout"),
		},
	}

	if len(cfg.JWTSecret) < 32 {
		return Config{}, fmt.Errorf("app.jwt.secret must be at least 32 bytes, got %d", len(cfg.JWTSecret))
	}
	if cfg.JWTExpiration <= 0 {
		return Config{}, fmt.Errorf("app.jwt.expiration must be positive")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.mode", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.jwt.expiration", "24h")
	v.SetDefault("app.security.bcrypt-cost", 10)
	v.SetDefault("app.security.verification-code-ttl-minutes", 15)
	v.SetDefault("app.security.password-reset-code-ttl-minutes", 15)
	v.SetDefault("app.frontend.base-url", "http://localhost:3000")
	v.SetDefault("app.cors.allowed-origins", []string{"http://localhost:3000"})

	v.SetDefault("app.postgres.host", "localhost")
	v.SetDefault("app.postgres.port", "5432")
	v.SetDefault("app.postgres.user", "postgres")
	v.SetDefault("app.postgres.password", "")
	v.SetDefault("app.postgres.name", "conversant")

	v.SetDefault("app.redis.addr", "localhost:6379")
	v.SetDefault("app.redis.password", "")
	v.SetDefault("app.redis.db", 0)

	v.SetDefault("app.mail.host", "")
	v.SetDefault("app.mail.port", 587)
	v.SetDefault("app.mail.from", "no-reply@conversant.local")

	v.SetDefault("app.queue.code.request", "code_request_queue")
	v.SetDefault("app.queue.ai.tasks", "ai_tasks_queue")
	v.SetDefault("app.queue.code.results", "code_results_queue")
	v.SetDefault("app.queue.code.review", "code_review_queue")
	v.SetDefault("app.queue.code.execution", "code_execution_queue")
	v.SetDefault("app.queue.visualization", "visualization_queue")

	v.SetDefault("app.oauth.http-timeout", "10s")
}

// codeTTL clamps a configured one-time-code TTL: non-positive falls back to
// the 15 minute default, anything under a minute is raised to the floor.
func codeTTL(log *logger.Logger, kind string, minutes int) time.Duration {
	if minutes <= 0 {
		log.Warn("Non-positive code TTL configured, using default",
			"kind", kind, "configured_minutes", minutes, "default", defaultCodeTTL)
		return defaultCodeTTL
	}
	ttl := time.Duration(minutes) * time.Minute
	if ttl < minCodeTTL {
		log.Warn("Code TTL below minimum, clamping",
			"kind", kind, "configured", ttl, "minimum", minCodeTTL)
		return minCodeTTL
	}
	return ttl
}
