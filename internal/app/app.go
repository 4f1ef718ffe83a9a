package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/queue"
)

const consumerGroup = "backend"

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Router   *gin.Engine

	consumers []*consumerBinding
	cancel    context.CancelFunc
	done      chan struct{}
}

type consumerBinding struct {
	name     string
	consumer *queue.Consumer
	handle   queue.Handler
}

func New(log *logger.Logger) (*App, error) {
	cfg, err := Load(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	clients, err := wireClients(cfg, log)
	if err != nil {
		return nil, err
	}

	repos := wireRepos(clients.DB, log)

	services, err := wireServices(cfg, log, clients, repos)
	if err != nil {
		return nil, err
	}

	handlers := wireHandlers(cfg, services)
	router := wireRouter(cfg, log, services, handlers)

	a := &App{
		Log:      log,
		Cfg:      cfg,
		Clients:  clients,
		Repos:    repos,
		Services: services,
		Router:   router,
	}
	if err := a.wireConsumers(); err != nil {
		return nil, err
	}
	return a, nil
}

// wireConsumers binds the two inbound streams: worker replies feed the result
// correlator, code-execution results feed the ephemeral cache.
func (a *App) wireConsumers() error {
	consumerID := consumerGroup + "-" + hostname()

	review, err := queue.NewConsumer(a.Clients.CodeReview, a.Log, consumerGroup, consumerID)
	if err != nil {
		return fmt.Errorf("init review consumer: %w", err)
	}
	a.consumers = append(a.consumers, &consumerBinding{
		name:     a.Clients.CodeReview.Name(),
		consumer: review,
		handle:   a.Services.Correlator.HandleWorkerReply,
	})

	results, err := queue.NewConsumer(a.Clients.CodeResults, a.Log, consumerGroup, consumerID)
	if err != nil {
		return fmt.Errorf("init results consumer: %w", err)
	}
	a.consumers = append(a.consumers, &consumerBinding{
		name:     a.Clients.CodeResults.Name(),
		consumer: results,
		handle:   a.Services.Correlator.HandleCodeResult,
	})
	return nil
}

// Start launches the stream consumers. Idempotent; a second call is a no-op.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		for _, binding := range a.consumers {
			binding := binding
			go func() {
				if err := binding.consumer.Run(ctx, binding.handle); err != nil && ctx.Err() == nil {
					a.Log.Error("Consumer stopped", "stream", binding.name, "error", err)
				}
			}()
		}
		<-ctx.Done()
	}()
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		<-a.done
	}
	if a.Clients.Redis != nil {
		_ = a.Clients.Redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local"
	}
	return h
}
