// Package app wires configuration into the queue store, the audit store,
// the outbound clients and both managers.
package app

import (
	"context"
	"errors"
	"fmt"
	"hookq/internal/config"
	"hookq/internal/domain"
	"hookq/internal/handlers"
	"hookq/internal/infra/amqpmail"
	"hookq/internal/infra/embedding"
	"hookq/internal/infra/n8n"
	"hookq/internal/infra/redisq"
	"hookq/internal/infra/sqlitestore"
	"hookq/internal/ports"
	"hookq/internal/usecase"
	"net/http"

	"github.com/rs/zerolog/log"
)

type App struct {
	Cfg      *config.Config
	Redis    *redisq.Client
	Store    *sqlitestore.Store
	Mail     *amqpmail.Publisher
	Tasks    *usecase.TaskManager
	Webhooks *usecase.WebhookManager
}

// New connects every dependency. The caller owns the returned App and
// must Close it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}

	a.Redis = redisq.New(cfg.Redis)
	if err := a.Redis.Connect(ctx); err != nil {
		_ = a.Redis.Close()
		return nil, err
	}

	store, err := sqlitestore.Open(cfg.SQLite.Path, cfg.SQLite.PoolSize)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = store

	var mailer ports.Mailer
	if cfg.AMQP.URL != "" {
		a.Mail, err = amqpmail.Dial(cfg.AMQP.URL, cfg.AMQP.MailQueue)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		mailer = a.Mail
	} else {
		log.Warn().Msg("AMQP_URL not set, emails will be simulated")
	}

	workflow := n8n.New(cfg.N8N.BaseURL, cfg.Webhooks.UserAgent, cfg.N8N.Timeout)

	reg, err := handlers.Default(handlers.Deps{
		Embedder:  embedding.New(cfg.Embedding),
		Chunks:    store,
		Analytics: store,
		Mailer:    mailer,
		Workflow:  workflow,
		Secret:    cfg.Webhooks.Secret,
		HTTP:      &http.Client{Timeout: cfg.Webhooks.Timeout},
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Tasks = usecase.NewTaskManager(a.Redis, reg, cfg.Worker)
	a.Tasks.Notifications = store
	if err := reg.Register(domain.TypeDataCleanup, &handlers.Cleanup{Clean: a.Tasks.CleanupOldTasks}); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Webhooks = usecase.NewWebhookManager(a.Redis, store, store, cfg.Webhooks, cfg.Worker)
	a.Webhooks.Notifications = store
	a.Webhooks.Workflow = workflow
	a.Webhooks.HTTP = &http.Client{}

	return a, nil
}

// Queues resolves the configured worker queues. An empty list means all tiers.
func (a *App) Queues() ([]domain.Priority, error) {
	out := make([]domain.Priority, 0, len(a.Cfg.Worker.Queues))
	for _, q := range a.Cfg.Worker.Queues {
		p, err := domain.ParsePriority(q)
		if err != nil {
			return nil, fmt.Errorf("worker queues: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Mail != nil {
		errs = append(errs, a.Mail.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
