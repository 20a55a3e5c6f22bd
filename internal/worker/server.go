package worker

import (
	"context"
	"hookq/internal/app"
	"hookq/internal/config"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind selects which loop a worker process runs.
type Kind string

const (
	Tasks    Kind = "tasks"
	Webhooks Kind = "webhooks"
)

// Run starts a worker of the given kind and blocks until SIGINT or SIGTERM,
// after which in-flight work is drained within the configured grace period.
func Run(kind Kind) error {
	cfg := config.Load()
	SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.With().Str("worker", string(kind)).Logger().WithContext(ctx)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("closing dependencies")
		}
	}()

	switch kind {
	case Webhooks:
		return a.Webhooks.Run(ctx)
	default:
		queues, err := a.Queues()
		if err != nil {
			return err
		}
		return a.Tasks.Run(ctx, queues)
	}
}

// SetLogLevel applies a configured level name, falling back to info.
func SetLogLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}
