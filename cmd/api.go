package cmd

import (
	"context"
	"hookq/internal/api"
	"hookq/internal/app"
	"hookq/internal/config"
	"hookq/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			worker.SetLogLevel(cfg.LogLevel)
			if !cmd.Flags().Changed("port") {
				port = cfg.API.Port
			}

			a, err := app.New(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Str("redis", cfg.Redis.Addr).Str("sqlite", cfg.SQLite.Path).Msg("API server dependencies ready")
			server := api.NewServer(a.Tasks, a.Webhooks, a.Redis, cfg.Webhooks.Secret)
			server.Run(port)
			return nil
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
