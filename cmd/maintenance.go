package cmd

import (
	"context"
	"fmt"
	"hookq/internal/app"
	"hookq/internal/config"
	"hookq/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	var days int
	var command = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished task records older than the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			worker.SetLogLevel(cfg.LogLevel)
			ctx := log.Logger.WithContext(context.Background())

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Tasks.CleanupOldTasks(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d task records\n", n)
			return nil
		},
	}

	command.Flags().IntVar(&days, "max-age-days", 7, "Delete records completed more than this many days ago")
	return command
}

func endpointsCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "endpoints",
		Short: "Manage webhook endpoints",
	}

	command.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update endpoints from a YAML registry file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			worker.SetLogLevel(cfg.LogLevel)
			ctx := log.Logger.WithContext(context.Background())

			endpoints, err := config.LoadEndpoints(args[0])
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, ep := range endpoints {
				if err := a.Store.UpsertEndpoint(ctx, ep); err != nil {
					return fmt.Errorf("endpoint %s: %w", ep.ID, err)
				}
				log.Info().Str("endpoint_id", ep.ID).Str("url", ep.URL).Bool("active", ep.Active).Msg("endpoint imported")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d endpoints\n", len(endpoints))
			return nil
		},
	})
	return command
}
