package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "hookq",
		Short: "Background task queue and webhook event pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(apiCmd())
	command.AddCommand(workerCmd())
	command.AddCommand(webhookWorkerCmd())
	command.AddCommand(cleanupCmd())
	command.AddCommand(endpointsCmd())
	return command
}

func Run() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}
