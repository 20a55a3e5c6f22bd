package cmd

import (
	"hookq/internal/worker"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start task worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Tasks)
		},
	}
}

func webhookWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook-worker",
		Short: "Start webhook event worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Webhooks)
		},
	}
}
