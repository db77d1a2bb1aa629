package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var supervisorCmd = &cobra.Command{
	Use:       "supervisor <start|stop|restart>",
	Short:     "Control the supervised application processes",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"start", "stop", "restart"},
	RunE:      runSupervisor,
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	return runTask(cmd, "supervisor", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.Supervisor(ctx, args[0])
	})
}
