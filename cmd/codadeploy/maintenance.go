package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:       "maintenance <begin|end>",
	Short:     "Turn the maintenance page on or off",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"begin", "end"},
	RunE:      runMaintenance,
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	return runTask(cmd, "maintenance", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.Maintenance(ctx, args[0])
	})
}
