package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the pinned versions behind a maintenance page",
	Long: `Deploy the pinned versions of the website and bundle service.

The site is put into maintenance mode and the supervised processes are stopped
while both checkouts are updated, the generated configuration is installed and
the bundle database is migrated. Processes are then started again and
maintenance mode is lifted.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	return runTask(cmd, "deploy", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.Deploy(ctx)
	})
}
