package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Provision the web instances and deploy",
	Long: `Provision every web instance of the label from scratch and deploy.

This command:
- Installs system packages (git, supervisor, nginx, node.js)
- Clones the worksheets and bundle service repositories (skipped when present)
- Checks out the pinned tags and runs their setup scripts
- Runs the core deployment`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	return runTask(cmd, "install", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.Install(ctx)
	})
}
