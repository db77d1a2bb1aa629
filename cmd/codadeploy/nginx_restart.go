package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var nginxRestartCmd = &cobra.Command{
	Use:     "nginx-restart",
	Aliases: []string{"nginx_restart"},
	Short:   "Restart nginx on the web instances",
	Args:    cobra.NoArgs,
	RunE:    runNginxRestart,
}

func runNginxRestart(cmd *cobra.Command, args []string) error {
	return runTask(cmd, "nginx-restart", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.NginxRestart(ctx)
	})
}
