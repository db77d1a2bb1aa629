package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var migrateDBCmd = &cobra.Command{
	Use:     "migrate-db <revision> [tag]",
	Aliases: []string{"migrate_db"},
	Short:   "Migrate the bundle database to a revision",
	Long: `Check out the bundle service at tag (default: the pinned tag) and migrate
its database to revision. When the upgrade fails a downgrade to the same
revision is attempted.`,
	Example: `  codadeploy --label prod migrate-db head
  codadeploy --label prod migrate-db 1a2b3c4d v0.9.2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMigrateDB,
}

func runMigrateDB(cmd *cobra.Command, args []string) error {
	revision, tag := args[0], ""
	if len(args) == 2 {
		tag = args[1]
	}

	return runTask(cmd, "migrate-db", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.MigrateDB(ctx, revision, tag)
	})
}
