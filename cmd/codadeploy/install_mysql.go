package main

import (
	"context"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var installMySQLCmd = &cobra.Command{
	Use:     "install-mysql [mysql|bundles_db|all]",
	Aliases: []string{"install_mysql"},
	Short:   "Install MySQL and create the bundle service database",
	Long: `Install a local MySQL server and/or create the bundle service database.

Choices:
  mysql       install the server and set the root password
  bundles_db  create the bundle database and user (requires exactly one web instance)
  all         both (default)`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{deployment.ChoiceMySQL, deployment.ChoiceBundlesDB, deployment.ChoiceAll},
	RunE:      runInstallMySQL,
}

func runInstallMySQL(cmd *cobra.Command, args []string) error {
	choice := deployment.ChoiceAll
	if len(args) == 1 {
		choice = args[0]
	}

	return runTask(cmd, "install-mysql", args, func(ctx context.Context, r *deployment.Runner) error {
		return r.InstallMySQL(ctx, choice)
	})
}
