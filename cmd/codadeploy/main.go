package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var (
	configPath  string
	label       string
	dryRun      bool
	parallel    bool
	verifyRefs  bool
	historyPath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "codadeploy",
	Short: "CodaLab web service deployment automation",
	Long: `Codadeploy provisions and updates the web instances of a CodaLab service over SSH.

Settings are read from a YAML deployment file and resolved for one environment
label. Every task runs a fixed sequence of remote commands against the hosts of
the web role and stops at the first failure.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

const (
	groupTasks = "tasks"
	groupInfo  = "info"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Set custom usage template to encourage 'help' subcommand pattern
	rootCmd.SetUsageTemplate(usageTemplate)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", getEnvOrDefault("CODADEPLOY_CONFIG", ""), "Path to the deployment configuration file")
	flags.StringVarP(&label, "label", "l", getEnvOrDefault("CODADEPLOY_LABEL", ""), "Environment label under service-configurations")
	flags.BoolVar(&dryRun, "dry-run", false, "Print remote commands instead of executing them")
	flags.BoolVar(&parallel, "parallel", os.Getenv("CODADEPLOY_PARALLEL") == "1", "Run each command on all web hosts concurrently")
	flags.BoolVar(&verifyRefs, "verify-refs", false, "Check that pinned git refs exist on GitHub before running")
	flags.StringVar(&historyPath, "history", getEnvOrDefault("CODADEPLOY_HISTORY", defaultHistoryPath()), "Path to the run history database (empty disables)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupTasks, Title: "Deployment Tasks:"},
		&cobra.Group{ID: groupInfo, Title: "Inspection Commands:"},
	)

	// Register subcommands
	for _, cmd := range []*cobra.Command{
		installCmd,
		installMySQLCmd,
		deployCmd,
		migrateDBCmd,
		maintenanceCmd,
		supervisorCmd,
		nginxRestartCmd,
	} {
		cmd.GroupID = groupTasks
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		hostsCmd,
		configCmd,
		websiteConfigCmd,
		refsCmd,
		historyCmd,
	} {
		cmd.GroupID = groupInfo
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(versionCmd)
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
