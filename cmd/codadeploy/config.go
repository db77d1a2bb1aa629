package main

import (
	"fmt"
	"io"
	"strings"

	"codadeploy/internal/config"
	"codadeploy/internal/deployment"
	"codadeploy/pkg/fileutil"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved settings of a label",
	Long: `Show the settings resolved for a label and check them.

Secrets are never printed. Missing local SSL files and weak passwords are
reported as warnings.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	printConfig(out, s.cfg)

	progress := deployment.NewProgress(out)
	for _, local := range []string{s.cfg.Service.SSL.Filename, s.cfg.Service.SSL.KeyFilename} {
		if local != "" && !fileutil.FileExists(fileutil.ExpandHome(local)) {
			progress.Warn(fmt.Sprintf("SSL file %s does not exist", local))
		}
	}
	for _, key := range s.cfg.WeakSecrets() {
		progress.Warn(fmt.Sprintf("%s looks weak", key))
	}
	return nil
}

func printConfig(out io.Writer, cfg *config.Config) {
	settings := deployment.NewSettings(cfg)
	db := cfg.Service.Database

	row := func(name, value string) {
		fmt.Fprintf(out, "%-20s %s\n", name+":", value)
	}

	row("Label", cfg.Label)
	row("Service name", cfg.ServiceName())
	row("Server name", cfg.ServerName())
	row("Web hosts", strings.Join(settings.Hosts(deployment.WebRole), ", "))
	row("SSH user", settings.User)
	row("Worksheets", pinned(settings.WorksheetsRepo, settings.WorksheetsTag))
	row("Bundle service", pinned(settings.BundlesRepo, settings.BundlesTag))
	row("Django", settings.DjangoConfiguration)
	row("Bundle database", orNone(db.BundleDBName))
	row("Bundle user", orNone(db.BundleUser))
	row("SSL certificate", orNone(cfg.SSLCertificateInstalledPath()))
	row("SSL key", orNone(cfg.SSLCertificateKeyInstalledPath()))
	row("SSL rewrite hosts", orNone(strings.Join(cfg.SSLRewriteHosts(), ", ")))
}

func pinned(repo, tag string) string {
	if tag == "" {
		return repo + " (unpinned)"
	}
	return repo + " @ " + tag
}

func orNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
