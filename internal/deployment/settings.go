package deployment

import (
	"codadeploy/internal/config"
)

const (
	// WebRole names the hosts serving the website and the bundle service.
	WebRole = "web"

	worksheetsDir        = "codalab-worksheets"
	bundlesDir           = "codalab-cli"
	djangoSettingsModule = "codalab.settings"
	configHTTPPort       = "80"
)

// Settings is the per-invocation session state derived once from a resolved
// configuration. It is passed by value and never modified.
type Settings struct {
	Label string
	Roles map[string][]string

	User     string
	Password string
	KeyFile  string

	WorksheetsTag  string
	WorksheetsDir  string
	WorksheetsRepo string
	BundlesTag     string
	BundlesDir     string
	BundlesRepo    string

	DjangoSettingsModule string
	DjangoConfiguration  string
	HTTPPort             string
	ServerName           string
}

// NewSettings derives session settings from cfg.
func NewSettings(cfg *config.Config) Settings {
	return Settings{
		Label: cfg.Label,
		Roles: map[string][]string{WebRole: cfg.WebHostnames()},

		User:     cfg.Global.VM.Username,
		Password: cfg.Global.VM.Password,
		KeyFile:  cfg.Global.Certificate.KeyFilename,

		WorksheetsTag:  cfg.Service.Git.Tag,
		WorksheetsDir:  worksheetsDir,
		WorksheetsRepo: cfg.WorksheetsRepoURL(),
		BundlesTag:     cfg.Service.Bundles.Tag,
		BundlesDir:     bundlesDir,
		BundlesRepo:    cfg.BundlesRepoURL(),

		DjangoSettingsModule: djangoSettingsModule,
		DjangoConfiguration:  cfg.DjangoConfiguration(),
		HTTPPort:             configHTTPPort,
		ServerName:           cfg.ServerName(),
	}
}

// Hosts returns the roster of role.
func (s Settings) Hosts(role string) []string {
	return append([]string(nil), s.Roles[role]...)
}

// VirtualenvActivate is the activation script of the website virtualenv.
func (s Settings) VirtualenvActivate() string {
	return "~/" + s.WorksheetsDir + "/venv/bin/activate"
}

// ShellEnv returns the variables exported to remote application commands.
// MAINTENANCE_MODE is only set when maintenance is non-nil.
func (s Settings) ShellEnv(maintenance *bool) map[string]string {
	env := map[string]string{
		"DJANGO_SETTINGS_MODULE": s.DjangoSettingsModule,
		"DJANGO_CONFIGURATION":   s.DjangoConfiguration,
		"CONFIG_HTTP_PORT":       s.HTTPPort,
		"CONFIG_SERVER_NAME":     s.ServerName,
	}
	if maintenance != nil {
		env["MAINTENANCE_MODE"] = "0"
		if *maintenance {
			env["MAINTENANCE_MODE"] = "1"
		}
	}
	return env
}
