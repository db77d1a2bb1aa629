package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"codadeploy/internal/security"

	"gopkg.in/yaml.v3"
)

const (
	// CloudDomain is appended to the service name to form public hostnames.
	CloudDomain = "cloudapp.net"

	installedCertificateDir = "/etc/ssl/certs"
	installedKeyDir         = "/etc/ssl/private"

	defaultGitHubUser     = "codalab"
	defaultWorksheetsRepo = "codalab-worksheets"
	defaultBundlesRepo    = "codalab-cli"
)

// ErrInvalidConfig is matched by every *Error returned from Load.
var ErrInvalidConfig = errors.New("invalid deployment configuration")

// Error reports why a deployment configuration could not be resolved.
type Error struct {
	Path     string
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("invalid deployment configuration %s", e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Problems) > 0 {
		msg += ":\n  - " + strings.Join(e.Problems, "\n  - ")
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrInvalidConfig }

// File mirrors the YAML deployment file.
type File struct {
	Deployment *Deployment `yaml:"deployment"`
}

// Deployment is the top-level "deployment" section.
type Deployment struct {
	Logging  Logging             `yaml:"logging"`
	Global   *Global             `yaml:"service-global"`
	Services map[string]*Service `yaml:"service-configurations"`
}

// Logging configures the local log output.
type Logging struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	File   string `yaml:"file"`
}

// Global holds settings shared by every environment.
type Global struct {
	Prefix      string      `yaml:"prefix" validate:"required,label"`
	Certificate Certificate `yaml:"certificate"`
	VM          Login       `yaml:"vm"`
	Email       Email       `yaml:"email"`
	AdminEmail  string      `yaml:"admin-email" validate:"required"`
	KnownHosts  string      `yaml:"known-hosts"`
}

// Certificate describes the management certificate. Its key file doubles as the
// SSH private key used to log into the virtual machines.
type Certificate struct {
	Algorithm   string `yaml:"algorithm"`
	Thumbprint  string `yaml:"thumbprint"`
	Format      string `yaml:"format"`
	Filename    string `yaml:"filename"`
	KeyFilename string `yaml:"key-filename" validate:"required"`
	Password    string `yaml:"password"`
}

// Login holds virtual machine credentials.
type Login struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
}

// Email holds the outgoing mail account used by the bundle service.
type Email struct {
	Host     string `yaml:"host" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

// Service holds the settings of one environment label.
type Service struct {
	VM       ServiceVM      `yaml:"vm"`
	Git      GitSource      `yaml:"git"`
	Bundles  GitSource      `yaml:"git-bundles"`
	Django   map[string]any `yaml:"django" validate:"required"`
	Database Database       `yaml:"database"`
	SSL      SSL            `yaml:"ssl"`
}

// ServiceVM sizes the web role.
type ServiceVM struct {
	OSImage  string `yaml:"os-image"`
	Count    int    `yaml:"count" validate:"required,min=1"`
	RoleSize string `yaml:"role-size"`
	SSHPort  int    `yaml:"ssh-port" validate:"required,min=1,max=65535"`
}

// GitSource pins a GitHub repository to a ref.
type GitSource struct {
	User string `yaml:"user"`
	Repo string `yaml:"repo"`
	Tag  string `yaml:"tag"`
}

// Database holds the MySQL credentials.
type Database struct {
	AdminPassword  string `yaml:"admin_password" validate:"required"`
	BundleDBName   string `yaml:"bundle_db_name"`
	BundleUser     string `yaml:"bundle_user"`
	BundlePassword string `yaml:"bundle_password"`
}

// SSL lists local certificate files to install and hosts served over HTTPS.
type SSL struct {
	Filename     string   `yaml:"filename"`
	KeyFilename  string   `yaml:"key-filename"`
	RewriteHosts []string `yaml:"rewrite-hosts"`
}

// Config is the resolved, read-only view of a deployment file for one label.
type Config struct {
	Label   string
	Logging Logging
	Global  Global
	Service Service
}

// Load reads the deployment file at path and resolves the settings for label.
// An empty label resolves the global settings only.
func Load(configPath, label string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &Error{Path: configPath, Err: fmt.Errorf("failed to read config file: %w", err)}
	}
	return Parse(configPath, data, label)
}

// Parse resolves settings for label from YAML data. name is only used in errors.
func Parse(name string, data []byte, label string) (*Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &Error{Path: name, Err: fmt.Errorf("failed to parse YAML config: %w", err)}
	}

	if file.Deployment == nil {
		return nil, &Error{Path: name, Problems: []string{"missing required key deployment"}}
	}
	d := file.Deployment
	if d.Global == nil {
		return nil, &Error{Path: name, Problems: []string{"missing required key deployment.service-global"}}
	}

	cfg := &Config{
		Label:   label,
		Logging: d.Logging,
		Global:  *d.Global,
	}

	var problems []string
	problems = append(problems, validateSection(d.Logging, "deployment.logging")...)
	problems = append(problems, validateSection(d.Global, "deployment.service-global")...)

	if label != "" {
		if err := security.ValidateLabel(label); err != nil {
			problems = append(problems, fmt.Sprintf("invalid label %q: %v", label, err))
		}

		svc, ok := d.Services[label]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("unknown label %q: not found under deployment.service-configurations (available: %s)",
				label, strings.Join(labels(d.Services), ", ")))
		case svc == nil:
			problems = append(problems, fmt.Sprintf("missing required key deployment.service-configurations.%s", label))
		default:
			cfg.Service = *svc
			problems = append(problems, validateSection(svc, "deployment.service-configurations."+label)...)
		}
	}

	if len(problems) > 0 {
		return nil, &Error{Path: name, Problems: problems}
	}

	return cfg, nil
}

func labels(services map[string]*Service) []string {
	out := make([]string, 0, len(services))
	for k := range services {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}

// ServiceName is the cloud service name: prefix followed by label.
func (c *Config) ServiceName() string {
	return c.Global.Prefix + c.Label
}

// ServerName is the primary public hostname of the service.
func (c *Config) ServerName() string {
	return c.ServiceName() + "." + CloudDomain
}

// WebHostnames lists the SSH endpoints of the web instances. The k-th instance
// (1-based) listens on ssh-port + k.
func (c *Config) WebHostnames() []string {
	count := c.Service.VM.Count
	hosts := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		hosts = append(hosts, fmt.Sprintf("%s:%d", c.ServerName(), c.Service.VM.SSHPort+i))
	}
	return hosts
}

// SSLCertificateInstalledPath is where the SSL certificate is installed on the
// instances, or "" when no certificate is configured.
func (c *Config) SSLCertificateInstalledPath() string {
	if c.Service.SSL.Filename == "" {
		return ""
	}
	return path.Join(installedCertificateDir, baseName(c.Service.SSL.Filename))
}

// SSLCertificateKeyInstalledPath is where the SSL key is installed on the
// instances, or "" when no key is configured.
func (c *Config) SSLCertificateKeyInstalledPath() string {
	if c.Service.SSL.KeyFilename == "" {
		return ""
	}
	return path.Join(installedKeyDir, baseName(c.Service.SSL.KeyFilename))
}

// SSLRewriteHosts lists hosts whose HTTP requests are rewritten to HTTPS.
func (c *Config) SSLRewriteHosts() []string {
	return append([]string{}, c.Service.SSL.RewriteHosts...)
}

// DjangoConfiguration is the configuration profile name (e.g. Prod or Dev).
func (c *Config) DjangoConfiguration() string {
	v, _ := c.Service.Django["configuration"].(string)
	return v
}

// WorksheetsRepoURL is the clone URL of the website source tree.
func (c *Config) WorksheetsRepoURL() string {
	return githubURL(c.Service.Git, defaultWorksheetsRepo)
}

// BundlesRepoURL is the clone URL of the bundle service source tree.
func (c *Config) BundlesRepoURL() string {
	return githubURL(c.Service.Bundles, defaultBundlesRepo)
}

// WeakSecrets lists the keys of configured passwords that look weak.
func (c *Config) WeakSecrets() []string {
	secrets := []struct {
		key   string
		value string
	}{
		{"deployment.service-global.vm.password", c.Global.VM.Password},
		{"deployment.service-global.email.password", c.Global.Email.Password},
		{"database.admin_password", c.Service.Database.AdminPassword},
		{"database.bundle_password", c.Service.Database.BundlePassword},
	}

	var weak []string
	for _, s := range secrets {
		if s.value != "" && security.IsWeakSecret(s.value) {
			weak = append(weak, s.key)
		}
	}
	return weak
}

func githubURL(src GitSource, defaultRepo string) string {
	user, repo := src.User, src.Repo
	if user == "" {
		user = defaultGitHubUser
	}
	if repo == "" {
		repo = defaultRepo
	}
	return fmt.Sprintf("https://github.com/%s/%s", user, repo)
}

// baseName handles both local OS paths and forward-slash paths.
func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Base(p)
}
