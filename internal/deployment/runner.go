// Package deployment sequences the remote steps of every deployment task.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"codadeploy/internal/config"
	"codadeploy/internal/remote"
	"codadeploy/pkg/cmdutil"
	"codadeploy/pkg/fileutil"
)

// ErrInvalidArgument marks task arguments rejected before any remote command runs.
var ErrInvalidArgument = errors.New("invalid argument")

// MigrationError reports that both the upgrade and the fallback downgrade failed.
type MigrationError struct {
	Host      string
	Revision  string
	Upgrade   error
	Downgrade error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration to %s failed on %s: upgrade: %v; downgrade: %v", e.Revision, e.Host, e.Upgrade, e.Downgrade)
}

func (e *MigrationError) Unwrap() []error {
	return []error{e.Upgrade, e.Downgrade}
}

// Options configures a Runner.
type Options struct {
	Executor remote.Executor

	// Parallel dispatches each command to all web hosts at once.
	Parallel bool

	Logger *slog.Logger

	// Progress receives one status line per step; nil discards.
	Progress io.Writer

	// ReadFile reads local files such as SSL certificates. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Runner executes deployment tasks against the web role of one label.
type Runner struct {
	cfg      *config.Config
	settings Settings
	web      *remote.Group
	logger   *slog.Logger
	progress *Progress
	readFile func(string) ([]byte, error)
}

// NewRunner binds cfg to an executor.
func NewRunner(cfg *config.Config, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}

	settings := NewSettings(cfg)
	return &Runner{
		cfg:      cfg,
		settings: settings,
		web: &remote.Group{
			Role:     WebRole,
			Hosts:    settings.Hosts(WebRole),
			Executor: opts.Executor,
			Parallel: opts.Parallel,
			Logger:   logger,
		},
		logger:   logger,
		progress: NewProgress(opts.Progress),
		readFile: readFile,
	}
}

// Settings returns the session settings the runner was built with.
func (r *Runner) Settings() Settings {
	return r.settings
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// runSteps executes steps in order and stops at the first failure.
func (r *Runner) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		r.logger.Debug("Starting step", "step", s.name)
		if err := s.fn(ctx); err != nil {
			r.progress.Fail(s.name)
			return fmt.Errorf("%s: %w", s.name, err)
		}
		r.progress.OK(s.name)
	}
	return nil
}

// run builds a step issuing cmds one after another as the login user.
func (r *Runner) run(name string, cmds ...cmdutil.Command) step {
	return step{name, func(ctx context.Context) error {
		for _, cmd := range cmds {
			if err := r.web.Run(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	}}
}

// sudo builds a step issuing cmds one after another with elevated privileges.
func (r *Runner) sudo(name string, cmds ...cmdutil.Command) step {
	return step{name, func(ctx context.Context) error {
		for _, cmd := range cmds {
			if err := r.web.Sudo(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	}}
}

// appEnv wraps cmd with the website virtualenv and session variables.
func (r *Runner) appEnv(cmd cmdutil.Command, maintenance *bool) cmdutil.Command {
	return cmd.Source(r.settings.VirtualenvActivate()).Env(r.settings.ShellEnv(maintenance))
}

// checkout switches a checkout to tag. An empty tag leaves the current ref.
func checkout(tag string) cmdutil.Command {
	if tag == "" {
		return cmdutil.New("git", "checkout")
	}
	return cmdutil.New("git", "checkout", tag)
}

func (r *Runner) readLocal(path string) ([]byte, error) {
	data, err := r.readFile(fileutil.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
