package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codadeploy/internal/config"
	"codadeploy/internal/deployment"
	"codadeploy/internal/history"
	"codadeploy/internal/remote"
	"codadeploy/internal/security"
	"codadeploy/pkg/cmdutil"
	"codadeploy/pkg/fileutil"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const configFileName = "deployment.config"

// session is the state shared by a single command invocation.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	runID    string
}

func (s *session) Close() error {
	return s.closeLog()
}

// openSession resolves the configuration file, loads it for the current label
// and sets up logging.
func openSession() (*session, error) {
	if label == "" {
		return nil, errors.New("no label given: use --label or set CODADEPLOY_LABEL")
	}

	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path, label)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := setupLogging(cfg.Logging, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID)
	logger.Debug("Loaded configuration", "config", path, "label", cfg.Label)

	return &session{cfg: cfg, logger: logger, closeLog: closeLog, runID: runID}, nil
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return fileutil.ExpandHome(configPath), nil
	}

	searchPaths := fileutil.DefaultConfigPaths(configFileName)
	if path := fileutil.SearchPathsOptional(searchPaths); path != "" {
		return path, nil
	}

	var b strings.Builder
	b.WriteString("configuration file not found in default locations:")
	for _, path := range searchPaths {
		fmt.Fprintf(&b, "\n  - %s", path)
	}
	b.WriteString("\nUse --config or CODADEPLOY_CONFIG to specify a custom location")
	return "", errors.New(b.String())
}

// setupLogging configures slog from the logging section of the deployment
// file. Logs go to stderr and, when a file is configured, to that file too.
// The returned function closes the log file.
func setupLogging(cfg config.Logging, verbose bool) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	closeLog := func() error { return nil }

	if cfg.File != "" {
		logPath := fileutil.ExpandHome(cfg.File)

		// Create log directory if needed
		if err := security.CreateSecureDir(filepath.Dir(logPath), security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := security.CreateSecureFile(logPath, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		out = io.MultiWriter(os.Stderr, file)
		closeLog = file.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closeLog, nil
}

// newExecutor returns the dry-run recorder or an SSH executor for the
// configured login.
func newExecutor(s *session, out io.Writer) (remote.Executor, error) {
	if dryRun {
		return remote.NewDryRun(out), nil
	}

	global := s.cfg.Global
	return remote.NewSSHExecutor(remote.SSHConfig{
		User:          global.VM.Username,
		Password:      global.VM.Password,
		KeyFile:       global.Certificate.KeyFilename,
		KeyPassphrase: global.Certificate.Password,
		KnownHosts:    global.KnownHosts,
		Output:        out,
		Logger:        s.logger,
	})
}

func defaultHistoryPath() string {
	dir := fileutil.StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "history.db")
}

func lockDir() string {
	dir := fileutil.StateDir()
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fileutil.StateDirName)
	}
	return filepath.Join(dir, "locks")
}

// openHistory opens the run history database, creating it with restricted
// permissions. It returns nil when history is disabled.
func openHistory(path string) (*history.History, error) {
	if path == "" {
		return nil, nil
	}
	path = fileutil.ExpandHome(path)

	if err := security.CreateSecureDir(filepath.Dir(path), security.PermDirectory); err != nil {
		return nil, err
	}
	if !fileutil.FileExists(path) {
		f, err := security.CreateSecureFile(path, security.PermDBFile)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	return history.NewHistory(path)
}

type taskFunc func(ctx context.Context, r *deployment.Runner) error

// runTask runs one deployment task for the current label. The label is locked
// for the duration of the task and the run is recorded in the history.
func runTask(cmd *cobra.Command, task string, args []string, fn taskFunc) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	logger := s.logger.With("task", task, "label", s.cfg.Label)

	if verifyRefs {
		if err := verifyPinnedRefs(ctx, s.cfg, logger); err != nil {
			return err
		}
	}

	if !dryRun {
		release, err := deployment.NewLockManager(lockDir()).TryLock(s.cfg.Label, s.runID)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(); err != nil {
				logger.Warn("Failed to release lock", "error", err)
			}
		}()
	}

	exec, err := newExecutor(s, out)
	if err != nil {
		return err
	}
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Warn("Failed to close connections", "error", err)
		}
	}()

	runner := deployment.NewRunner(s.cfg, deployment.Options{
		Executor: exec,
		Parallel: parallel,
		Logger:   logger,
		Progress: out,
	})
	hosts := runner.Settings().Hosts(deployment.WebRole)

	hist, err := openHistory(historyPath)
	if err != nil {
		logger.Warn("Run history unavailable", "db", historyPath, "error", err)
		hist = nil
	}
	if hist != nil {
		defer hist.Close()
	}

	start := time.Now()
	var recordID int64
	if hist != nil {
		recordID, err = hist.StartRun(ctx, &history.RunRecord{
			RunID:     s.runID,
			Label:     s.cfg.Label,
			Task:      task,
			Command:   cmdutil.FormatCommand(append([]string{task}, args...)),
			Hosts:     strings.Join(hosts, ","),
			DryRun:    dryRun,
			StartedAt: start,
		})
		if err != nil {
			logger.Warn("Failed to record run", "error", err)
			hist = nil
		}
	}

	logger.Info("Starting task", "hosts", hosts, "dry_run", dryRun, "parallel", parallel)
	taskErr := fn(ctx, runner)
	duration := time.Since(start)

	if hist != nil {
		if err := hist.FinishRun(context.WithoutCancel(ctx), recordID, duration, taskErr); err != nil {
			logger.Warn("Failed to record run result", "error", err)
		}
	}

	if taskErr != nil {
		logger.Error("Task failed", "duration", duration, "error", taskErr)
		return fmt.Errorf("%s failed: %w", task, taskErr)
	}

	logger.Info("Task completed", "duration", duration)
	return nil
}
