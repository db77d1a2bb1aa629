// Package remote runs shell commands and uploads files on the hosts of a role.
package remote

import (
	"context"
	"fmt"
	"os"
	"time"

	"codadeploy/pkg/cmdutil"
)

// RunOptions controls how a command is executed.
type RunOptions struct {
	// Sudo runs the command with elevated privileges.
	Sudo bool
}

// PutOptions controls how a file is uploaded.
type PutOptions struct {
	// Sudo places the file with elevated privileges.
	Sudo bool

	// Mode is applied to the uploaded file when non-zero.
	Mode os.FileMode
}

// Result is the outcome of a successful remote command.
type Result struct {
	Host     string
	Output   string
	Duration time.Duration
}

// Executor runs commands on a single host at a time. Implementations must be
// safe for concurrent use across different hosts.
type Executor interface {
	Run(ctx context.Context, host string, cmd cmdutil.Command, opts RunOptions) (*Result, error)
	Put(ctx context.Context, host string, content []byte, remotePath string, opts PutOptions) error
	Close() error
}

// CommandError reports a remote command that exited non-zero.
type CommandError struct {
	Host     string
	Command  string // redacted
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed on %s with exit code %d: %s", e.Host, e.ExitCode, e.Command)
}
