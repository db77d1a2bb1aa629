package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"codadeploy/pkg/cmdutil"
)

// Invocation is one call recorded by DryRun.
type Invocation struct {
	Host string
	Sudo bool

	// Command is the redacted command line; empty for uploads.
	Command string

	// Upload fields; empty for commands.
	RemotePath string
	Mode       os.FileMode
	Content    []byte
}

// IsPut reports whether the invocation is an upload.
func (i Invocation) IsPut() bool {
	return i.RemotePath != ""
}

// DryRun records what would be executed without contacting any host.
type DryRun struct {
	mu    sync.Mutex
	out   io.Writer
	calls []Invocation
}

// NewDryRun creates a recorder that prints each invocation to out.
// A nil out records silently.
func NewDryRun(out io.Writer) *DryRun {
	return &DryRun{out: out}
}

func (d *DryRun) Run(ctx context.Context, host string, cmd cmdutil.Command, opts RunOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.record(Invocation{Host: host, Sudo: opts.Sudo, Command: cmd.Redacted()})
	return &Result{Host: host}, nil
}

func (d *DryRun) Put(ctx context.Context, host string, content []byte, remotePath string, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.record(Invocation{
		Host:       host,
		Sudo:       opts.Sudo,
		RemotePath: remotePath,
		Mode:       opts.Mode,
		Content:    append([]byte(nil), content...),
	})
	return nil
}

func (d *DryRun) Close() error { return nil }

// Invocations returns a copy of everything recorded so far, in call order.
func (d *DryRun) Invocations() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Invocation(nil), d.calls...)
}

// Commands returns the recorded command lines, skipping uploads.
func (d *DryRun) Commands() []string {
	var out []string
	for _, inv := range d.Invocations() {
		if !inv.IsPut() {
			out = append(out, inv.Command)
		}
	}
	return out
}

func (d *DryRun) record(inv Invocation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, inv)
	if d.out == nil {
		return
	}

	verb := "run"
	if inv.Sudo {
		verb = "sudo"
	}
	if inv.IsPut() {
		fmt.Fprintf(d.out, "[%s] put: %s (%d bytes, mode %04o)\n", inv.Host, inv.RemotePath, len(inv.Content), inv.Mode)
		return
	}
	fmt.Fprintf(d.out, "[%s] %s: %s\n", inv.Host, verb, inv.Command)
}
