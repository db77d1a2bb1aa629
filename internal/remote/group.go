package remote

import (
	"context"
	"fmt"
	"log/slog"

	"codadeploy/pkg/cmdutil"

	"golang.org/x/sync/errgroup"
)

// Group fans operations out to every host of a role.
//
// Each call is a barrier: it returns only after every host has finished or
// one has failed. In sequential mode hosts are visited in roster order and the
// first failure stops the remaining hosts.
type Group struct {
	Role     string
	Hosts    []string
	Executor Executor
	Parallel bool
	Logger   *slog.Logger
}

// Run executes cmd as the login user on every host.
func (g *Group) Run(ctx context.Context, cmd cmdutil.Command) error {
	return g.run(ctx, cmd, RunOptions{})
}

// Sudo executes cmd with elevated privileges on every host.
func (g *Group) Sudo(ctx context.Context, cmd cmdutil.Command) error {
	return g.run(ctx, cmd, RunOptions{Sudo: true})
}

// Put uploads content to remotePath on every host.
func (g *Group) Put(ctx context.Context, content []byte, remotePath string, opts PutOptions) error {
	return g.Each(ctx, func(ctx context.Context, host string) error {
		g.logger().Info("Uploading file", "host", host, "path", remotePath, "sudo", opts.Sudo)
		if err := g.Executor.Put(ctx, host, content, remotePath, opts); err != nil {
			return fmt.Errorf("upload of %s to %s failed: %w", remotePath, host, err)
		}
		return nil
	})
}

// Each calls fn once per host with the same barrier semantics as Run.
func (g *Group) Each(ctx context.Context, fn func(ctx context.Context, host string) error) error {
	if !g.Parallel || len(g.Hosts) < 2 {
		for _, host := range g.Hosts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, host); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, host := range g.Hosts {
		host := host
		eg.Go(func() error {
			return fn(egCtx, host)
		})
	}
	return eg.Wait()
}

func (g *Group) run(ctx context.Context, cmd cmdutil.Command, opts RunOptions) error {
	return g.Each(ctx, func(ctx context.Context, host string) error {
		g.logger().Info("Running command", "role", g.Role, "host", host, "sudo", opts.Sudo, "command", cmd.Redacted())
		if _, err := g.Executor.Run(ctx, host, cmd, opts); err != nil {
			return err
		}
		return nil
	})
}

func (g *Group) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
