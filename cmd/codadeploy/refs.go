package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codadeploy/internal/config"
	"codadeploy/internal/deployment"
	"codadeploy/internal/gitref"

	"github.com/spf13/cobra"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Check that the pinned git refs exist on GitHub",
	Long: `Resolve the git refs pinned for a label through the GitHub API.

GITHUB_TOKEN (or GH_TOKEN) is used when set; otherwise requests are anonymous
and subject to the public rate limit.`,
	Args: cobra.NoArgs,
	RunE: runRefs,
}

func runRefs(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	refs, err := gitref.PinnedRefs(s.cfg)
	if err != nil {
		return err
	}

	checker := gitref.NewChecker(gitref.NewClient(ctx, gitref.TokenFromEnv()))
	progress := deployment.NewProgress(cmd.OutOrStdout())

	var failed []error
	for _, res := range checker.Resolve(ctx, refs) {
		if res.Err != nil {
			progress.Fail(res.Ref.String())
			failed = append(failed, res.Err)
			continue
		}
		progress.OK(fmt.Sprintf("%s (%s)", res.Ref, shortSHA(res.SHA)))
	}
	return errors.Join(failed...)
}

// verifyPinnedRefs fails when a pinned ref cannot be resolved on GitHub.
func verifyPinnedRefs(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	refs, err := gitref.PinnedRefs(cfg)
	if err != nil {
		return err
	}

	logger.Info("Verifying pinned refs", "count", len(refs))
	checker := gitref.NewChecker(gitref.NewClient(ctx, gitref.TokenFromEnv()))
	if err := checker.Verify(ctx, refs); err != nil {
		return fmt.Errorf("ref verification failed: %w", err)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
