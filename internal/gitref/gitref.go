// Package gitref checks that the git refs pinned in a deployment configuration
// exist on GitHub before any host is touched.
package gitref

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"codadeploy/internal/config"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// ErrRefNotFound is returned when GitHub does not know a pinned ref.
var ErrRefNotFound = errors.New("git ref not found")

// Ref is one pinned ref of a GitHub repository.
type Ref struct {
	Name  string
	Owner string
	Repo  string
	Ref   string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Owner, r.Repo, r.Ref)
}

// Result is the outcome of resolving one Ref.
type Result struct {
	Ref
	SHA string
	Err error
}

// TokenFromEnv returns GITHUB_TOKEN, falling back to GH_TOKEN.
func TokenFromEnv() string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	return os.Getenv("GH_TOKEN")
}

// NewClient creates a GitHub client. Without a token the client is anonymous
// and subject to the public rate limit.
func NewClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// PinnedRefs lists the refs a deployment of cfg checks out. A repository
// without a tag is not pinned and is skipped.
func PinnedRefs(cfg *config.Config) ([]Ref, error) {
	sources := []struct {
		name string
		url  string
		tag  string
	}{
		{"worksheets", cfg.WorksheetsRepoURL(), cfg.Service.Git.Tag},
		{"bundles", cfg.BundlesRepoURL(), cfg.Service.Bundles.Tag},
	}

	var refs []Ref
	for _, src := range sources {
		if src.tag == "" {
			continue
		}
		owner, repo, err := ownerRepo(src.url)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Ref{Name: src.name, Owner: owner, Repo: repo, Ref: src.tag})
	}
	return refs, nil
}

func ownerRepo(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository URL %s: %w", rawURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Host != "github.com" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid owner/repo format: %s", rawURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Checker resolves refs through the GitHub API.
type Checker struct {
	client *github.Client
}

// NewChecker wraps client.
func NewChecker(client *github.Client) *Checker {
	return &Checker{client: client}
}

// Resolve looks up every ref in order. Failures are reported per ref.
func (c *Checker) Resolve(ctx context.Context, refs []Ref) []Result {
	results := make([]Result, 0, len(refs))
	for _, ref := range refs {
		sha, _, err := c.client.Repositories.GetCommitSHA1(ctx, ref.Owner, ref.Repo, ref.Ref, "")
		if err != nil {
			var ghErr *github.ErrorResponse
			if errors.As(err, &ghErr) && ghErr.Response != nil &&
				(ghErr.Response.StatusCode == http.StatusNotFound || ghErr.Response.StatusCode == http.StatusUnprocessableEntity) {
				err = fmt.Errorf("%s: %w", ref, ErrRefNotFound)
			} else {
				err = fmt.Errorf("resolving %s: %w", ref, err)
			}
		}
		results = append(results, Result{Ref: ref, SHA: sha, Err: err})
	}
	return results
}

// Verify fails when any ref cannot be resolved.
func (c *Checker) Verify(ctx context.Context, refs []Ref) error {
	var errs []error
	for _, res := range c.Resolve(ctx, refs) {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
