package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	gitURLPattern     = regexp.MustCompile(`^https://github\.com/[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+(?:\.git)?$`)
	gitRefPattern     = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	labelPattern      = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	revisionPattern   = regexp.MustCompile(`^[a-zA-Z0-9_@.+-]+$`)
)

// ValidateGitURL ensures URL is safe for git clone operations.
// Only HTTPS GitHub URLs are allowed to prevent command injection.
func ValidateGitURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" || u.Host != "github.com" {
		return fmt.Errorf("only GitHub HTTPS URLs allowed, got %s://%s", u.Scheme, u.Host)
	}

	if !gitURLPattern.MatchString(rawURL) || strings.Contains(rawURL, "..") {
		return fmt.Errorf("URL contains invalid characters or format")
	}

	return nil
}

// ValidateGitRef ensures a branch, tag or commit name is safe to hand to git.
func ValidateGitRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("git ref cannot be empty")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("git ref cannot start with '-'")
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("git ref cannot contain '..'")
	}
	if !gitRefPattern.MatchString(ref) {
		return fmt.Errorf("git ref contains invalid characters")
	}
	return nil
}

// ValidateLabel ensures an environment label can be used in a cloud service name.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if strings.HasPrefix(label, "-") {
		return fmt.Errorf("label cannot start with '-'")
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("label contains invalid characters (only a-z, A-Z, 0-9, - allowed)")
	}
	return nil
}

// ValidateSQLIdentifier ensures a database or user name can be embedded in SQL unquoted.
func ValidateSQLIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("identifier too long (maximum 64 characters, got %d)", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains invalid characters (only a-z, A-Z, 0-9, _ allowed)", name)
	}
	return nil
}

// ValidateRevision ensures a migration revision (e.g. "head", "1a2b3c", "+1", "abc@head")
// is safe to pass to the migration tool.
func ValidateRevision(rev string) error {
	if rev == "" {
		return fmt.Errorf("revision cannot be empty")
	}
	if strings.HasPrefix(rev, "--") {
		return fmt.Errorf("revision cannot start with '--'")
	}
	if !revisionPattern.MatchString(rev) {
		return fmt.Errorf("revision contains invalid characters")
	}
	return nil
}

// QuoteSQLString renders s as a single-quoted SQL string literal.
func QuoteSQLString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}
