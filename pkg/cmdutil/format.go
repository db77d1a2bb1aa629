package cmdutil

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// redactedMarker replaces secrets in logged text.
const redactedMarker = "***REDACTED***"

// redactedPlaceholder stands in for a secret while arguments are quoted; it
// contains no characters the shell quoter escapes.
const redactedPlaceholder = "__codadeploy_redacted__"

// FormatCommand formats command parts into a readable string for logging.
// Example: ["migrate-db", "head", "v1 rc"] -> "migrate-db head 'v1 rc'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	// Quote arguments that contain spaces or special characters
	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if part == "" || strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput removes sensitive information from command output.
// This is useful for logging command output without exposing secrets.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, redactedMarker)
		}
	}
	return []byte(sanitized)
}
