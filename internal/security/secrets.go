package security

import (
	"math"
	"strings"
)

// MinPasswordLength is the length below which a configured password is reported as weak.
const MinPasswordLength = 12

var placeholderSecrets = map[string]bool{
	"replace-with-secret": true,
	"topsecret":           true,
	"secret":              true,
	"password":            true,
	"changeme":            true,
	"root":                true,
	"admin":               true,
}

// IsWeakSecret performs a quick check if a secret is obviously weak.
// Used to warn about configured passwords without failing the deployment.
func IsWeakSecret(secret string) bool {
	if len(secret) < MinPasswordLength {
		return true
	}

	if placeholderSecrets[strings.ToLower(secret)] {
		return true
	}

	// All same character
	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}

	if isSequential(secret) {
		return true
	}

	return calculateEntropy(secret) < 2.5
}

// calculateEntropy computes the Shannon entropy of a string.
// Returns a value between 0 (completely predictable) and ~8 (maximum entropy for byte strings).
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))

	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// isSequential checks if a string consists of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	// More than 70% sequential characters
	return float64(sequential) > float64(len(s))*0.7
}
