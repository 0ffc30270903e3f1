// Package match provides pattern matching for log object keys using
// doublestar semantics with prefix derivation for efficient listing.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Normalization rules:
//   - Unescaped backslashes converted to forward slashes (Windows compat)
//   - Escaped backslashes and glob metacharacters preserved (\*, \?, \[, etc.)
//   - Leading slash, trailing slash, and // sequences preserved
//
// This allows Windows users to write patterns like "logs\2026\**\*.log"
// while preserving escape semantics for literal matching.
//
// Examples:
//
//	"logs/2026/**"        → "logs/2026/**"       (unchanged)
//	"logs\2026\**"        → "logs/2026/**"       (backslash → slash)
//	"logs/cron\*.log"     → "logs/cron\*.log"    (escape preserved)
//	"logs\\old\\*"        → "logs/old/*"         (unescaped \ → /)
//	"/logs/2026/**"       → "/logs/2026/**"      (leading slash preserved)
//	"logs//2026/**"       → "logs//2026/**"      (// preserved)
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			// Check if this is an escape sequence for a glob metacharacter
			if strings.ContainsRune(globEscapable, next) {
				// Preserve the escape sequence
				result.WriteRune('\\')
				result.WriteRune(next)
				i++ // Skip the next character
				continue
			}
			// Unescaped backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			// Trailing backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
// Hidden segments follow Unix convention where files/directories
// starting with '.' are considered hidden.
//
// The key is matched as-is without normalization, using '/' as separator.
//
// Examples:
//
//	"jobs/cron.log"          → false
//	".hidden/cron.log"       → true
//	"jobs/.archive/cron.log" → true
//	"jobs/.gitignore"        → true
//	"jobs/cron.log."         → false (dot at end is not hidden)
func IsHidden(key string) bool {
	if key == "" {
		return false
	}

	// Check each segment using / as separator
	// Keys from object storage use / natively
	segments := strings.Split(key, "/")
	for _, seg := range segments {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}

	return false
}
