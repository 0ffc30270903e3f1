package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// Basic cases
		{"empty string", "", ""},
		{"simple path", "jobs/cron/batch.log", "jobs/cron/batch.log"},
		{"glob pattern", "logs/**/*.log", "logs/**/*.log"},

		// Backslash to forward slash conversion (Windows compat)
		{"backslashes converted", "logs\\cron\\batch.log", "logs/cron/batch.log"},
		{"mixed slashes", "logs\\cron/batch.log", "logs/cron/batch.log"},
		{"trailing backslash", "logs\\cron\\", "logs/cron/"},

		// Escape sequences preserved
		{"escaped asterisk", "logs/file\\*.log", "logs/file\\*.log"},
		{"escaped question", "logs/file\\?.log", "logs/file\\?.log"},
		{"escaped bracket", "logs/file\\[0-9\\].log", "logs/file\\[0-9\\].log"},
		{"escaped brace", "logs/file\\{a,b\\}.log", "logs/file\\{a,b\\}.log"},
		{"escaped backslash", "logs/file\\\\.log", "logs/file\\\\.log"},

		// Mixed escapes and path separators
		{"windows path with escape", "logs\\2026\\file\\*.log", "logs/2026/file\\*.log"},
		{"escape at end", "logs\\file\\*", "logs/file\\*"},

		// Leading slash and // preserved (pattern identity)
		{"leading slash preserved", "/logs/cron/batch.log", "/logs/cron/batch.log"},
		{"double slashes preserved", "logs//cron//batch.log", "logs//cron//batch.log"},
		{"leading double slash preserved", "//logs/cron/batch.log", "//logs/cron/batch.log"},

		// Edge cases
		{"single backslash", "\\", "/"},
		{"double backslash", "\\\\", "\\\\"}, // \\ is escaped backslash
		{"only slashes", "///", "///"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizePattern(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected bool
	}{
		{"empty string", "", false},
		{"regular file", "jobs/cron/batch.log", false},
		{"hidden file", "jobs/cron/.hidden", true},
		{"hidden directory", ".hidden/batch.log", true},
		{"hidden in middle", "jobs/.hidden/batch.log", true},
		{"dot at end", "jobs/cron/batch.log.", false},
		{"double dot", "jobs/../batch.log", true},
		{"gitignore", "jobs/cron/.gitignore", true},
		{"dot only segment", "jobs/./batch.log", true},
		{"aws hidden", ".aws/credentials", true},
		{"rotated temp", "_rotating/batch.log", false}, // underscore is not hidden

		// Keys with backslashes are NOT normalized - treated as opaque
		// The backslash is just another character in the key
		{"backslash in key not hidden", "jobs\\.hidden\\batch.log", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsHidden(tt.key)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Benchmark for NormalizePattern since it's called frequently
func BenchmarkNormalizePattern(b *testing.B) {
	pattern := "logs\\2026\\**\\*.log"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NormalizePattern(pattern)
	}
}

func BenchmarkNormalizePattern_NoChange(b *testing.B) {
	pattern := "logs/2026/**/*.log"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NormalizePattern(pattern)
	}
}

// Benchmark for IsHidden since it's called per object
func BenchmarkIsHidden(b *testing.B) {
	key := "hosts/web01/jobs/cron/batch.log"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		IsHidden(key)
	}
}

func BenchmarkIsHidden_Hidden(b *testing.B) {
	key := "hosts/web01/.jobs/cron/batch.log"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		IsHidden(key)
	}
}
