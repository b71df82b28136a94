package store

import (
	"os"
	"path/filepath"
	"strings"

	"opsagent/internal/domain"
)

// ResolvePath expands a configured store path. Relative paths live under
// the user data directory.
func ResolvePath(configured string) string {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		trimmed = domain.DefaultStorePath
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "."+string(filepath.Separator)) {
		return trimmed
	}
	return filepath.Join(dataDir(), trimmed)
}

func dataDir() string {
	base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			base = filepath.Join(home, ".local", "share")
		}
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, "opsagent")
}
