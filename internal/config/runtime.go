package config

import (
	"os"
	"path/filepath"
)

// GetRuntimePath resolves CHATD_RUNTIME_PATH before the full config is
// loaded, so the .env file inside it can be read first.
func GetRuntimePath() string {
	return resolveRuntimePath(os.Getenv("CHATD_RUNTIME_PATH"))
}

func resolveRuntimePath(path string) string {
	if path == "" {
		path = ".chatd"
	}

	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path)
	}
	return path
}
