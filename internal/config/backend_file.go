//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to fallback under $HOME.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, fallback)
}

func defaultLogFile() string {
	return filepath.Join(xdgDir("XDG_STATE_HOME", ".local/state"), "analyst", "analyst.log")
}

func apiKeyHint() string { return "" }

func newPlatformStore() store {
	return newFileStore(filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "analyst", "config.json"))
}
