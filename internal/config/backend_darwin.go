//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.sia.analyst"

func defaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "analyst.log"
	}
	return filepath.Join(home, "Library", "Logs", "analyst", "analyst.log")
}

func apiKeyHint() string {
	return " or macOS Keychain (service: analyst, account: identity_api_key)"
}

func newPlatformStore() store { return defaultsStore(defaultsDomain) }

// defaultsStore keeps settings in UserDefaults through the defaults tool.
type defaultsStore string

func (d defaultsStore) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", string(d), key).CombinedOutput()
	val := strings.TrimSpace(string(out))
	var exit *exec.ExitError
	switch {
	case err == nil:
		return val, true, nil
	case errors.As(err, &exit) && exit.ExitCode() == 1:
		// key not set
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, val)
	}
}

func (d defaultsStore) Set(key, val string) error {
	return exec.Command("defaults", "write", string(d), key, "-string", val).Run()
}

func (d defaultsStore) Delete(key string) error {
	return exec.Command("defaults", "delete", string(d), key).Run()
}
