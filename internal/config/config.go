package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend  BackendConfig
	Identity IdentityConfig
	Log      LogConfig
	Stub     StubConfig
	Tracing  TracingConfig
}

type BackendConfig struct {
	URL string
}

type IdentityConfig struct {
	AuthURL  string
	TokenURL string
	APIKey   string
}

type LogConfig struct {
	Level string
	File  string
}

type StubConfig struct {
	Port    int
	DataDir string
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

const (
	secretService    = "analyst"
	secretAPIKeyName = "identity_api_key"
)

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			URL: "http://localhost:8080",
		},
		Identity: IdentityConfig{
			AuthURL:  "https://identitytoolkit.googleapis.com/v1",
			TokenURL: "https://securetoken.googleapis.com/v1",
		},
		Log: LogConfig{
			Level: "info",
			File:  defaultLogFile(),
		},
		Stub: StubConfig{
			Port:    8080,
			DataDir: ":memory:",
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4318",
		},
	}
}

// Load reads configuration from a .env file in the working directory, the
// platform-native backend, environment variables and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.sia.analyst) and the
// identity API key may live in the login Keychain.
// Elsewhere the backend is a JSON file at $XDG_CONFIG_HOME/analyst/config.json
// and secrets live in $XDG_DATA_HOME/analyst/secrets.json.
//
// Environment variables (ANALYST_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		warn("reading .env: %v", err)
	}
	return loadWith(newPlatformStore(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(st store, kc keychain) (Config, error) {
	cfg := defaults()
	if err := applyStore(&cfg, st); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	if cfg.Identity.APIKey == "" {
		if key, err := kc.Get(secretService, secretAPIKeyName); err == nil && key != "" {
			cfg.Identity.APIKey = key
		}
	}

	return cfg, nil
}

// RequireIdentity reports a descriptive error when the identity provider
// cannot be reached because its API key is missing.
func (c Config) RequireIdentity() error {
	if c.Identity.APIKey != "" {
		return nil
	}
	return fmt.Errorf("missing required config: identity API key. "+
		"Set it via environment variable ANALYST_IDENTITY_API_KEY, "+
		"'analyst config set-secret identity.api_key <key>'%s", apiKeyHint())
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
