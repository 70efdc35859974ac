package config

import (
	"fmt"
	"os"
	"strconv"
)

// setting binds a dotted key and its ANALYST_* variable to one Config field.
type setting struct {
	key    string
	env    string
	secret bool
	get    func(Config) string
	set    func(*Config, string) error
}

func text(key, env string, field func(*Config) *string) setting {
	return setting{
		key: key, env: env,
		get: func(c Config) string { return *field(&c) },
		set: func(c *Config, raw string) error {
			*field(c) = raw
			return nil
		},
	}
}

func number(key, env string, field func(*Config) *int) setting {
	return setting{
		key: key, env: env,
		get: func(c Config) string { return strconv.Itoa(*field(&c)) },
		set: func(c *Config, raw string) error {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("not an integer: %q", raw)
			}
			*field(c) = n
			return nil
		},
	}
}

func flag(key, env string, field func(*Config) *bool) setting {
	return setting{
		key: key, env: env,
		get: func(c Config) string { return strconv.FormatBool(*field(&c)) },
		set: func(c *Config, raw string) error {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("not a boolean: %q", raw)
			}
			*field(c) = b
			return nil
		},
	}
}

func secret(s setting) setting {
	s.secret = true
	return s
}

var settings = []setting{
	text("backend.url", "ANALYST_BACKEND_URL", func(c *Config) *string { return &c.Backend.URL }),
	text("identity.auth_url", "ANALYST_IDENTITY_AUTH_URL", func(c *Config) *string { return &c.Identity.AuthURL }),
	text("identity.token_url", "ANALYST_IDENTITY_TOKEN_URL", func(c *Config) *string { return &c.Identity.TokenURL }),
	secret(text("identity.api_key", "ANALYST_IDENTITY_API_KEY", func(c *Config) *string { return &c.Identity.APIKey })),
	text("log.level", "ANALYST_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	text("log.file", "ANALYST_LOG_FILE", func(c *Config) *string { return &c.Log.File }),
	number("stub.port", "ANALYST_STUB_PORT", func(c *Config) *int { return &c.Stub.Port }),
	text("stub.data_dir", "ANALYST_STUB_DATA_DIR", func(c *Config) *string { return &c.Stub.DataDir }),
	flag("tracing.enabled", "ANALYST_TRACING_ENABLED", func(c *Config) *bool { return &c.Tracing.Enabled }),
	text("tracing.endpoint", "ANALYST_TRACING_ENDPOINT", func(c *Config) *string { return &c.Tracing.Endpoint }),
}

func lookup(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// applyStore copies stored values into cfg. Secrets never live in the store.
// A value that does not parse keeps the default and is reported on stderr.
func applyStore(cfg *Config, st store) error {
	for _, s := range settings {
		if s.secret {
			continue
		}
		raw, ok, err := st.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		if err := s.set(cfg, raw); err != nil {
			warn("ignoring stored %s: %v", s.key, err)
		}
	}
	return nil
}

// applyEnv lets non-empty ANALYST_* variables win over stored values.
func applyEnv(cfg *Config) {
	for _, s := range settings {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if err := s.set(cfg, raw); err != nil {
			warn("ignoring %s: %v", s.env, err)
		}
	}
}

func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] config: "+format+"\n", args...)
}
