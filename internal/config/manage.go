package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range settings {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: s.get(cfg)})
	}
	return result
}

// SetKey validates value and writes it to the platform store.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformStore(), key, value)
}

func setKeyWith(st store, key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config set; use 'config set-secret' or environment variable %s", key, s.env)
	}
	var scratch Config
	if err := s.set(&scratch, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return st.Set(key, s.get(scratch))
}

// SetSecret writes a secret to the platform secret store.
func SetSecret(key, value string) error {
	switch key {
	case "identity.api_key":
		return keychainSet(secretService, secretAPIKeyName, value)
	default:
		return fmt.Errorf("unknown secret key: %q", key)
	}
}

// ValidKeys lists the keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range settings {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
