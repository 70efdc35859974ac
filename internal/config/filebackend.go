package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// fileStore is a flat JSON object of dotted keys. Numbers and booleans
// written by hand are accepted and read back as their string form.
type fileStore struct {
	path   string
	values map[string]any
}

func newFileStore(path string) *fileStore {
	fs := &fileStore{path: path, values: map[string]any{}}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		warn("reading %s: %v", path, err)
	default:
		if err := json.Unmarshal(data, &fs.values); err != nil {
			warn("parsing %s: %v", path, err)
		}
		if fs.values == nil {
			fs.values = map[string]any{}
		}
	}
	return fs
}

func (fs *fileStore) Get(key string) (string, bool, error) {
	v, ok := fs.values[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	default:
		return "", true, fmt.Errorf("unsupported value type %T for %s", v, key)
	}
}

func (fs *fileStore) Set(key, val string) error {
	fs.values[key] = val
	return fs.flush()
}

func (fs *fileStore) Delete(key string) error {
	delete(fs.values, key)
	return fs.flush()
}

func (fs *fileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(fs.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fs.path, data, 0o600)
}
