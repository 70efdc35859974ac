//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// Without a system keychain, secrets go to a separate 0600 JSON file under
// $XDG_DATA_HOME, keyed "service/account".
func secretStore() *fileStore {
	return newFileStore(filepath.Join(xdgDir("XDG_DATA_HOME", ".local/share"), "analyst", "secrets.json"))
}

func keychainGet(service, account string) ([]byte, error) {
	val, ok, err := secretStore().Get(service + "/" + account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no secret stored for %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	return secretStore().Set(service+"/"+account, value)
}
