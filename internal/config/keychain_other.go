//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errSecretNotFound = errors.New("secret not found")

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "mindflow", "secrets.json")
}

// secretsFile is a 0600 JSON document of service -> account -> secret.
type secretsFile struct {
	path    string
	secrets map[string]map[string]string
}

func openSecretsFile(path string) (*secretsFile, error) {
	f := &secretsFile{path: path, secrets: make(map[string]map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &f.secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return f, nil
}

func (f *secretsFile) get(service, account string) (string, error) {
	val, ok := f.secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", service, account, errSecretNotFound)
	}
	return val, nil
}

func (f *secretsFile) set(service, account, value string) error {
	if f.secrets[service] == nil {
		f.secrets[service] = make(map[string]string)
	}
	f.secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(f.secrets, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func keychainGet(service, account string) ([]byte, error) {
	f, err := openSecretsFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, err := f.get(service, account)
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	f, err := openSecretsFile(secretsFilePath())
	if err != nil {
		return err
	}
	return f.set(service, account, value)
}
