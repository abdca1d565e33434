package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// SecretStore reads and writes secrets by service and account.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type keychain struct{}

// NewKeychain returns the platform secret store: the macOS Keychain on
// darwin and a 0600 JSON secrets file elsewhere.
func NewKeychain() SecretStore {
	return keychain{}
}

func (keychain) Get(service, account string) (string, error) {
	b, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token guarding the HTTP API. MINDFLOW_API_TOKEN
// wins; otherwise the stored token is used, and on first run a new random
// token is generated and stored.
func GetAPIToken(kc SecretStore) (string, error) {
	if tok := strings.TrimSpace(os.Getenv("MINDFLOW_API_TOKEN")); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(secretService, "api_token"); err == nil && strings.TrimSpace(tok) != "" {
		return strings.TrimSpace(tok), nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(secretService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
