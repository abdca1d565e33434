package config

import (
	"fmt"
	"strings"
	"time"
)

const secretService = "mindflow"

type Config struct {
	Server    ServerConfig
	Assistant AssistantConfig
	Storage   StorageConfig
	Notify    NotifyConfig
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port        int
	DefaultUser string
}

type AssistantConfig struct {
	Backend     string // "openai" or "ollama"
	BaseURL     string // empty selects the backend's default endpoint
	Model       string // empty selects the backend's default model
	APIKey      string
	Temperature float64
}

type StorageConfig struct {
	DataDir string
}

type NotifyConfig struct {
	PollInterval string
	AutoGrant    bool
	WebhookURL   string
	PlaySound    bool
}

type ChatConfig struct {
	MaxSessions int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4100,
			DefaultUser: "local",
		},
		Assistant: AssistantConfig{
			Backend:     "openai",
			Temperature: 0.4,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Notify: NotifyConfig{
			PollInterval: "1s",
			AutoGrant:    true,
		},
		Chat: ChatConfig{
			MaxSessions: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.mindflow.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/mindflow/config.json
// and secrets come from environment variables or the secrets file.
//
// Environment variables (MINDFLOW_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Assistant.APIKey == "" {
		if key, err := kc.Get(secretService, "assistant_api_key"); err == nil && key != "" {
			cfg.Assistant.APIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	switch c.Assistant.Backend {
	case "openai":
		if c.Assistant.APIKey == "" {
			return fmt.Errorf("missing required config: assistant API key. "+
				"Set it via environment variable MINDFLOW_ASSISTANT_API_KEY%s", apiKeyHint())
		}
	case "ollama":
	default:
		return fmt.Errorf("invalid assistant.backend %q (want openai or ollama)", c.Assistant.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	return nil
}

// PollInterval parses notify.poll_interval.
func (c Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Notify.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid notify.poll_interval %q: %w", c.Notify.PollInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("notify.poll_interval must be positive, got %s", d)
	}
	return d, nil
}
