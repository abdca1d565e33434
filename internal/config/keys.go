package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MINDFLOW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.default_user", typ: kString, env: "MINDFLOW_SERVER_DEFAULT_USER",
		apply:   func(cfg *Config, v any) { cfg.Server.DefaultUser = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.DefaultUser },
	},
	{
		key: "assistant.backend", typ: kString, env: "MINDFLOW_ASSISTANT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Backend },
	},
	{
		key: "assistant.base_url", typ: kString, env: "MINDFLOW_ASSISTANT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Assistant.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.BaseURL },
	},
	{
		key: "assistant.model", typ: kString, env: "MINDFLOW_ASSISTANT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Model },
	},
	{
		key: "assistant.api_key", typ: kString, env: "MINDFLOW_ASSISTANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Assistant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.APIKey },
	},
	{
		key: "assistant.temperature", typ: kFloat, env: "MINDFLOW_ASSISTANT_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Assistant.Temperature },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MINDFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "notify.poll_interval", typ: kString, env: "MINDFLOW_NOTIFY_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Notify.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.PollInterval },
	},
	{
		key: "notify.auto_grant", typ: kBool, env: "MINDFLOW_NOTIFY_AUTO_GRANT",
		apply:   func(cfg *Config, v any) { cfg.Notify.AutoGrant = v.(bool) },
		extract: func(cfg Config) any { return cfg.Notify.AutoGrant },
	},
	{
		key: "notify.webhook_url", typ: kString, env: "MINDFLOW_NOTIFY_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookURL },
	},
	{
		key: "notify.play_sound", typ: kBool, env: "MINDFLOW_NOTIFY_PLAY_SOUND",
		apply:   func(cfg *Config, v any) { cfg.Notify.PlaySound = v.(bool) },
		extract: func(cfg Config) any { return cfg.Notify.PlaySound },
	},
	{
		key: "chat.max_sessions", typ: kInt, env: "MINDFLOW_CHAT_MAX_SESSIONS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxSessions = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxSessions },
	},
	{
		key: "log.level", typ: kString, env: "MINDFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		switch s.typ {
		case kString:
			v, ok, err = b.GetString(s.key)
		case kInt:
			v, ok, err = b.GetInt(s.key)
		case kBool:
			v, ok, err = b.GetBool(s.key)
		case kFloat:
			v, ok, err = b.GetFloat(s.key)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
