package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]string
}

func newMemBackend(kv map[string]string) *memBackend {
	if kv == nil {
		kv = map[string]string{}
	}
	return &memBackend{data: kv}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, err
	}
	return i, true, nil
}

func (b *memBackend) GetBool(key string) (bool, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, true, err
	}
	return parsed, true, nil
}

func (b *memBackend) GetFloat(key string) (float64, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, true, err
	}
	return f, true, nil
}

func (b *memBackend) SetBool(key string, val bool) error {
	b.data[key] = strconv.FormatBool(val)
	return nil
}

func (b *memBackend) SetFloat(key string, val float64) error {
	b.data[key] = strconv.FormatFloat(val, 'f', -1, 64)
	return nil
}

func (b *memBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *memBackend) SetInt(key string, val int) error {
	b.data[key] = strconv.Itoa(val)
	return nil
}

func (b *memBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

// mockKeychain is a test double for SecretStore.
type mockKeychain struct {
	secrets map[string]string
	setErr  error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.secrets == nil {
		m.secrets = map[string]string{}
	}
	m.secrets[service+"/"+account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("MINDFLOW_API_TOKEN", "")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.DefaultUser != "local" {
		t.Errorf("Server.DefaultUser = %q, want %q", cfg.Server.DefaultUser, "local")
	}
	if cfg.Assistant.Backend != "openai" {
		t.Errorf("Assistant.Backend = %q, want openai", cfg.Assistant.Backend)
	}
	if cfg.Assistant.Model != "" {
		t.Errorf("Assistant.Model = %q, want backend default", cfg.Assistant.Model)
	}
	if cfg.Assistant.Temperature != 0.4 {
		t.Errorf("Assistant.Temperature = %v, want 0.4", cfg.Assistant.Temperature)
	}
	if cfg.Notify.PollInterval != "1s" {
		t.Errorf("Notify.PollInterval = %q, want 1s", cfg.Notify.PollInterval)
	}
	if !cfg.Notify.AutoGrant {
		t.Error("Notify.AutoGrant = false, want true")
	}
	if cfg.Chat.MaxSessions != 256 {
		t.Errorf("Chat.MaxSessions = %d, want 256", cfg.Chat.MaxSessions)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]string{
		"server.port":           "5000",
		"assistant.backend":     "ollama",
		"assistant.temperature": "0.9",
		"storage.data_dir":      "/tmp/mindflow-test",
		"notify.auto_grant":     "false",
		"notify.poll_interval":  "250ms",
	})
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Assistant.Backend != "ollama" {
		t.Errorf("Assistant.Backend = %q, want ollama", cfg.Assistant.Backend)
	}
	if cfg.Assistant.Temperature != 0.9 {
		t.Errorf("Assistant.Temperature = %v, want 0.9", cfg.Assistant.Temperature)
	}
	if cfg.Storage.DataDir != "/tmp/mindflow-test" {
		t.Errorf("Storage.DataDir = %q, want /tmp/mindflow-test", cfg.Storage.DataDir)
	}
	if cfg.Notify.AutoGrant {
		t.Error("Notify.AutoGrant = true, want false")
	}
}

func TestBackendInvalidBoolIsError(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMemBackend(map[string]string{"notify.auto_grant": "maybe"}), &mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "notify.auto_grant") {
		t.Fatalf("error = %v, want one naming notify.auto_grant", err)
	}
}

func TestBackendInvalidIntIsError(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMemBackend(map[string]string{"server.port": "abc"}), &mockKeychain{})
	if err == nil {
		t.Fatal("expected error for non-integer port")
	}
	if !strings.Contains(err.Error(), "server.port") {
		t.Errorf("error %q should name the key", err)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINDFLOW_SERVER_PORT", "6000")
	t.Setenv("MINDFLOW_ASSISTANT_MODEL", "gpt-4o-mini")
	t.Setenv("MINDFLOW_NOTIFY_PLAY_SOUND", "true")
	t.Setenv("MINDFLOW_CHAT_MAX_SESSIONS", "not-a-number")

	b := newMemBackend(map[string]string{"server.port": "5000"})
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Assistant.Model != "gpt-4o-mini" {
		t.Errorf("Assistant.Model = %q, want gpt-4o-mini", cfg.Assistant.Model)
	}
	if !cfg.Notify.PlaySound {
		t.Error("Notify.PlaySound = false, want true")
	}
	if cfg.Chat.MaxSessions != 256 {
		t.Errorf("Chat.MaxSessions = %d, want default 256", cfg.Chat.MaxSessions)
	}
}

func TestAPIKeyFromEnvBeatsKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINDFLOW_ASSISTANT_API_KEY", "env-key")

	kc := &mockKeychain{secrets: map[string]string{"mindflow/assistant_api_key": "kc-key"}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Assistant.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Assistant.APIKey)
	}
}

func TestAPIKeyFromKeychain(t *testing.T) {
	clearEnv(t)

	kc := &mockKeychain{secrets: map[string]string{"mindflow/assistant_api_key": " kc-key\n"}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Assistant.APIKey != "kc-key" {
		t.Errorf("APIKey = %q, want kc-key", cfg.Assistant.APIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := defaults()
	valid.Assistant.APIKey = "k"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "openai without key", mutate: func(c *Config) { c.Assistant.APIKey = "" }, wantErr: "API key"},
		{name: "ollama without key", mutate: func(c *Config) { c.Assistant.Backend = "ollama"; c.Assistant.APIKey = "" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Assistant.Backend = "bard" }, wantErr: "assistant.backend"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "bad poll interval", mutate: func(c *Config) { c.Notify.PollInterval = "soon" }, wantErr: "poll_interval"},
		{name: "negative poll interval", mutate: func(c *Config) { c.Notify.PollInterval = "-1s" }, wantErr: "positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(b, "notify.auto_grant", "0"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKeyWith(b, "assistant.temperature", "0.25"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if b.data["server.port"] != "4200" || b.data["notify.auto_grant"] != "false" || b.data["assistant.temperature"] != "0.25" {
		t.Errorf("backend data = %v", b.data)
	}

	if err := setKeyWith(b, "server.port", "x"); err == nil {
		t.Error("expected error for invalid int")
	}
	if err := setKeyWith(b, "assistant.api_key", "secret"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKeyWith(b, "no.such.key", "v"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := newMemBackend(map[string]string{"server.port": "5000"})

	if err := unsetKeyWith(b, "server.port"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default after unset", cfg.Server.Port)
	}
	if err := unsetKeyWith(b, "assistant.api_key"); err == nil {
		t.Error("expected error for secret key")
	}
}

func TestShowAllOmitsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Assistant.APIKey = "super-secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "assistant.api_key" || k.Value == "super-secret" {
			t.Fatalf("secret leaked in ShowAll: %+v", k)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree")
	}
}

func TestGetAPIToken(t *testing.T) {
	clearEnv(t)

	kc := &mockKeychain{}
	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Error("expected stored token to be reused")
	}

	t.Setenv("MINDFLOW_API_TOKEN", "from-env")
	got, err := GetAPIToken(kc)
	if err != nil || got != "from-env" {
		t.Errorf("GetAPIToken = %q, %v; want from-env", got, err)
	}
}

func TestGetAPITokenStoreFailure(t *testing.T) {
	clearEnv(t)

	_, err := GetAPIToken(&mockKeychain{setErr: errors.New("locked")})
	if err == nil {
		t.Fatal("expected error when the token cannot be stored")
	}
}
