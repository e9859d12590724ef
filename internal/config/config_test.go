package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ramify.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("PORT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Server.Port)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "env-key" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Completion.Temperature != 2 || cfg.Completion.TopK != 64 {
		t.Errorf("completion defaults = %+v", cfg.Completion)
	}
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("RAMIFY_TEST_KEY", "sk-from-env")
	t.Setenv("PORT", "")
	path := writeConfig(t, `{
		"server": {"port": ${RAMIFY_TEST_PORT:4100}, "log_level": "debug"},
		"providers": [{"id": "oa", "type": "openai", "api_key": "${RAMIFY_TEST_KEY}"}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("api key = %q", cfg.Providers[0].APIKey)
	}
}

func TestLoadPortEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	path := writeConfig(t, `{"server": {"port": 4100}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d, want 8081", cfg.Server.Port)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestLoadValidates(t *testing.T) {
	t.Setenv("PORT", "")
	cases := map[string]string{
		"unknown provider type": `{"providers": [{"id": "x", "type": "llama"}]}`,
		"slack without token":   `{"gateway": {"slack": {"enabled": true}}}`,
		"bad log level":         `{"server": {"log_level": "chatty"}}`,
		"malformed json":        `{"server": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadKeepsScheduleRaw(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, `{"session": {"schedule": {"morning": [{"name": "Aspirin"}]}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Session.Schedule) == 0 {
		t.Fatal("schedule not loaded")
	}
}

func TestLoadFileProvidersDoNotInheritDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-secret")
	t.Setenv("PORT", "")
	path := writeConfig(t, `{"providers": [{"id": "oa", "type": "openai"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	p := cfg.Providers[0]
	if p.APIKey != "" || p.Name != "" || p.Endpoint != "" {
		t.Errorf("openai provider inherited default gemini fields: %+v", p)
	}
}

func TestLoadFileWithoutProvidersKeepsDefault(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-secret")
	t.Setenv("PORT", "")
	path := writeConfig(t, `{"server": {"port": 4200}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Type != "gemini" || cfg.Providers[0].APIKey != "gem-secret" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
}
