package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers" validate:"dive"`
	Completion CompletionConfig `json:"completion"`
	Personas   PersonasConfig   `json:"personas"`
	Session    SessionConfig    `json:"session"`
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type ProviderConfig struct {
	ID       string            `json:"id" validate:"required"`
	Type     string            `json:"type" validate:"required,oneof=gemini openai anthropic"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint" validate:"omitempty,url"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// CompletionConfig controls how completions are requested.
type CompletionConfig struct {
	TimeoutSeconds   int                 `json:"timeout_seconds" validate:"gte=0"`
	Temperature      float64             `json:"temperature" validate:"gte=0,lte=2"`
	TopP             float64             `json:"top_p" validate:"gte=0,lte=1"`
	TopK             int                 `json:"top_k" validate:"gte=0"`
	MaxOutputTokens  int                 `json:"max_output_tokens" validate:"gte=0"`
	ResponseMIMEType string              `json:"response_mime_type"`
	Bindings         map[string]string   `json:"bindings,omitempty"`
	Models           map[string]string   `json:"models,omitempty"`
	Fallbacks        map[string][]string `json:"fallbacks,omitempty"`
}

// Timeout returns the completion timeout as a duration.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PersonasConfig overrides the embedded persona instructions.
type PersonasConfig struct {
	Instructions       map[string]string `json:"instructions,omitempty"`
	MedicationTemplate string            `json:"medication_template,omitempty"`
}

type SessionConfig struct {
	MaxHistory int             `json:"max_history" validate:"gte=0"`
	Schedule   json.RawMessage `json:"schedule,omitempty"`
}

type GatewayConfig struct {
	Slack             SlackGatewayConfig   `json:"slack"`
	Discord           DiscordGatewayConfig `json:"discord"`
	BroadcastReminder bool                 `json:"broadcast_reminders"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token" validate:"required_if=Enabled true"`
	AppToken string `json:"app_token" validate:"required_if=Enabled true"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token" validate:"required_if=Enabled true"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3000, LogLevel: "info"},
		Providers: []ProviderConfig{
			{ID: "gemini", Type: "gemini", Name: "Google Gemini", APIKey: os.Getenv("GEMINI_API_KEY")},
		},
		Completion: CompletionConfig{
			TimeoutSeconds:   120,
			Temperature:      2,
			TopP:             0.95,
			TopK:             64,
			MaxOutputTokens:  8192,
			ResponseMIMEType: "text/plain",
		},
		Database: DatabaseConfig{
			Redis: RedisConfig{Stream: "ramify:exchanges"},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references,
// applies GEMINI_API_KEY and PORT, and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		// Substitute ${VAR} and ${VAR:default} with environment values.
		resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
			parts := envVarRe.FindStringSubmatch(match)
			name := parts[1]
			defaultVal := parts[2]
			if v := os.Getenv(name); v != "" {
				return v
			}
			return defaultVal
		})
		// json reuses existing slice elements, so a file's providers would
		// inherit fields (and credentials) from the default entry.
		defaults := cfg.Providers
		cfg.Providers = nil
		if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if len(cfg.Providers) == 0 {
			cfg.Providers = defaults
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the process environment read once at start.
func applyEnv(cfg *Config) error {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].Type == "gemini" && cfg.Providers[i].APIKey == "" {
				cfg.Providers[i].APIKey = key
			}
		}
	}
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("parse PORT %q: %w", p, err)
		}
		cfg.Server.Port = port
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Database.Redis.Stream == "" {
		cfg.Database.Redis.Stream = "ramify:exchanges"
	}
	return nil
}
