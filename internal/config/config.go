package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/RahulC-DG/VoiceCreation/internal/orchestration"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"PORT" default:"8080"`

	// Generation
	GenerationRoot string        `envconfig:"GENERATION_ROOT" default:"./generated"`
	ModelProvider  string        `envconfig:"MODEL_PROVIDER" default:"anthropic"`
	ModelAPIKey    string        `envconfig:"MODEL_API_KEY"`
	Model          string        `envconfig:"MODEL" default:"claude-sonnet-4-5"`
	ModelMaxTokens int           `envconfig:"MODEL_MAX_TOKENS" default:"16000"`
	ModelBaseURL   string        `envconfig:"MODEL_BASE_URL"`
	ModelTimeout   time.Duration `envconfig:"MODEL_TIMEOUT" default:"5m"`

	// Preview dev server. Commands are space separated; {port} is substituted.
	PortRangeStart int           `envconfig:"PREVIEW_PORT_START" default:"5173"`
	PortRangeEnd   int           `envconfig:"PREVIEW_PORT_END" default:"5273"`
	InstallCommand string        `envconfig:"PREVIEW_INSTALL_COMMAND" default:"npm install"`
	ServeCommand   string        `envconfig:"PREVIEW_SERVE_COMMAND" default:"npm run dev -- --port {port} --strictPort"`
	InstallTimeout time.Duration `envconfig:"PREVIEW_INSTALL_TIMEOUT" default:"5m"`
	ReadyTimeout   time.Duration `envconfig:"PREVIEW_READY_TIMEOUT" default:"2m"`
	ReadyKeywords  []string      `envconfig:"PREVIEW_READY_KEYWORDS" default:"ready,Local:"`
	PreviewHost    string        `envconfig:"PREVIEW_HOST" default:"localhost"`

	// Speech agent (optional; sessions run text-only without it)
	SpeechAgentURL      string `envconfig:"SPEECH_AGENT_URL"`
	SpeechAgentAPIKey   string `envconfig:"SPEECH_AGENT_API_KEY"`
	SpeechAgentSettings string `envconfig:"SPEECH_AGENT_SETTINGS_FILE"`

	// Optional integrations
	JWTSecret      string   `envconfig:"JWT_SECRET"`
	DatabaseURL    string   `envconfig:"DATABASE_URL"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.PortRangeStart <= 0 || c.PortRangeEnd > 65535 || c.PortRangeStart > c.PortRangeEnd {
		return fmt.Errorf("invalid preview port range %d-%d", c.PortRangeStart, c.PortRangeEnd)
	}
	if len(strings.Fields(c.ServeCommand)) == 0 {
		return fmt.Errorf("PREVIEW_SERVE_COMMAND must not be empty")
	}
	if c.GenerationRoot == "" {
		return fmt.Errorf("GENERATION_ROOT must not be empty")
	}
	return nil
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// AuthEnabled returns true if session tokens are required.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// HistoryEnabled returns true if runs are recorded in PostgreSQL.
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}

// SpeechAgentEnabled returns true if sessions are relayed to a speech agent.
func (c *Config) SpeechAgentEnabled() bool {
	return c.SpeechAgentURL != ""
}

// Supervisor builds the preview supervisor settings.
func (c *Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		InstallCommand: strings.Fields(c.InstallCommand),
		ServeCommand:   strings.Fields(c.ServeCommand),
		PortRangeStart: c.PortRangeStart,
		PortRangeEnd:   c.PortRangeEnd,
		InstallTimeout: c.InstallTimeout,
		ReadyTimeout:   c.ReadyTimeout,
		ReadyKeywords:  c.ReadyKeywords,
		Host:           c.PreviewHost,
	}
}

// Generator builds the model client settings.
func (c *Config) Generator() orchestration.GeneratorConfig {
	return orchestration.GeneratorConfig{
		Provider:  c.ModelProvider,
		APIKey:    c.ModelAPIKey,
		Model:     c.Model,
		MaxTokens: c.ModelMaxTokens,
		BaseURL:   c.ModelBaseURL,
		Timeout:   c.ModelTimeout,
	}
}

// SpeechAgent builds the upstream speech agent settings, reading the
// handshake file if one is configured.
func (c *Config) SpeechAgent() (orchestration.SpeechAgentConfig, error) {
	settings, err := orchestration.LoadSettings(c.SpeechAgentSettings)
	if err != nil {
		return orchestration.SpeechAgentConfig{}, err
	}
	return orchestration.SpeechAgentConfig{
		URL:      c.SpeechAgentURL,
		APIKey:   c.SpeechAgentAPIKey,
		Settings: settings,
	}, nil
}
