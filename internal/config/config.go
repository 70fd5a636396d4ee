package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	otelcfg "github.com/basket/minder/internal/otel"
)

// LLMConfig holds completion-provider settings.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic",
	// "openai", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// TelegramConfig configures the inbound chat channel and push notifier.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	Name string `yaml:"name"`

	// MaxToolIterations caps model→tools round trips per turn. Default 5.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// ProviderAttempts bounds completion retries per call. Default 3.
	ProviderAttempts int `yaml:"provider_attempts"`

	// HistoryLimit is the number of stored messages loaded per turn. Default 40.
	HistoryLimit int `yaml:"history_limit"`
}

// RemindersConfig tunes the reminder engine.
type RemindersConfig struct {
	// DailyDigestCron is a 5-field cron expression for the digest trigger.
	// Default "0 8 * * *" (08:00 server time).
	DailyDigestCron string `yaml:"daily_digest_cron"`

	// SweepIntervalSeconds is the pre-event sweep tick interval. Default 60.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// DefaultWindowMinutes is the minimum look-ahead used when no user has a
	// larger configured offset. Default 60.
	DefaultWindowMinutes int `yaml:"default_window_minutes"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	LLM       LLMConfig       `yaml:"llm"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Agent     AgentConfig     `yaml:"agent"`
	Reminders RemindersConfig `yaml:"reminders"`
	OTel      otelcfg.Config  `yaml:"otel"`

	// Persona is the contents of $MINDER_HOME/PERSONA.md, used as the base
	// system prompt. Hot-reloadable via the watcher.
	Persona string `yaml:"-"`
}

// HomeDir resolves the data directory: $MINDER_HOME or ~/.minder.
func HomeDir() string {
	if v := strings.TrimSpace(os.Getenv("MINDER_HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".minder")
}

// PersonaPath returns the persona file location under the home directory.
func PersonaPath(homeDir string) string {
	return filepath.Join(homeDir, "PERSONA.md")
}

// Load reads config.yaml from the home directory, applies env overrides and
// defaults, and loads the persona file if present. A missing config file is
// not an error; defaults apply.
func Load() (*Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory, for tests.
func LoadFrom(homeDir string) (*Config, error) {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}

	cfg := &Config{HomeDir: homeDir}
	path := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.HomeDir = homeDir
	case os.IsNotExist(err):
		// First run: defaults only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if persona, err := os.ReadFile(PersonaPath(homeDir)); err == nil {
		cfg.Persona = strings.TrimSpace(string(persona))
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINDER_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("MINDER_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("MINDER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MINDER_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reminders.SweepIntervalSeconds = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "minder.db")
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Minder"
	}
	if cfg.Agent.MaxToolIterations <= 0 {
		cfg.Agent.MaxToolIterations = 5
	}
	if cfg.Agent.ProviderAttempts <= 0 {
		cfg.Agent.ProviderAttempts = 3
	}
	if cfg.Agent.HistoryLimit <= 0 {
		cfg.Agent.HistoryLimit = 40
	}
	if cfg.Reminders.DailyDigestCron == "" {
		cfg.Reminders.DailyDigestCron = "0 8 * * *"
	}
	if cfg.Reminders.SweepIntervalSeconds <= 0 {
		cfg.Reminders.SweepIntervalSeconds = 60
	}
	if cfg.Reminders.DefaultWindowMinutes <= 0 {
		cfg.Reminders.DefaultWindowMinutes = 60
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case "google", "anthropic", "openai", "openai_compatible", "openrouter":
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if cfg.Channels.Telegram.Enabled && strings.TrimSpace(cfg.Channels.Telegram.Token) == "" {
		return fmt.Errorf("telegram enabled but token is empty")
	}
	return nil
}
