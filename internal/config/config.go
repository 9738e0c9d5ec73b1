package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTurnTimeout bounds the wall-clock budget of a single turn.
	DefaultTurnTimeout = 45 * time.Second
	// DefaultMaxSteps caps the agent's model/tool iterations per turn.
	DefaultMaxSteps = 8
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Supabase SupabaseConfig `yaml:"supabase"`
	Model    ModelConfig    `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SupabaseConfig locates the thread-persistence and bill-data backend.
// URL and Key fall back to the SUPABASE_URL and SUPABASE_KEY environment
// variables when unset in the file.
type SupabaseConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// ModelConfig captures the model-provider endpoint and model selections.
// APIKey falls back to the OPENAI_API_KEY environment variable.
type ModelConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	ChatModel      string `yaml:"chat_model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// AgentConfig tunes the turn pipeline.
type AgentConfig struct {
	MaxSteps           int  `yaml:"max_steps"`
	TurnTimeoutSeconds int  `yaml:"turn_timeout_seconds"`
	PostFormat         bool `yaml:"post_format"`
}

// TurnTimeout returns the configured per-turn budget or the default.
func (a AgentConfig) TurnTimeout() time.Duration {
	if a.TurnTimeoutSeconds <= 0 {
		return DefaultTurnTimeout
	}
	return time.Duration(a.TurnTimeoutSeconds) * time.Second
}

// Steps returns the configured step cap or the default.
func (a AgentConfig) Steps() int {
	if a.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return a.MaxSteps
}

// Load reads YAML configuration from disk, applies environment fallbacks
// for secrets, and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyEnvFallbacks()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvFallbacks() {
	if strings.TrimSpace(c.Supabase.URL) == "" {
		c.Supabase.URL = os.Getenv("SUPABASE_URL")
	}
	if strings.TrimSpace(c.Supabase.Key) == "" {
		c.Supabase.Key = os.Getenv("SUPABASE_KEY")
	}
	if strings.TrimSpace(c.Model.APIKey) == "" {
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if strings.TrimSpace(c.Supabase.URL) == "" {
		return fmt.Errorf("supabase.url must be provided (or set SUPABASE_URL)")
	}
	if strings.TrimSpace(c.Supabase.Key) == "" {
		return fmt.Errorf("supabase.key must be provided (or set SUPABASE_KEY)")
	}

	if strings.TrimSpace(c.Model.APIKey) == "" {
		return fmt.Errorf("model.api_key must be provided (or set OPENAI_API_KEY)")
	}
	if strings.TrimSpace(c.Model.BaseURL) == "" {
		return fmt.Errorf("model.base_url must be provided")
	}
	if strings.TrimSpace(c.Model.ChatModel) == "" {
		return fmt.Errorf("model.chat_model must be provided")
	}
	if strings.TrimSpace(c.Model.EmbeddingModel) == "" {
		return fmt.Errorf("model.embedding_model must be provided")
	}

	if c.Agent.TurnTimeoutSeconds < 0 {
		return fmt.Errorf("agent.turn_timeout_seconds must not be negative, got %d", c.Agent.TurnTimeoutSeconds)
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.max_steps must not be negative, got %d", c.Agent.MaxSteps)
	}

	return nil
}
